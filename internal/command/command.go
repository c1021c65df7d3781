// Package command implements the command dispatcher (§4.9): a
// case-insensitive name→handler table whose handlers receive a
// Context exposing the store, the expiration engine, the destructor
// and the response encoder, and each produce exactly one response
// frame appended to the connection's write buffer.
package command

import (
	"strconv"
	"time"

	kvd "github.com/behrlich/go-kvd"
	"github.com/behrlich/go-kvd/internal/destroy"
	"github.com/behrlich/go-kvd/internal/expire"
	"github.com/behrlich/go-kvd/internal/store"
	"github.com/behrlich/go-kvd/internal/wire"
	"github.com/behrlich/go-kvd/internal/zset"
)

// Options configures dispatch-time behavior left as a documented
// choice (§4.17).
type Options struct {
	// RedisCompatibleSET makes SET respond with the status string "OK"
	// instead of the default Nil response. Off by default so the wire
	// contract matches §4.9 exactly out of the box.
	RedisCompatibleSET bool
}

// Context is the per-invocation environment a Handler runs in. It
// never outlives a single command dispatch.
type Context struct {
	Store     *store.Store
	Expire    *expire.Engine
	Destroy   *destroy.Destructor
	Metrics   *kvd.Metrics
	Options   Options
	Now       time.Time
	Args      [][]byte // Args[0] is the command name; Args[1:] are parameters
	RespondTo []byte   // growable response buffer; handlers append to it
}

// Handler executes one command and appends exactly one response frame
// to ctx.RespondTo, returning the (possibly reallocated) slice.
type Handler func(ctx *Context) []byte

// Dispatcher holds the case-insensitive command table (§4.9).
type Dispatcher struct {
	handlers map[string]Handler
}

// New builds the dispatcher with all required commands registered.
func New() *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler)}
	d.register("PING", cmdPing)
	d.register("ECHO", cmdEcho)
	d.register("GET", cmdGet)
	d.register("SET", cmdSet)
	d.register("DEL", cmdDel)
	d.register("EXISTS", cmdExists)
	d.register("KEYS", cmdKeys)
	d.register("EXPIRE", cmdExpire)
	d.register("TTL", cmdTTL)
	d.register("ZADD", cmdZAdd)
	d.register("ZRANGE", cmdZRange)
	return d
}

func (d *Dispatcher) register(name string, h Handler) {
	d.handlers[name] = h
}

// Dispatch looks up args[0] (already uppercased by the wire parser's
// normalizeCommandName) and runs its handler, or appends an
// "Unknown cmd" error frame if no handler matches (§4.9). A frame with
// zero args has no command name to look up and is treated the same
// way.
func (d *Dispatcher) Dispatch(ctx *Context) []byte {
	if len(ctx.Args) == 0 {
		return wire.AppendError(ctx.RespondTo, kvd.ErrCodeUnknownCommand.WireCode())
	}
	name := string(ctx.Args[0])
	h, ok := d.handlers[name]
	if !ok {
		return wire.AppendError(ctx.RespondTo, kvd.ErrCodeUnknownCommand.WireCode())
	}
	return h(ctx)
}

func arityError(buf []byte) []byte {
	return wire.AppendError(buf, kvd.ErrCodeBadArity.WireCode())
}

func wrongTypeError(buf []byte) []byte {
	return wire.AppendError(buf, kvd.ErrCodeWrongType.WireCode())
}

func cmdPing(ctx *Context) []byte {
	if len(ctx.Args) != 1 {
		return arityError(ctx.RespondTo)
	}
	return wire.AppendString(ctx.RespondTo, "PONG")
}

func cmdEcho(ctx *Context) []byte {
	if len(ctx.Args) != 2 {
		return arityError(ctx.RespondTo)
	}
	return wire.AppendStringBytes(ctx.RespondTo, ctx.Args[1])
}

func cmdGet(ctx *Context) []byte {
	if len(ctx.Args) != 2 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	e, result := ctx.Store.GetTyped(key, store.TypeString)
	switch result {
	case store.Found:
		return wire.AppendString(ctx.RespondTo, e.Str)
	case store.WrongType:
		return wrongTypeError(ctx.RespondTo)
	default:
		return wire.AppendNil(ctx.RespondTo)
	}
}

func cmdSet(ctx *Context) []byte {
	if len(ctx.Args) != 3 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	ctx.Store.Set(key, store.Entry{Type: store.TypeString, Str: string(ctx.Args[2])})
	ctx.Expire.RemoveExpiration(key)

	if ctx.Options.RedisCompatibleSET {
		return wire.AppendString(ctx.RespondTo, "OK")
	}
	return wire.AppendNil(ctx.RespondTo)
}

func cmdDel(ctx *Context) []byte {
	if len(ctx.Args) != 2 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	e, ok := ctx.Store.Remove(key)
	if !ok {
		return wire.AppendInteger(ctx.RespondTo, 0)
	}
	ctx.Expire.RemoveExpiration(key)
	destroyEntry(ctx, &e)
	return wire.AppendInteger(ctx.RespondTo, 1)
}

func cmdExists(ctx *Context) []byte {
	if len(ctx.Args) != 2 {
		return arityError(ctx.RespondTo)
	}
	if ctx.Store.Exists(string(ctx.Args[1])) {
		return wire.AppendInteger(ctx.RespondTo, 1)
	}
	return wire.AppendInteger(ctx.RespondTo, 0)
}

func cmdKeys(ctx *Context) []byte {
	if len(ctx.Args) != 1 {
		return arityError(ctx.RespondTo)
	}
	keys := ctx.Store.IterateKeys()
	buf := wire.AppendArrayHeader(ctx.RespondTo, len(keys))
	for _, k := range keys {
		buf = wire.AppendString(buf, k)
	}
	return buf
}

func cmdExpire(ctx *Context) []byte {
	if len(ctx.Args) != 3 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	seconds, err := strconv.ParseInt(string(ctx.Args[2]), 10, 64)
	if err != nil {
		return wire.AppendError(ctx.RespondTo, kvd.ErrCodeBadInteger.WireCode())
	}
	at := ctx.Now.Add(time.Duration(seconds) * time.Second)
	if !ctx.Store.SetExpireAt(key, at) {
		return wire.AppendInteger(ctx.RespondTo, 0)
	}
	ctx.Expire.SetExpirationAt(key, at)
	return wire.AppendInteger(ctx.RespondTo, 1)
}

func cmdTTL(ctx *Context) []byte {
	if len(ctx.Args) != 2 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	at, ok := ctx.Store.ExpireAtOf(key)
	if !ok {
		return wire.AppendInteger(ctx.RespondTo, -2)
	}
	if at.IsZero() {
		return wire.AppendInteger(ctx.RespondTo, -1)
	}
	remaining := at.Sub(ctx.Now)
	if remaining < 0 {
		remaining = 0
	}
	return wire.AppendInteger(ctx.RespondTo, int64(remaining/time.Second))
}

func cmdZAdd(ctx *Context) []byte {
	if len(ctx.Args) != 4 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	score, err := strconv.ParseFloat(string(ctx.Args[2]), 64)
	if err != nil {
		return wire.AppendError(ctx.RespondTo, kvd.ErrCodeBadInteger.WireCode())
	}
	member := string(ctx.Args[3])

	e, result := ctx.Store.GetTyped(key, store.TypeZSet)
	switch result {
	case store.WrongType:
		return wrongTypeError(ctx.RespondTo)
	case store.Absent:
		e = store.Entry{Type: store.TypeZSet, ZSet: zset.New()}
	}

	added := e.ZSet.Add(member, score)
	ctx.Store.SetPreservingTTL(key, e)
	if added {
		return wire.AppendInteger(ctx.RespondTo, 1)
	}
	return wire.AppendInteger(ctx.RespondTo, 0)
}

func cmdZRange(ctx *Context) []byte {
	if len(ctx.Args) != 4 {
		return arityError(ctx.RespondTo)
	}
	key := string(ctx.Args[1])
	start, err := strconv.Atoi(string(ctx.Args[2]))
	if err != nil {
		return wire.AppendError(ctx.RespondTo, kvd.ErrCodeBadInteger.WireCode())
	}
	stop, err := strconv.Atoi(string(ctx.Args[3]))
	if err != nil {
		return wire.AppendError(ctx.RespondTo, kvd.ErrCodeBadInteger.WireCode())
	}

	e, result := ctx.Store.GetTyped(key, store.TypeZSet)
	switch result {
	case store.WrongType:
		return wrongTypeError(ctx.RespondTo)
	case store.Absent:
		return wire.AppendArrayHeader(ctx.RespondTo, 0)
	}

	members := e.ZSet.Range(start, stop)
	buf := wire.AppendArrayHeader(ctx.RespondTo, len(members))
	for _, m := range members {
		buf = wire.AppendString(buf, m)
	}
	return buf
}

// destroyEntry routes a removed entry's value to the size-adaptive
// destructor (C8) when it crosses the large-value threshold (§4.8),
// otherwise it is simply dropped for Go's GC to reclaim inline.
func destroyEntry(ctx *Context, e *store.Entry) {
	if e.Type != store.TypeZSet || e.ZSet == nil {
		return
	}
	n := e.ZSet.Len()
	async := destroy.ShouldDestroyAsync(n, true)
	if ctx.Metrics != nil {
		ctx.Metrics.ObserveDestroy(async)
	}
	if !async {
		return
	}
	z := e.ZSet
	ctx.Destroy.Submit(func() {
		_ = z // referenced so the closure owns the value; teardown is GC-driven
	})
}
