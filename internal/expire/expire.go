// Package expire implements the expiration subsystem (§4.6): a
// min-heap of (expire_at, key) pairs used only to drive the active
// sweep, validated against an authoritative key→expire_at map on pop
// so stale duplicates left by overwritten TTLs are silently discarded.
package expire

import (
	"container/heap"
	"time"

	"github.com/behrlich/go-kvd/internal/constants"
)

// heapEntry is one (expire_at, key) pair living in the priority queue.
// The heap may contain stale duplicates for a key whose expiration was
// since changed or cleared (§3, §4.6) — only the authoritative map is
// trusted.
type heapEntry struct {
	expireAt time.Time
	key      string
}

// minHeap is a container/heap.Interface ordered by expireAt ascending.
type minHeap []heapEntry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].expireAt.Before(h[j].expireAt) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Engine tracks per-key absolute expiration and drives active
// expiration sweeps. The authoritative source of truth is the
// authoritative map, not the heap (§4.6).
type Engine struct {
	h             minHeap
	authoritative map[string]time.Time
}

// New creates an empty expiration engine.
func New() *Engine {
	e := &Engine{authoritative: make(map[string]time.Time)}
	heap.Init(&e.h)
	return e
}

// SetExpiration records key's absolute expiration as now+delta and
// pushes a new heap entry. A prior heap entry for key, if any, is
// never removed — it is filtered as stale garbage when it is popped
// (§4.6: "do not attempt to remove a prior heap entry").
func (e *Engine) SetExpiration(key string, delta time.Duration, now time.Time) time.Time {
	expireAt := now.Add(delta)
	e.authoritative[key] = expireAt
	heap.Push(&e.h, heapEntry{expireAt: expireAt, key: key})
	return expireAt
}

// SetExpirationAt is SetExpiration for an already-computed absolute
// deadline, used when a caller (e.g. the store) already owns the
// Entry.ExpireAt value.
func (e *Engine) SetExpirationAt(key string, at time.Time) {
	e.authoritative[key] = at
	heap.Push(&e.h, heapEntry{expireAt: at, key: key})
}

// RemoveExpiration clears key's authoritative expiration (marks it
// persistent). Heap entries are left for lazy filtering.
func (e *Engine) RemoveExpiration(key string) {
	delete(e.authoritative, key)
}

// IsExpired is a pure O(1) comparison against the authoritative value;
// a key with no authoritative entry (persistent, or never tracked) is
// never expired.
func (e *Engine) IsExpired(key string, now time.Time) bool {
	at, ok := e.authoritative[key]
	return ok && now.After(at)
}

// GetTTL returns the remaining time-to-live for key: ok=false if key
// has no authoritative expiration (persistent or untracked); a
// non-positive remainder is clamped to 0.
func (e *Engine) GetTTL(key string, now time.Time) (time.Duration, bool) {
	at, ok := e.authoritative[key]
	if !ok {
		return 0, false
	}
	remaining := at.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// NextDeadline returns the duration until the next expiration, or the
// package default long timeout if the heap is empty. The returned
// duration is always >= 0.
func (e *Engine) NextDeadline(now time.Time) time.Duration {
	if e.h.Len() == 0 {
		return constants.DefaultSelectTimeout
	}
	d := e.h[0].expireAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// SweepExpired pops and validates heap entries whose priority has
// passed, removing authoritative entries that are genuinely still
// expired at that priority and discarding stale garbage, bounded by
// constants.SweepWorkQuota keys per call (§4.6).
func (e *Engine) SweepExpired(now time.Time) []string {
	var expired []string
	for i := 0; i < constants.SweepWorkQuota && e.h.Len() > 0; i++ {
		root := e.h[0]
		if root.expireAt.After(now) {
			break
		}
		heap.Pop(&e.h)

		at, ok := e.authoritative[root.key]
		if !ok || !at.Equal(root.expireAt) || at.After(now) {
			continue // stale garbage: authoritative value disagrees, is already gone, or was refreshed later
		}
		delete(e.authoritative, root.key)
		expired = append(expired, root.key)
	}
	return expired
}
