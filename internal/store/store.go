// Package store implements the key-space store (§4.5): a single
// authoritative key→Entry mapping with atomic lazy expiry on every
// accessor.
package store

import (
	"sync"
	"time"

	"github.com/behrlich/go-kvd/internal/zset"
)

// Type tags the variant held by an Entry's Value.
type Type int

const (
	TypeNone Type = iota
	TypeString
	TypeInteger
	TypeDouble
	TypeZSet
)

// Entry is the unit of keyspace storage: a tagged-union value plus its
// absolute expiration. Numeric variants (Int, Float) are stored
// inline in the struct — never boxed — so counter-style workloads are
// allocation-free (§9).
type Entry struct {
	Type Type

	Str   string
	Int   int64
	Float float64
	ZSet  *zset.Set

	// ExpireAt is the absolute expiration instant. The zero Time
	// value means "persistent".
	ExpireAt time.Time
}

// Persistent reports whether the entry never expires.
func (e Entry) Persistent() bool {
	return e.ExpireAt.IsZero()
}

// expired reports whether e's absolute expiration has passed as of now.
func (e Entry) expired(now time.Time) bool {
	return !e.Persistent() && now.After(e.ExpireAt)
}

// LookupResult distinguishes "absent" from "wrong type" for
// type-checked accessors (§4.5 get_typed).
type LookupResult int

const (
	Found LookupResult = iota
	Absent
	WrongType
)

// Store is the single authoritative keyspace mapping. All accessors
// take the store lock and perform atomic lazy expiry: if a looked-up
// entry's ExpireAt has passed, it is removed under the same lock and
// reported absent. This closes the time-of-check/time-of-use race
// between the active-expiration sweep and concurrent lookups (§4.5).
//
// In the reference single-threaded event-loop realization (§5) this
// lock is uncontended; it is still taken so the store is safe to use
// from tests and from the destructor handoff path without additional
// synchronization.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry

	// onExpire, if set, is invoked (still holding the lock) whenever
	// an entry is lazily removed, so callers can route large values to
	// the size-adaptive destructor instead of letting Go's GC tear
	// them down inline.
	onExpire func(key string, e *Entry)
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// SetExpireCallback installs a hook invoked with the removed entry
// whenever an accessor lazily removes an expired entry. Explicit
// removals through Remove do not invoke it; Remove returns the entry
// to its caller instead.
func (s *Store) SetExpireCallback(fn func(key string, e *Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// lookupLocked returns the live entry for key, removing and reporting
// it expired if its time has passed. Caller must hold s.mu.
func (s *Store) lookupLocked(key string, now time.Time) (*Entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		if s.onExpire != nil {
			s.onExpire(key, e)
		}
		return nil, false
	}
	return e, true
}

// Get returns the stored entry for key, or ok=false if absent or
// lazily expired.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GetTyped returns the entry for key only if its type matches
// expected; distinguishes absent/expired (Absent) from a type
// mismatch (WrongType) per §4.5.
func (s *Store) GetTyped(key string, expected Type) (Entry, LookupResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return Entry{}, Absent
	}
	if e.Type != expected {
		return Entry{}, WrongType
	}
	return *e, Found
}

// Set overwrites key's entire entry, including type and expiration.
func (s *Store) Set(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := e
	s.entries[key] = &entry
}

// SetPreservingTTL overwrites key's value and type but keeps any
// existing (live) expiration; if key is absent the new entry is
// persistent.
func (s *Store) SetPreservingTTL(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.lookupLocked(key, time.Now()); ok {
		e.ExpireAt = existing.ExpireAt
	}
	entry := e
	s.entries[key] = &entry
}

// Remove deletes key and returns the removed entry, so the caller can
// route it to the size-adaptive destructor (§4.8). ok is false iff key
// was absent or already lazily expired.
func (s *Store) Remove(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return Entry{}, false
	}
	delete(s.entries, key)
	return *e, true
}

// Exists reports whether key is present and live.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookupLocked(key, time.Now())
	return ok
}

// SetExpireAt sets key's absolute expiration in place, preserving
// value and type. No-op if key is absent.
func (s *Store) SetExpireAt(key string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return false
	}
	e.ExpireAt = at
	return true
}

// ExpireAtOf returns key's absolute expiration and whether key exists;
// a present, persistent key returns the zero Time.
func (s *Store) ExpireAtOf(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookupLocked(key, time.Now())
	if !ok {
		return time.Time{}, false
	}
	return e.ExpireAt, true
}

// IterateKeys returns a snapshot of all keys currently stored. Entries
// may lazily expire on their next individual access (§4.5).
func (s *Store) IterateKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the number of entries currently stored (including any
// not-yet-lazily-expired ones).
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
