// Package idle implements the idle-connection tracker (§4.7): a
// doubly linked list ordered by last-active time ascending, with
// intrusive per-connection handles for O(1) touch/remove. The
// intrusive handle is realized with stdlib container/list's
// *list.Element, exactly the pointer-to-own-node pattern spec.md §9
// describes.
package idle

import (
	"container/list"
	"time"
)

// Handle identifies an item's position in the tracker, enabling O(1)
// touch/remove without a list scan.
type Handle struct {
	elem *list.Element
}

// Valid reports whether h was returned by Add. A handle is not cleared
// when its item is removed or collected, so Valid stays true afterwards;
// Touch and Remove on such a handle are no-ops.
func (h Handle) Valid() bool {
	return h.elem != nil
}

type entry struct {
	item       interface{}
	lastActive time.Time
}

// Tracker orders tracked items by last-active time ascending (head
// oldest, tail newest).
type Tracker struct {
	list    *list.List
	timeout time.Duration
}

// New creates a tracker that considers an item idle after timeout of
// inactivity.
func New(timeout time.Duration) *Tracker {
	return &Tracker{list: list.New(), timeout: timeout}
}

// Add registers item as newly active and returns its handle.
func (t *Tracker) Add(item interface{}, now time.Time) Handle {
	elem := t.list.PushBack(&entry{item: item, lastActive: now})
	return Handle{elem: elem}
}

// Touch updates h's last-active time and moves it to the tail in O(1).
func (t *Tracker) Touch(h Handle, now time.Time) {
	if !h.Valid() {
		return
	}
	e := h.elem.Value.(*entry)
	e.lastActive = now
	t.list.MoveToBack(h.elem)
}

// Remove detaches h from the tracker. Safe to call on an
// already-removed handle.
func (t *Tracker) Remove(h Handle) {
	if !h.Valid() {
		return
	}
	t.list.Remove(h.elem)
}

// Len returns the number of tracked items.
func (t *Tracker) Len() int {
	return t.list.Len()
}

// CollectIdle walks from the head while now-lastActive exceeds the
// configured timeout, detaching and returning each idle item. Early
// termination at the first non-idle node is correct because the list
// is always ordered by last-active time (§4.7).
func (t *Tracker) CollectIdle(now time.Time) []interface{} {
	var idle []interface{}
	for e := t.list.Front(); e != nil; {
		next := e.Next()
		ent := e.Value.(*entry)
		if now.Sub(ent.lastActive) <= t.timeout {
			break
		}
		idle = append(idle, ent.item)
		t.list.Remove(e)
		e = next
	}
	return idle
}

// NextDeadline returns the duration until the head item becomes idle,
// or defaultTimeout if the tracker is empty.
func (t *Tracker) NextDeadline(now time.Time, defaultTimeout time.Duration) time.Duration {
	front := t.list.Front()
	if front == nil {
		return defaultTimeout
	}
	ent := front.Value.(*entry)
	d := ent.lastActive.Add(t.timeout).Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// Ordered reports whether the list's last-active order is
// non-decreasing head to tail; used by property tests (P8).
func (t *Tracker) Ordered() bool {
	var prev time.Time
	first := true
	for e := t.list.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if !first && ent.lastActive.Before(prev) {
			return false
		}
		prev = ent.lastActive
		first = false
	}
	return true
}
