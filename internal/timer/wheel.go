// Package timer keeps named expiring callbacks per key.
//
// Each key (a session ID, or a process-wide key) may own several independently
// named timers such as "recv" and "send". Setting a timer that already exists
// replaces it. Expired timers fire in ascending deadline order; timers sharing
// a deadline fire in the order they were set.
package timer

import (
	"container/heap"
	"time"

	"github.com/benbjohnson/clock"
)

type entry struct {
	key   string
	name  string
	at    time.Time
	seq   uint64
	fn    func()
	index int
}

// Wheel is not safe for concurrent use; it is driven from the reactor goroutine.
type Wheel struct {
	clock   clock.Clock
	seq     uint64
	entries entryHeap
	byKey   map[string]map[string]*entry
}

// New returns an empty wheel reading time from clk.
func New(clk clock.Clock) *Wheel {
	if clk == nil {
		clk = clock.New()
	}
	return &Wheel{
		clock: clk,
		byKey: make(map[string]map[string]*entry),
	}
}

// Now returns the wheel's current time.
func (w *Wheel) Now() time.Time {
	return w.clock.Now()
}

// Set installs fn to run once d from now under (key, name), cancelling any
// timer previously set under the same pair.
func (w *Wheel) Set(key, name string, d time.Duration, fn func()) {
	w.Cancel(key, name)

	w.seq++
	e := &entry{
		key:  key,
		name: name,
		at:   w.clock.Now().Add(d),
		seq:  w.seq,
		fn:   fn,
	}
	heap.Push(&w.entries, e)

	names, ok := w.byKey[key]
	if !ok {
		names = make(map[string]*entry)
		w.byKey[key] = names
	}
	names[name] = e
}

// Cancel removes the timer under (key, name). It reports whether one existed.
func (w *Wheel) Cancel(key, name string) bool {
	names, ok := w.byKey[key]
	if !ok {
		return false
	}
	e, ok := names[name]
	if !ok {
		return false
	}
	w.remove(e)
	return true
}

// CancelAll removes every timer under key.
func (w *Wheel) CancelAll(key string) {
	for _, e := range w.byKey[key] {
		w.remove(e)
	}
}

// Pending returns the deadline of the timer under (key, name).
func (w *Wheel) Pending(key, name string) (time.Time, bool) {
	e, ok := w.byKey[key][name]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// NextDeadline returns the earliest deadline across all of key's timers.
func (w *Wheel) NextDeadline(key string) (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, e := range w.byKey[key] {
		if !found || e.at.Before(next) {
			next = e.at
			found = true
		}
	}
	return next, found
}

// Next returns the earliest deadline across every key.
func (w *Wheel) Next() (time.Time, bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].at, true
}

// Len returns the number of pending timers.
func (w *Wheel) Len() int {
	return len(w.entries)
}

// Fire runs every timer whose deadline has passed and returns how many ran.
// Each entry is removed before its callback runs, so callbacks may set the
// same (key, name) again. Timers set by a callback wait for the next Fire
// even when already due.
func (w *Wheel) Fire() int {
	now := w.clock.Now()
	limit := w.seq
	fired := 0

	for len(w.entries) > 0 {
		e := w.entries[0]
		if e.at.After(now) || e.seq > limit {
			break
		}
		w.remove(e)
		fired++
		e.fn()
	}
	return fired
}

func (w *Wheel) remove(e *entry) {
	if e.index >= 0 {
		heap.Remove(&w.entries, e.index)
	}
	if names, ok := w.byKey[e.key]; ok {
		if cur, ok := names[e.name]; ok && cur == e {
			delete(names, e.name)
		}
		if len(names) == 0 {
			delete(w.byKey, e.key)
		}
	}
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
