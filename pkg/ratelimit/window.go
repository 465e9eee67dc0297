// Package ratelimit implements the admission guard that keeps outbound
// requests within the API's per-window quota. Callers are never rejected,
// only delayed until a slot in the sliding window frees up.
package ratelimit

import (
	"time"
)

// AccessWindow holds the timestamps of the most recent admissions,
// oldest first. It is a fixed-capacity ring: pushing into a full window
// evicts the oldest timestamp.
//
// AccessWindow is not safe for concurrent use; Guard serializes access.
type AccessWindow struct {
	stamps []time.Time
	head   int // index of the oldest timestamp
	size   int
}

// NewAccessWindow creates an empty window holding at most capacity timestamps.
func NewAccessWindow(capacity int) *AccessWindow {
	return &AccessWindow{stamps: make([]time.Time, capacity)}
}

// Len returns the number of timestamps currently held.
func (w *AccessWindow) Len() int {
	return w.size
}

// Cap returns the window capacity.
func (w *AccessWindow) Cap() int {
	return len(w.stamps)
}

// Full reports whether the window holds Cap() timestamps.
func (w *AccessWindow) Full() bool {
	return w.size == len(w.stamps)
}

// Oldest returns the oldest retained timestamp, or the zero time when empty.
func (w *AccessWindow) Oldest() time.Time {
	if w.size == 0 {
		return time.Time{}
	}
	return w.stamps[w.head]
}

// Push appends t as the newest timestamp, evicting the oldest one when full.
func (w *AccessWindow) Push(t time.Time) {
	if w.size < len(w.stamps) {
		w.stamps[(w.head+w.size)%len(w.stamps)] = t
		w.size++
		return
	}
	w.stamps[w.head] = t
	w.head = (w.head + 1) % len(w.stamps)
}

// Snapshot returns the retained timestamps, oldest first.
func (w *AccessWindow) Snapshot() []time.Time {
	out := make([]time.Time, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.stamps[(w.head+i)%len(w.stamps)])
	}
	return out
}
