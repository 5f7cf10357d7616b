// Package snapshot stores per-frame copies of rolled-back state.
package snapshot

import (
	"fmt"

	"rewind/internal/frame"
)

const (
	// EvictWindow marks an entry dropped to keep the history within its window.
	EvictWindow = "window"
	// EvictRewound marks an entry dropped because a save for the same or an
	// earlier frame replaced the timeline it belonged to.
	EvictRewound = "rewound"
	// EvictConfirmed marks an entry dropped because it precedes the confirmed frame.
	EvictConfirmed = "confirmed"
)

// Entry pairs a frame with the value saved for it.
type Entry[V any] struct {
	Frame frame.Frame
	Value V
}

// Eviction describes an entry removed from a history.
type Eviction struct {
	Frame  frame.Frame
	Reason string
}

// PushResult summarises the history after a push.
type PushResult struct {
	Size    int
	Oldest  frame.Frame
	Newest  frame.Frame
	Evicted []Eviction
}

// MissingFrameError is the panic value raised when a frame that must be
// present has already left the history.
type MissingFrameError struct {
	Frame  frame.Frame
	Oldest frame.Frame
	Newest frame.Frame
	Size   int
}

func (e *MissingFrameError) Error() string {
	if e.Size == 0 {
		return fmt.Sprintf("snapshot: frame %s requested from an empty history", e.Frame)
	}
	return fmt.Sprintf("snapshot: frame %s not retained (holding %d frames, %s..%s)", e.Frame, e.Size, e.Oldest, e.Newest)
}

// History is a bounded time series of saved values, sized to the session's
// prediction window. Entries are kept in insertion order and the oldest entry
// is evicted first once the window is full, regardless of gaps between frame
// numbers.
type History[V any] struct {
	entries []Entry[V]
	window  int
}

// NewHistory returns an empty history holding at most window entries.
func NewHistory[V any](window int) *History[V] {
	if window < 0 {
		window = 0
	}
	return &History[V]{
		entries: make([]Entry[V], 0, window),
		window:  window,
	}
}

// Push records value for f. Entries at f or any later frame are dropped
// first and reported as EvictRewound. Only then are the oldest entries evicted,
// as EvictWindow, until the new entry fits the window.
func (h *History[V]) Push(f frame.Frame, value V) PushResult {
	var evicted []Eviction

	keep := len(h.entries)
	for keep > 0 && !h.entries[keep-1].Frame.Before(f) {
		keep--
	}
	if keep < len(h.entries) {
		for _, entry := range h.entries[keep:] {
			evicted = append(evicted, Eviction{Frame: entry.Frame, Reason: EvictRewound})
		}
		clear(h.entries[keep:])
		h.entries = h.entries[:keep]
	}

	if h.window == 0 {
		return PushResult{Evicted: evicted}
	}

	if overflow := len(h.entries) + 1 - h.window; overflow > 0 {
		for _, entry := range h.entries[:overflow] {
			evicted = append(evicted, Eviction{Frame: entry.Frame, Reason: EvictWindow})
		}
		h.dropOldest(overflow)
	}
	h.entries = append(h.entries, Entry[V]{Frame: f, Value: value})

	return h.result(evicted)
}

// Rollback returns the value saved for f. A missing frame means the caller
// asked for state the history was never sized to keep; it panics with a
// *MissingFrameError.
func (h *History[V]) Rollback(f frame.Frame) V {
	value, ok := h.Lookup(f)
	if !ok {
		panic(h.missing(f))
	}
	return value
}

// Lookup returns the value saved for f, if still retained.
func (h *History[V]) Lookup(f frame.Frame) (V, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Frame == f {
			return h.entries[i].Value, true
		}
	}
	var zero V
	return zero, false
}

// Newest returns the most recently pushed entry.
func (h *History[V]) Newest() (Entry[V], bool) {
	if len(h.entries) == 0 {
		return Entry[V]{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// DiscardBefore drops every entry older than confirmed.
func (h *History[V]) DiscardBefore(confirmed frame.Frame) []Eviction {
	drop := 0
	for drop < len(h.entries) && h.entries[drop].Frame.Before(confirmed) {
		drop++
	}
	if drop == 0 {
		return nil
	}
	evicted := make([]Eviction, 0, drop)
	for _, entry := range h.entries[:drop] {
		evicted = append(evicted, Eviction{Frame: entry.Frame, Reason: EvictConfirmed})
	}
	h.dropOldest(drop)
	return evicted
}

// Resize changes the window, evicting the oldest entries if it shrinks.
func (h *History[V]) Resize(window int) {
	if window < 0 {
		window = 0
	}
	h.window = window
	if overflow := len(h.entries) - window; overflow > 0 {
		h.dropOldest(overflow)
	}
}

// Reset removes every entry.
func (h *History[V]) Reset() {
	clear(h.entries)
	h.entries = h.entries[:0]
}

// Frames lists the retained frames, most recent first.
func (h *History[V]) Frames() []frame.Frame {
	frames := make([]frame.Frame, len(h.entries))
	for i, entry := range h.entries {
		frames[len(h.entries)-1-i] = entry.Frame
	}
	return frames
}

// Len reports the number of retained entries.
func (h *History[V]) Len() int {
	return len(h.entries)
}

// Window reports the maximum number of retained entries.
func (h *History[V]) Window() int {
	return h.window
}

func (h *History[V]) dropOldest(n int) {
	remaining := copy(h.entries, h.entries[n:])
	clear(h.entries[remaining:])
	h.entries = h.entries[:remaining]
}

func (h *History[V]) result(evicted []Eviction) PushResult {
	result := PushResult{Size: len(h.entries), Evicted: evicted}
	if result.Size > 0 {
		result.Oldest = h.entries[0].Frame
		result.Newest = h.entries[result.Size-1].Frame
	}
	return result
}

func (h *History[V]) missing(f frame.Frame) *MissingFrameError {
	err := &MissingFrameError{Frame: f, Size: len(h.entries)}
	if err.Size > 0 {
		err.Oldest = h.entries[0].Frame
		err.Newest = h.entries[err.Size-1].Frame
	}
	return err
}
