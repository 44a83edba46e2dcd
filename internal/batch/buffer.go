// Package batch accumulates decoded flight events between flushes.
package batch

import "flightsink/internal/flight"

// Buffer is an insertion-ordered accumulator owned by a single goroutine.
// Its length only grows between flushes and returns to zero on Drain.
type Buffer struct {
	events []flight.Event
}

// New returns a buffer pre-sized for threshold events.
func New(threshold int) *Buffer {
	if threshold < 0 {
		threshold = 0
	}
	return &Buffer{events: make([]flight.Event, 0, threshold)}
}

func (b *Buffer) Append(ev flight.Event) { b.events = append(b.events, ev) }

func (b *Buffer) Size() int { return len(b.events) }

func (b *Buffer) IsFull(threshold int) bool { return len(b.events) >= threshold }

// Records returns a copy of the buffered events without clearing them.
func (b *Buffer) Records() []flight.Event {
	out := make([]flight.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Drain returns every buffered event and leaves the buffer empty.
func (b *Buffer) Drain() []flight.Event {
	out := b.events
	b.events = make([]flight.Event, 0, cap(out))
	return out
}
