package geyserstream

import (
	"context"
	"sync/atomic"
)

// Sink receives derived records. Accept must not block indefinitely.
type Sink interface {
	Accept(Record)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Record)

func (f SinkFunc) Accept(r Record) { f(r) }

// Handoff is the bounded queue between a session's inbound task and the sink.
// Producers never block: when the queue is full the newest record is dropped.
type Handoff struct {
	ch      chan Record
	dropped atomic.Uint64
}

// NewHandoff creates a queue holding at most capacity records.
func NewHandoff(capacity int) *Handoff {
	if capacity <= 0 {
		capacity = DefaultHandoffCapacity
	}
	return &Handoff{ch: make(chan Record, capacity)}
}

// TrySend enqueues r or returns ErrSinkSaturated without blocking.
func (h *Handoff) TrySend(r Record) error {
	select {
	case h.ch <- r:
		return nil
	default:
		h.dropped.Add(1)
		return ErrSinkSaturated
	}
}

// Dropped returns the number of records rejected by TrySend.
func (h *Handoff) Dropped() uint64 { return h.dropped.Load() }

// Len returns the number of queued records.
func (h *Handoff) Len() int { return len(h.ch) }

// C exposes the receive side of the queue.
func (h *Handoff) C() <-chan Record { return h.ch }

// Drain delivers queued records to sink until ctx is done.
func (h *Handoff) Drain(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-h.ch:
			sink.Accept(r)
		}
	}
}
