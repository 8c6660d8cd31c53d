package engine

import (
	"context"
	"sync"

	"github.com/roach88/botloom/internal/ir"
)

// Batch is the action list produced by one scheduling tick.
type Batch struct {
	// Seq is the batch sequence number, strictly increasing per scheduler.
	Seq int64 `json:"seq"`
	// Actions are the emitted actions in order, after interception.
	Actions []ir.Action `json:"-"`
	// Rejected holds the reject wrappers recorded during the tick.
	Rejected []*ir.RejectAction `json:"-"`
}

// Digest returns the content digest of the batch's actions.
func (b *Batch) Digest() (string, error) {
	return ir.BatchDigest(b.Actions)
}

// BatchSink receives every emitted batch, in emission order, on the
// scheduling timeline. Errors are logged and do not affect scheduling.
type BatchSink interface {
	WriteBatch(ctx context.Context, b *Batch) error
}

// StateSink is implemented by sinks that also record reconciliation
// results of ApplyDelta.
type StateSink interface {
	WriteState(ctx context.Context, r *ir.StateResult) error
}

// Outbox is a thread-safe FIFO of emitted batches.
//
// The outbox is unbounded so that the scheduling timeline never blocks on
// a slow consumer. Consumers read with TryNext, or Next for context-aware
// blocking reads.
//
// The outbox uses a channel for signaling (buffered, size 1) so that
// waiting can be combined with other channels in a select.
type Outbox struct {
	mu      sync.Mutex
	batches []*Batch
	closed  bool
	signal  chan struct{}
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{
		batches: make([]*Batch, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Push appends a batch. Returns false if the outbox is closed.
func (q *Outbox) Push(b *Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.batches = append(q.batches, b)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryNext removes and returns the oldest batch without blocking.
func (q *Outbox) TryNext() (*Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return nil, false
	}
	b := q.batches[0]

	// Nil out the slot so the backing array does not retain the batch.
	q.batches[0] = nil
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

// Next blocks until a batch is available, the outbox is closed and
// drained, or ctx is done.
func (q *Outbox) Next(ctx context.Context) (*Batch, error) {
	for {
		if b, ok := q.TryNext(); ok {
			return b, nil
		}
		if q.isClosed() {
			return nil, ErrTornDown
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// Drain removes and returns every queued batch.
func (q *Outbox) Drain() []*Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.batches
	q.batches = make([]*Batch, 0, 16)
	return out
}

// Wait returns a channel that signals when batches may be available.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-outbox.Wait():
//	    // Try TryNext
//	}
func (q *Outbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued batches.
func (q *Outbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

// Close marks the outbox closed and wakes waiters. Queued batches can
// still be read.
func (q *Outbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *Outbox) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
