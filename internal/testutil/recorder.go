package testutil

import (
	"context"
	"sync"

	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
)

// BatchRecorder is an engine sink that keeps every emitted batch and
// reconciliation result in memory.
//
// Thread-safety: BatchRecorder is safe for concurrent use via internal mutex.
type BatchRecorder struct {
	mu      sync.Mutex
	batches []*engine.Batch
	states  []*ir.StateResult
}

var (
	_ engine.BatchSink = (*BatchRecorder)(nil)
	_ engine.StateSink = (*BatchRecorder)(nil)
)

// NewBatchRecorder creates an empty recorder.
func NewBatchRecorder() *BatchRecorder {
	return &BatchRecorder{}
}

// WriteBatch implements engine.BatchSink.
func (r *BatchRecorder) WriteBatch(_ context.Context, b *engine.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

// WriteState implements engine.StateSink.
func (r *BatchRecorder) WriteState(_ context.Context, res *ir.StateResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, res)
	return nil
}

// Take returns the batches recorded since the last call and forgets them.
func (r *BatchRecorder) Take() []*engine.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.batches
	r.batches = nil
	return out
}

// States returns every recorded reconciliation result.
func (r *BatchRecorder) States() []*ir.StateResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ir.StateResult(nil), r.states...)
}
