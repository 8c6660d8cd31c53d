package store

import (
	"context"
	"fmt"

	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
)

// InputKind names the kind of a journaled input.
type InputKind string

const (
	InputDelta   InputKind = "delta"
	InputShout   InputKind = "shout"
	InputProcess InputKind = "process"
)

// ShoutInput is the payload of a journaled shout. IDs is null when the
// shout targeted every bot.
type ShoutInput struct {
	Name string   `json:"name"`
	IDs  []string `json:"ids"`
	Arg  any      `json:"arg,omitempty"`
}

// RecordDelta journals an inbound delta before it is applied.
func (j *Journal) RecordDelta(ctx context.Context, delta ir.Delta) error {
	payload, err := marshalJSON(delta)
	if err != nil {
		return fmt.Errorf("record delta: %w", err)
	}
	return j.writeInput(ctx, InputDelta, payload)
}

// RecordShout journals a root shout before it runs.
func (j *Journal) RecordShout(ctx context.Context, name string, ids []string, arg any) error {
	in := ShoutInput{Name: name, IDs: ids, Arg: arg}
	payload, err := marshalJSON(in)
	if err != nil {
		return fmt.Errorf("record shout: %w", err)
	}
	return j.writeInput(ctx, InputShout, payload)
}

// RecordProcess journals actions handed to the scheduler's Process.
func (j *Journal) RecordProcess(ctx context.Context, actions []ir.Action) error {
	payload, err := encodeActions(actions)
	if err != nil {
		return fmt.Errorf("record process: %w", err)
	}
	return j.writeInput(ctx, InputProcess, payload)
}

func (j *Journal) writeInput(ctx context.Context, kind InputKind, payload string) error {
	if err := j.requireRun(); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO inputs (run_id, seq, kind, payload)
		VALUES (?, ?, ?, ?)
	`, j.runID, j.inputSeq.Next(), string(kind), payload)
	if err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// WriteBatch implements engine.BatchSink.
// Uses ON CONFLICT DO NOTHING for idempotency - a batch written twice is
// silently ignored.
func (j *Journal) WriteBatch(ctx context.Context, b *engine.Batch) error {
	if err := j.requireRun(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	digest, err := b.Digest()
	if err != nil {
		return fmt.Errorf("write batch %d: %w", b.Seq, err)
	}
	actions, err := encodeActions(b.Actions)
	if err != nil {
		return fmt.Errorf("write batch %d: %w", b.Seq, err)
	}
	rejected, err := encodeRejected(b.Rejected)
	if err != nil {
		return fmt.Errorf("write batch %d: %w", b.Seq, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO batches (run_id, seq, digest, actions, rejected)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, j.runID, b.Seq, digest, actions, rejected)
	if err != nil {
		return fmt.Errorf("write batch %d: %w", b.Seq, err)
	}
	return nil
}

// WriteState implements engine.StateSink.
func (j *Journal) WriteState(ctx context.Context, r *ir.StateResult) error {
	if err := j.requireRun(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	cols := make([]string, 4)
	for i, v := range []any{nonNil(r.AddedBots), nonNil(r.RemovedBots), nonNil(r.UpdatedBots), r.State} {
		s, err := marshalJSON(v)
		if err != nil {
			return fmt.Errorf("write state v%d: %w", r.Version, err)
		}
		cols[i] = s
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO reconciliations (run_id, seq, version, added, removed, updated, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.runID, j.stateSeq.Next(), r.Version, cols[0], cols[1], cols[2], cols[3])
	if err != nil {
		return fmt.Errorf("write state v%d: %w", r.Version, err)
	}
	return nil
}
