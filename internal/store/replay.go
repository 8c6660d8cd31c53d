package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
)

// Target re-executes journaled inputs. It must start from the same world
// and deterministic id generation as the journaled run.
type Target interface {
	ApplyDelta(ctx context.Context, delta ir.Delta) error
	Shout(ctx context.Context, name string, ids []string, arg any) error
	Process(ctx context.Context, actions []ir.Action) error
	// Drain returns the batches emitted since the last call.
	Drain() []*engine.Batch
}

// Divergence is one position where replayed batches differ from the
// journal. An empty digest means the batch is missing on that side.
type Divergence struct {
	Index int
	Want  string
	Got   string
}

// ReplayReport summarizes a replay.
type ReplayReport struct {
	RunID       string
	Inputs      int
	Want        int
	Got         int
	Divergences []Divergence
}

// OK reports whether the replay reproduced every journaled batch.
func (r *ReplayReport) OK() bool {
	return len(r.Divergences) == 0
}

// Replay feeds a run's inputs to target in arrival order and compares the
// digests of the batches it emits with the journaled ones, position by
// position.
func (j *Journal) Replay(ctx context.Context, runID string, target Target) (*ReplayReport, error) {
	inputs, err := j.ReadInputs(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	want, err := j.ReadBatches(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	for _, in := range inputs {
		if err := feed(ctx, target, in); err != nil {
			return nil, fmt.Errorf("replay %s: %w", runID, err)
		}
	}
	got := target.Drain()

	report := &ReplayReport{RunID: runID, Inputs: len(inputs), Want: len(want), Got: len(got)}
	for i := 0; i < max(len(want), len(got)); i++ {
		var d Divergence
		d.Index = i
		if i < len(want) {
			d.Want = want[i].Digest
		}
		if i < len(got) {
			if d.Got, err = got[i].Digest(); err != nil {
				return nil, fmt.Errorf("replay %s: batch %d: %w", runID, got[i].Seq, err)
			}
		}
		if d.Want != d.Got {
			report.Divergences = append(report.Divergences, d)
		}
	}

	slog.Info("replay finished",
		"run", runID,
		"inputs", report.Inputs,
		"batches", report.Got,
		"divergences", len(report.Divergences),
		"event", "replay_finished")
	return report, nil
}

func feed(ctx context.Context, target Target, in Input) error {
	switch in.Kind {
	case InputDelta:
		d, err := in.Delta()
		if err != nil {
			return err
		}
		return target.ApplyDelta(ctx, d)
	case InputShout:
		s, err := in.Shout()
		if err != nil {
			return err
		}
		return target.Shout(ctx, s.Name, s.IDs, s.Arg)
	case InputProcess:
		actions, err := in.Actions()
		if err != nil {
			return err
		}
		return target.Process(ctx, actions)
	default:
		return fmt.Errorf("input %d: unknown kind %q", in.Seq, in.Kind)
	}
}
