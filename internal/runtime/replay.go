package runtime

import (
	"context"

	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/store"
)

// replayTarget feeds journaled inputs to a runtime and collects what it
// emits from the outbox.
type replayTarget struct {
	rt *Runtime
}

// ReplayTarget returns r as a store.Target. r should be fresh, built with
// the same options as the journaled runtime and without a recorder.
func (r *Runtime) ReplayTarget() store.Target {
	return replayTarget{rt: r}
}

func (t replayTarget) ApplyDelta(ctx context.Context, delta ir.Delta) error {
	_, err := t.rt.ApplyDelta(ctx, delta)
	return err
}

func (t replayTarget) Shout(ctx context.Context, name string, ids []string, arg any) error {
	_, err := t.rt.Shout(ctx, name, ids, arg)
	return err
}

func (t replayTarget) Process(ctx context.Context, actions []ir.Action) error {
	_, err := t.rt.Process(ctx, actions)
	return err
}

func (t replayTarget) Drain() []*engine.Batch {
	return t.rt.Outbox().Drain()
}
