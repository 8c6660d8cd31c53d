package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/modules"
	"github.com/roach88/botloom/internal/script"
)

// Shout invokes the name listener of the targeted bots, or of every bot
// when ids is nil, as a root operation. The result's Actions are the
// actions emitted by the operation after interception.
func (s *Scheduler) Shout(ctx context.Context, name string, ids []string, arg any) (*script.ShoutResult, error) {
	var res *script.ShoutResult
	root, err := s.run(ctx, "shout", "shout "+name, func(ctx context.Context) {
		res = s.dispatch(ctx, nil, name, ids, arg)
	})
	if err != nil {
		return nil, err
	}

	res.Actions = nil
	for _, b := range root.batches {
		res.Actions = append(res.Actions, b.Actions...)
	}
	res.Exhausted = res.Exhausted || root.exhausted
	return res, nil
}

// Process runs pre-built actions through the batching pipeline. Reserved
// control actions (task results, iterable values, portal registration,
// global bot definitions) are consumed; everything else is intercepted
// and emitted. It returns the batches emitted by the operation.
func (s *Scheduler) Process(ctx context.Context, actions []ir.Action) ([]*Batch, error) {
	root, err := s.run(ctx, "process", "process", func(ctx context.Context) {
		for _, a := range actions {
			if err := s.processOne(ctx, a); err != nil {
				slog.Warn("action not processed",
					"type", a.Kind(),
					"error", err,
					"event", "process_failed")
			}
		}
	})
	return root.batches, err
}

func (s *Scheduler) processOne(ctx context.Context, a ir.Action) error {
	switch act := a.(type) {
	case *ir.AsyncResultAction:
		return s.completeTask(ctx, act.TaskID, wake{value: act.Result})
	case *ir.AsyncErrorAction:
		return s.completeTask(ctx, act.TaskID, wake{err: errAsync(act.Error)})
	case *ir.IterableNextAction:
		return s.feed(ctx, act.TaskID, iterItem{value: act.Value})
	case *ir.IterableCompleteAction:
		return s.feed(ctx, act.TaskID, iterItem{done: true})
	case *ir.IterableThrowAction:
		return s.feed(ctx, act.TaskID, iterItem{done: true, err: errAsync(act.Error)})
	case *ir.RegisterBuiltinPortalAction:
		if !slices.Contains(s.portals, act.Portal) {
			s.portals = append(s.portals, act.Portal)
		}
		return nil
	case *ir.DefineGlobalBotAction:
		s.globals[act.Name] = act.BotID
		return nil
	default:
		s.batch.push(a, false)
		s.batch.external[a] = true
		return nil
	}
}

// ApplyDelta reconciles delta into the store and shouts the lifecycle
// listeners for what changed, all in one batch.
func (s *Scheduler) ApplyDelta(ctx context.Context, delta ir.Delta) (*ir.StateResult, error) {
	var res *ir.StateResult
	_, err := s.run(ctx, "delta", "delta", func(ctx context.Context) {
		res = s.store.Apply(delta)
		for _, sink := range s.sinks {
			if ss, ok := sink.(StateSink); ok {
				if err := ss.WriteState(ctx, res); err != nil {
					slog.Error("state sink failed", "version", res.Version, "error", err, "event", "sink_failed")
				}
			}
		}
		if res.Empty() {
			return
		}

		if added := slices.Clone(res.AddedBots); len(added) > 0 {
			s.dispatch(ctx, nil, TagOnBotAdded, added, map[string]any{"bots": added})
			s.dispatch(ctx, nil, TagOnAnyBotsAdded, nil, map[string]any{"bots": added})
		}
		if removed := slices.Clone(res.RemovedBots); len(removed) > 0 {
			s.dispatch(ctx, nil, TagOnAnyBotsRemoved, nil, map[string]any{"botIDs": removed})
		}
		for _, id := range res.UpdatedBots {
			if !s.store.Has(id) {
				continue
			}
			s.dispatch(ctx, nil, TagOnBotChanged, []string{id}, map[string]any{
				"tags": changedTags(res.State[id]),
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// changedTags lists the tags touched by a reconciliation entry, sorted.
func changedTags(e *ir.StateEntry) []string {
	if e == nil || e.Patch == nil {
		return []string{}
	}
	set := make(map[string]bool)
	for tag := range e.Patch.Tags {
		set[tag] = true
	}
	for _, tags := range e.Patch.Masks {
		for tag := range tags {
			set[tag] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Import resolves and loads a module outside any listener.
func (s *Scheduler) Import(ctx context.Context, specifier string) (script.Exports, error) {
	var (
		exports script.Exports
		err     error
	)
	_, runErr := s.run(ctx, "import", "import "+specifier, func(ctx context.Context) {
		exports, err = s.resolver.Import(ctx, modules.Request{Specifier: specifier})
	})
	if runErr != nil {
		return nil, runErr
	}
	return exports, err
}

// RunModule implements modules.Runner. A module imported from a listener
// runs on the importing fiber, so suspending inside the module suspends
// the importer.
func (s *Scheduler) RunModule(ctx context.Context, m *compiler.Module, botID, tag string, chain []string) (script.Exports, error) {
	if parent := hostFrom(ctx); parent != nil && parent.f != nil {
		return m.Load(parent.derive(botID, tag, chain))
	}

	h := s.newHost(ctx, nil, botID, tag)
	h.chain = chain
	out := s.start(h, func(h *host) (any, error) {
		return m.Load(h)
	})
	switch {
	case out.suspended:
		return nil, fmt.Errorf("module %s.%s suspended while loading outside a listener", botID, tag)
	case out.err != nil:
		return nil, out.err
	}
	exports, _ := out.value.(script.Exports)
	return exports, nil
}

// Park implements modules.Runner. resume queues the fiber to continue in
// its own batch after the current operation flushes.
func (s *Scheduler) Park(ctx context.Context) (func(script.Exports, error), func() (script.Exports, error), bool) {
	h := hostFrom(ctx)
	if h == nil || h.f == nil {
		return nil, nil, false
	}
	f := h.f
	resume := func(exports script.Exports, err error) {
		s.wakes = append(s.wakes, func(ctx context.Context) {
			s.continueFiber(ctx, f, wake{value: exports, err: err})
		})
	}
	wait := func() (script.Exports, error) {
		v, err := f.suspend(s)
		exports, _ := v.(script.Exports)
		return exports, err
	}
	return resume, wait, true
}

// RunResolveHook implements modules.Runner. The hook's listeners run with
// the hook flag set so their own imports bypass the hook. The first
// non-nil answer wins.
func (s *Scheduler) RunResolveHook(ctx context.Context, req modules.Request) (any, error) {
	caller := &host{s: s, inHook: true}
	if parent := hostFrom(ctx); parent != nil {
		caller.suppressErrors = parent.suppressErrors
		caller.intercepting = parent.intercepting
	}

	res := s.dispatch(ctx, caller, modules.HookTag, nil, map[string]any{
		"module": req.Specifier,
		"bot":    req.BotID,
		"tag":    req.Tag,
	})
	for _, r := range res.Results {
		if r != nil {
			return r, nil
		}
	}
	if len(res.Errors) > 0 {
		return nil, res.Errors[0]
	}
	return nil, nil
}
