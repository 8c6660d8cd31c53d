package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/botloom/internal/script"
)

// invocation is one listener body attached to a bot's tag.
type invocation func(h script.Host, arg any) (any, error)

// targets returns the bots that listen to name, in store enumeration
// order. A nil ids slice targets every bot.
func (s *Scheduler) targets(name string, ids []string) []string {
	all := s.store.ListenerIDs(name)
	if ids == nil {
		return all
	}
	return slices.DeleteFunc(all, func(id string) bool {
		return !slices.Contains(ids, id)
	})
}

// invocations returns the tag listener of a bot followed by its dynamic
// listeners in attachment order.
func (s *Scheduler) invocations(botID, tag string) []invocation {
	var out []invocation
	if l := s.store.Listener(botID, tag); l != nil {
		out = append(out, l.Invoke)
	}
	for _, dl := range s.store.DynamicListeners(botID, tag) {
		out = append(out, invocation(dl.Body))
	}
	return out
}

// dispatch shouts name to the targeted bots on behalf of caller, which is
// nil for root operations.
func (s *Scheduler) dispatch(ctx context.Context, caller *host, name string, ids []string, arg any) *script.ShoutResult {
	res := &script.ShoutResult{}
	res.Listeners = s.targets(name, ids)
	mark := len(s.batch.actions)
	metered := caller == nil || !caller.unmetered

dispatching:
	for _, id := range res.Listeners {
		for _, inv := range s.invocations(id, name) {
			if metered && !s.energy.Consume() {
				res.Exhausted = true
				break dispatching
			}

			h := s.newHost(ctx, caller, id, name)
			out := s.start(h, func(h *host) (any, error) { return inv(h, arg) })
			switch {
			case out.suspended:
				res.Results = append(res.Results, nil)
			case out.err != nil:
				res.Errors = append(res.Errors, script.ListenerError{BotID: id, Tag: name, Err: out.err})
				s.listenerFailed(ctx, h, out.err)
			default:
				res.Results = append(res.Results, out.value)
			}
		}
	}

	if mark <= len(s.batch.actions) {
		res.Actions = slices.Clone(s.batch.actions[mark:])
	}
	return res
}

// listenerFailed logs a listener error and reports it to onError unless
// reporting is suppressed for h's call stack or the pair hit its limit.
func (s *Scheduler) listenerFailed(ctx context.Context, h *host, err error) {
	slog.Warn("listener failed",
		"bot", h.botID,
		"tag", h.tag,
		"error", err,
		"event", "listener_failed")

	if h.suppressErrors {
		return
	}

	key := h.botID + "." + h.tag
	s.errorCounts[key]++
	if n := s.errorCounts[key]; n > s.errorLimit {
		if n == s.errorLimit+1 {
			slog.Warn("error limit reached, onError disabled for listener",
				"bot", h.botID,
				"tag", h.tag,
				"limit", s.errorLimit,
				"event", "error_limit")
		}
		return
	}

	reporter := &host{s: s, suppressErrors: true, intercepting: h.intercepting}
	s.dispatch(ctx, reporter, TagOnError, nil, map[string]any{
		"error": err.Error(),
		"bot":   h.botID,
		"tag":   h.tag,
	})
}

// settle handles the outcome of a resumed fiber.
func (s *Scheduler) settle(ctx context.Context, f *fiber, out outcome) {
	if out.suspended || out.err == nil {
		return
	}
	s.listenerFailed(ctx, f.host, out.err)
}

// continueFiber resumes f in a new batch: pending work is flushed first,
// the continuation gets a fresh energy budget, and its own actions are
// flushed when it yields.
func (s *Scheduler) continueFiber(ctx context.Context, f *fiber, w wake) {
	s.flush(ctx)
	s.resetEnergy("resume " + f.host.botID + "." + f.host.tag)
	f.host.rebind(ctx)
	out := s.resumeFiber(f, w)
	s.settle(ctx, f, out)
	s.flush(ctx)
}
