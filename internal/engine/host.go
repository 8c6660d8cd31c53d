package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/modules"
	"github.com/roach88/botloom/internal/script"
)

type hostKey struct{}

// hostFrom returns the host running on the current call path, if any.
func hostFrom(ctx context.Context) *host {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(hostKey{}).(*host)
	return h
}

// host is the script.Host handed to one invocation. It runs on the
// invocation's fiber.
type host struct {
	s     *Scheduler
	ctx   context.Context
	f     *fiber
	botID string
	tag   string

	// suppressErrors is set inside onError handlers and everything they
	// shout.
	suppressErrors bool
	// intercepting is set inside onAnyAction handlers and everything they
	// shout.
	intercepting bool
	// unmetered is set only on the interceptor that drives onAnyAction at
	// flush time. Its dispatches do not draw energy; the handlers' own
	// shouts still do.
	unmetered bool
	// inHook is set inside the resolve-module hook.
	inHook bool
	// chain is the module import chain when the host runs a module body.
	chain []string
}

var _ script.Host = (*host)(nil)

// newHost creates the host for an invocation of botID.tag. Call-stack
// flags are inherited from caller.
func (s *Scheduler) newHost(ctx context.Context, caller *host, botID, tag string) *host {
	h := &host{s: s, botID: botID, tag: tag}
	if caller != nil {
		h.suppressErrors = caller.suppressErrors
		h.intercepting = caller.intercepting
		h.inHook = caller.inHook
	}
	if tag == TagOnError {
		h.suppressErrors = true
	}
	h.rebind(ctx)
	return h
}

// derive returns a host for a module body loaded from h's fiber.
func (h *host) derive(botID, tag string, chain []string) *host {
	d := *h
	d.botID = botID
	d.tag = tag
	d.chain = chain
	d.rebind(h.ctx)
	return &d
}

// rebind attaches h to the context of the root operation driving it.
func (h *host) rebind(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	h.ctx = context.WithValue(ctx, hostKey{}, h)
}

func (h *host) BotID() string   { return h.botID }
func (h *host) TagName() string { return h.tag }

func (h *host) GetTag(botID, tag string) any {
	return ir.ToGo(h.s.store.Value(botID, tag))
}

func (h *host) BotIDs() []string {
	return h.s.store.IDs()
}

func (h *host) SetTag(botID, tag string, value any) error {
	return h.s.setTag(h, botID, tag, compiler.FormatAny(value))
}

func (h *host) EditTag(botID, tag string, ops ...ir.EditOp) error {
	return h.s.editTag(h, botID, tag, &ir.TagEdit{ID: h.s.ids.Generate(), Ops: ops})
}

func (h *host) SetMask(botID, space, tag string, value any) error {
	return h.s.setMask(h, botID, space, tag, compiler.FormatAny(value))
}

func (h *host) CreateBot(space string, tags map[string]any) (string, error) {
	return h.s.createBot(h, space, tags)
}

func (h *host) DestroyBot(botID string) error {
	return h.s.destroyBot(h, botID)
}

func (h *host) Shout(name string, arg any) (*script.ShoutResult, error) {
	return h.s.dispatch(h.ctx, h, name, nil, arg), nil
}

func (h *host) Whisper(botIDs []string, name string, arg any) (*script.ShoutResult, error) {
	if botIDs == nil {
		botIDs = []string{}
	}
	return h.s.dispatch(h.ctx, h, name, botIDs, arg), nil
}

func (h *host) Perform(a ir.Action) {
	if a == nil {
		return
	}
	h.s.record(h, a)
}

func (h *host) Reject(a ir.Action) {
	h.s.batch.reject(a)
}

func (h *host) Request(a *ir.HostAction) (any, error) {
	return h.s.request(h, a)
}

func (h *host) Iterate(a *ir.HostAction) (script.Iterator, error) {
	return h.s.iterate(h, a), nil
}

func (h *host) SetTimeout(delay time.Duration, fn func(script.Host)) int64 {
	return h.s.setTimeout(h, delay, fn)
}

func (h *host) ClearTimeout(id int64) bool {
	return h.s.clearTimeout(id)
}

func (h *host) Sleep(delay time.Duration) error {
	return h.s.sleep(h, delay)
}

func (h *host) Import(specifier string) (script.Exports, error) {
	return h.s.resolver.Import(h.ctx, modules.Request{
		Specifier: specifier,
		BotID:     h.botID,
		Tag:       h.tag,
		Chain:     h.chain,
		InHook:    h.inHook,
	})
}

func (h *host) Global(name string) (string, bool) {
	id, ok := h.s.globals[name]
	return id, ok
}

func (h *host) AddListener(botID, tag string, body script.Body) int64 {
	id, err := h.s.store.AddDynamicListener(botID, tag, body)
	if err != nil {
		slog.Warn("dynamic listener not added",
			"bot", botID,
			"tag", tag,
			"error", err,
			"event", "listener_add_failed")
		return 0
	}
	return id
}

func (h *host) RemoveListener(botID, tag string, id int64) bool {
	return h.s.store.RemoveDynamicListener(botID, tag, id)
}

func (h *host) Trap(ev script.TrapEvent) {
	s := h.s
	if s.pauser == nil || h.f == nil {
		return
	}
	f := h.f
	paused := s.pauser.Pause(h.botID, h.tag, ev, func(ctx context.Context) error {
		_, err := s.run(ctx, "resume", "continue "+h.botID+"."+h.tag, func(ctx context.Context) {
			s.continueFiber(ctx, f, wake{})
		})
		return err
	})
	if paused {
		f.suspend(s)
	}
}
