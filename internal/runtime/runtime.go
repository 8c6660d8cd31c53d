// Package runtime assembles a botloom runtime: the bot store, the
// scheduler with its module resolver, an optional debug controller and an
// optional journal.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/roach88/botloom/internal/bots"
	"github.com/roach88/botloom/internal/config"
	"github.com/roach88/botloom/internal/debug"
	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/modules"
	"github.com/roach88/botloom/internal/script"
	"github.com/roach88/botloom/internal/store"
)

// Recorder journals runtime inputs and receives emitted batches.
// *store.Journal implements it.
type Recorder interface {
	engine.BatchSink
	RecordDelta(ctx context.Context, delta ir.Delta) error
	RecordShout(ctx context.Context, name string, ids []string, arg any) error
	RecordProcess(ctx context.Context, actions []ir.Action) error
}

var _ Recorder = (*store.Journal)(nil)

// Runtime owns one scheduling timeline and everything attached to it.
type Runtime struct {
	store    *bots.Store
	sched    *engine.Scheduler
	debugger *debug.Controller
	recorder Recorder
}

type settings struct {
	debug     bool
	recorder  Recorder
	engine    []engine.Option
	debugOpts []debug.Option
}

// Option configures a Runtime.
type Option func(*settings)

// WithDebug enables breakpoints.
func WithDebug(opts ...debug.Option) Option {
	return func(s *settings) {
		s.debug = true
		s.debugOpts = append(s.debugOpts, opts...)
	}
}

// WithRecorder journals every input and batch to r.
func WithRecorder(r Recorder) Option {
	return func(s *settings) {
		s.recorder = r
	}
}

// WithEngineOptions passes options to the scheduler.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *settings) {
		s.engine = append(s.engine, opts...)
	}
}

// FromConfig translates a loaded configuration into runtime options. The
// journal is not opened here; callers open it and pass WithRecorder.
func FromConfig(cfg *config.Config) []Option {
	eng := []engine.Option{
		engine.WithEnergy(cfg.Runtime.Energy),
		engine.WithErrorLimit(cfg.Runtime.ErrorLimit),
		engine.WithModuleOptions(modules.WithFetcher(fetcher(cfg.Modules))),
	}
	if len(cfg.Runtime.DelayedSpaces) > 0 {
		eng = append(eng, engine.WithEditModes(engine.DelayedSpaces(cfg.Runtime.DelayedSpaces...)))
	}
	if cfg.Runtime.IDPrefix != "" {
		eng = append(eng, engine.WithIDGenerator(engine.NewSequenceGenerator(cfg.Runtime.IDPrefix)))
	}

	opts := []Option{WithEngineOptions(eng...)}
	if cfg.Runtime.Debug {
		opts = append(opts, WithDebug())
	}
	return opts
}

// errRemoteDisabled is returned for URL imports when remote modules are
// turned off.
var errRemoteDisabled = errors.New("remote modules are disabled")

func fetcher(cfg config.ModulesConfig) modules.Fetcher {
	if !cfg.AllowRemote {
		return modules.FetcherFunc(func(_ context.Context, url string) (string, error) {
			return "", fmt.Errorf("fetch %s: %w", url, errRemoteDisabled)
		})
	}
	return modules.HTTPFetcher{Client: &http.Client{Timeout: cfg.FetchTimeout}}
}

// New creates a runtime compiling tag scripts with interp.
func New(interp script.Interpreter, opts ...Option) *Runtime {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	rt := &Runtime{recorder: s.recorder}
	var storeOpts []bots.Option
	eng := s.engine
	if s.debug {
		rt.debugger = debug.New(s.debugOpts...)
		storeOpts = append(storeOpts, bots.WithObserver(rt.debugger))
		eng = append(eng, engine.WithPauser(rt.debugger))
	}
	if s.recorder != nil {
		eng = append(eng, engine.WithSink(s.recorder))
	}

	rt.store = bots.New(interp, storeOpts...)
	rt.sched = engine.New(rt.store, interp, eng...)

	slog.Debug("runtime created",
		"debug", s.debug,
		"journal", s.recorder != nil,
		"event", "runtime_created")
	return rt
}

// Store returns the bot store. Read it only between operations.
func (r *Runtime) Store() *bots.Store { return r.store }

// Scheduler returns the scheduler.
func (r *Runtime) Scheduler() *engine.Scheduler { return r.sched }

// Outbox returns the queue of emitted batches.
func (r *Runtime) Outbox() *engine.Outbox { return r.sched.Outbox() }

// DebugMode reports whether breakpoints are available.
func (r *Runtime) DebugMode() bool { return r.debugger != nil }

// ApplyDelta reconciles delta and runs the lifecycle listeners.
func (r *Runtime) ApplyDelta(ctx context.Context, delta ir.Delta) (*ir.StateResult, error) {
	if r.recorder != nil {
		if err := r.recorder.RecordDelta(ctx, delta); err != nil {
			return nil, fmt.Errorf("apply delta: %w", err)
		}
	}
	return r.sched.ApplyDelta(ctx, delta)
}

// Shout runs the name listener of the bots in ids, or of every bot when
// ids is nil.
func (r *Runtime) Shout(ctx context.Context, name string, ids []string, arg any) (*script.ShoutResult, error) {
	if r.recorder != nil {
		if err := r.recorder.RecordShout(ctx, name, ids, arg); err != nil {
			return nil, fmt.Errorf("shout %s: %w", name, err)
		}
	}
	return r.sched.Shout(ctx, name, ids, arg)
}

// Process runs externally produced actions through the batching pipeline.
func (r *Runtime) Process(ctx context.Context, actions []ir.Action) ([]*engine.Batch, error) {
	if r.recorder != nil {
		if err := r.recorder.RecordProcess(ctx, actions); err != nil {
			return nil, fmt.Errorf("process: %w", err)
		}
	}
	return r.sched.Process(ctx, actions)
}

// SetEditModeProvider swaps the edit-mode provider.
func (r *Runtime) SetEditModeProvider(p engine.EditModeProvider) {
	r.sched.SetEditModeProvider(p)
}

// Import resolves a module outside any listener.
func (r *Runtime) Import(ctx context.Context, specifier string) (script.Exports, error) {
	return r.sched.Import(ctx, specifier)
}

// SetBreakpoint installs a breakpoint and returns its id.
func (r *Runtime) SetBreakpoint(bp debug.Breakpoint) (string, error) {
	if r.debugger == nil {
		return "", debug.ErrNotDebugMode
	}
	return r.debugger.SetBreakpoint(bp)
}

// RemoveBreakpoint uninstalls a breakpoint.
func (r *Runtime) RemoveBreakpoint(id string) error {
	if r.debugger == nil {
		return debug.ErrNotDebugMode
	}
	return r.debugger.RemoveBreakpoint(id)
}

// Breakpoints lists installed breakpoints.
func (r *Runtime) Breakpoints() ([]debug.Breakpoint, error) {
	if r.debugger == nil {
		return nil, debug.ErrNotDebugMode
	}
	return r.debugger.Breakpoints(), nil
}

// ContinueAfterStop resumes the head stop.
func (r *Runtime) ContinueAfterStop(ctx context.Context, stopID string) error {
	if r.debugger == nil {
		return debug.ErrNotDebugMode
	}
	return r.debugger.ContinueAfterStop(ctx, stopID)
}

// Pauses returns the stop notification stream.
func (r *Runtime) Pauses() (<-chan debug.Pause, error) {
	if r.debugger == nil {
		return nil, debug.ErrNotDebugMode
	}
	return r.debugger.Pauses(), nil
}

// Stops lists paused stops, head first.
func (r *Runtime) Stops() ([]debug.Pause, error) {
	if r.debugger == nil {
		return nil, debug.ErrNotDebugMode
	}
	return r.debugger.Stops(), nil
}

// Teardown stops timers, releases suspended listeners and closes the
// pause stream. It is idempotent.
func (r *Runtime) Teardown() {
	r.sched.Teardown()
	if r.debugger != nil {
		r.debugger.Close()
	}
}
