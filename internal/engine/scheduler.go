package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/botloom/internal/bots"
	"github.com/roach88/botloom/internal/modules"
	"github.com/roach88/botloom/internal/script"
)

// Reserved listener tags shouted by the scheduler.
const (
	TagOnAnyAction      = "onAnyAction"
	TagOnError          = "onError"
	TagOnCreate         = "onCreate"
	TagOnDestroy        = "onDestroy"
	TagOnBotAdded       = "onBotAdded"
	TagOnAnyBotsAdded   = "onAnyBotsAdded"
	TagOnAnyBotsRemoved = "onAnyBotsRemoved"
	TagOnBotChanged     = "onBotChanged"
)

// DefaultErrorLimit is how many errors of one (bot, tag) pair are reported
// to onError before reporting for that pair stops.
const DefaultErrorLimit = 1000

// Pauser decides whether a trap pauses the running listener. When Pause
// returns true the listener suspends until resume is called. resume is a
// root operation and must not be called from inside a listener.
type Pauser interface {
	Pause(botID, tag string, ev script.TrapEvent, resume func(ctx context.Context) error) bool
}

// TimerFunc schedules fire after d and returns a function that cancels it.
// The cancel function reports whether the timer was stopped before firing.
type TimerFunc func(d time.Duration, fire func()) (stop func() bool)

func realTimers(d time.Duration, fire func()) func() bool {
	return time.AfterFunc(d, fire).Stop
}

// Scheduler is the single-timeline listener scheduler.
//
// ARCHITECTURE:
//
//   - Root operations (Shout, Process, ApplyDelta, ResolveTask,
//     RejectTask, timers, breakpoint continues) take the timeline mutex
//     and run to completion or suspension of everything they start.
//   - Every listener invocation runs on its own fiber goroutine. Control
//     is handed back and forth over unbuffered channels, so exactly one
//     goroutine touches scheduler, store and resolver state at any time.
//   - A fiber suspends by yielding to whoever drove it. It is resumed by
//     a later root operation, which becomes its driver.
//   - Actions are collected into a batch that is intercepted and emitted
//     when the root operation's synchronous work is done. Resumed
//     continuations always start a new batch.
//
// CRITICAL PATTERNS:
//
//   - Host methods run on a fiber while the driver holds the mutex. They
//     must never take the mutex themselves.
//   - Energy is reset at the start of each root operation and each resumed
//     continuation, never by nested shouts.
type Scheduler struct {
	mu sync.Mutex

	store    *bots.Store
	resolver *modules.Resolver

	seq      *Clock
	taskSeq  *Clock
	timerSeq *Clock

	ids         IDGenerator
	editModes   EditModeProvider
	energyLimit int
	errorLimit  int
	afterFunc   TimerFunc
	pauser      Pauser
	sinks       []BatchSink
	tracer      trace.Tracer
	modOpts     []modules.Option

	energy      *Energy
	exhausted   bool
	batch       *batch
	emitted     []*Batch
	tasks       map[int64]*Task
	timers      map[int64]func() bool
	// wakes are continuations released during an operation. Each runs in
	// its own batch once the operation has flushed.
	wakes       []func(ctx context.Context)
	errorCounts map[string]int
	globals     map[string]string
	portals     []string

	outbox   *Outbox
	closed   chan struct{}
	tornDown bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEnergy sets the per-root dispatch budget.
//
// Default: 100000 (DefaultEnergy).
// Use WithEnergy(10) for testing exhaustion.
func WithEnergy(n int) Option {
	return func(s *Scheduler) {
		s.energyLimit = n
	}
}

// WithErrorLimit sets how many errors per (bot, tag) reach onError.
func WithErrorLimit(n int) Option {
	return func(s *Scheduler) {
		s.errorLimit = n
	}
}

// WithIDGenerator sets the generator for script-created bot and edit ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Scheduler) {
		s.ids = g
	}
}

// WithEditModes sets the initial edit-mode provider.
func WithEditModes(p EditModeProvider) Option {
	return func(s *Scheduler) {
		s.editModes = p
	}
}

// WithTimerFunc replaces time.AfterFunc for timers and sleeps.
func WithTimerFunc(f TimerFunc) Option {
	return func(s *Scheduler) {
		s.afterFunc = f
	}
}

// WithPauser installs a breakpoint controller.
func WithPauser(p Pauser) Option {
	return func(s *Scheduler) {
		s.pauser = p
	}
}

// WithSink adds a sink that receives every emitted batch.
func WithSink(sink BatchSink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, sink)
	}
}

// WithTracer sets the tracer for root operation spans. The global tracer
// provider is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// WithBatchClock sets the clock batch sequence numbers are drawn from.
// Used to continue numbering after a journal.
func WithBatchClock(c *Clock) Option {
	return func(s *Scheduler) {
		s.seq = c
	}
}

// WithModuleOptions passes options to the module resolver.
func WithModuleOptions(opts ...modules.Option) Option {
	return func(s *Scheduler) {
		s.modOpts = append(s.modOpts, opts...)
	}
}

// New creates a scheduler over store. Listener and module tags are
// compiled with interp.
func New(store *bots.Store, interp script.Interpreter, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		seq:         NewClock(),
		taskSeq:     NewClock(),
		timerSeq:    NewClock(),
		ids:         UUIDv7Generator{},
		editModes:   AllImmediate,
		energyLimit: DefaultEnergy,
		errorLimit:  DefaultErrorLimit,
		afterFunc:   realTimers,
		tracer:      otel.Tracer("github.com/roach88/botloom/internal/engine"),
		batch:       newBatch(),
		tasks:       make(map[int64]*Task),
		timers:      make(map[int64]func() bool),
		errorCounts: make(map[string]int),
		globals:     make(map[string]string),
		outbox:      NewOutbox(),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.energy = NewEnergy(s.energyLimit)
	s.resolver = modules.New(store, interp, s, s.modOpts...)
	return s
}

// Store returns the bot store. It must only be read between root
// operations.
func (s *Scheduler) Store() *bots.Store {
	return s.store
}

// Resolver returns the module resolver.
func (s *Scheduler) Resolver() *modules.Resolver {
	return s.resolver
}

// Outbox returns the queue of emitted batches.
func (s *Scheduler) Outbox() *Outbox {
	return s.outbox
}

// SetEditModeProvider swaps the edit-mode provider between operations.
func (s *Scheduler) SetEditModeProvider(p EditModeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editModes = p
}

// Globals returns a copy of the global bot bindings.
func (s *Scheduler) Globals() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.globals))
	for k, v := range s.globals {
		out[k] = v
	}
	return out
}

// Portals returns the registered builtin portals in registration order.
func (s *Scheduler) Portals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.portals...)
}

// rootResult is what one root operation produced.
type rootResult struct {
	batches   []*Batch
	exhausted bool
}

// run executes fn as a root operation: it takes the timeline, opens a
// span, resets energy, and flushes the batch once fn returns.
func (s *Scheduler) run(ctx context.Context, op, root string, fn func(ctx context.Context)) (rootResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		return rootResult{}, ErrTornDown
	}

	ctx, span := s.tracer.Start(ctx, "botloom."+op, trace.WithAttributes(
		attribute.String("botloom.root", root),
	))
	defer span.End()

	s.emitted = nil
	s.resetEnergy(root)
	s.exhausted = false
	fn(ctx)
	s.flush(ctx)
	for len(s.wakes) > 0 {
		w := s.wakes[0]
		s.wakes = s.wakes[1:]
		w(ctx)
	}
	s.checkEnergy(root)

	res := rootResult{batches: s.emitted, exhausted: s.exhausted}
	s.emitted = nil

	actions := 0
	for _, b := range res.batches {
		actions += len(b.Actions)
	}
	span.SetAttributes(
		attribute.Int("botloom.batches", len(res.batches)),
		attribute.Int("botloom.actions", actions),
		attribute.Bool("botloom.exhausted", res.exhausted),
	)
	return res, nil
}

// resetEnergy starts a fresh budget.
func (s *Scheduler) resetEnergy(root string) {
	s.checkEnergy(root)
	s.energy = NewEnergy(s.energyLimit)
}

// checkEnergy logs an exhausted budget and marks the root operation.
func (s *Scheduler) checkEnergy(root string) {
	if err := s.energy.Err(root); err != nil {
		slog.Warn("energy exhausted",
			"root", root,
			"limit", s.energy.Limit(),
			"error", err,
			"event", "energy_exhausted")
		s.exhausted = true
		// Log once per budget.
		s.energy = NewEnergy(s.energyLimit)
	}
}

// Teardown stops all timers, releases suspended fibers and closes the
// outbox. No batch is produced after Teardown returns. It must not be
// called from inside a listener.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tornDown {
		return
	}
	s.tornDown = true
	for id, stop := range s.timers {
		stop()
		delete(s.timers, id)
	}
	close(s.closed)
	pending := len(s.tasks)
	s.tasks = make(map[int64]*Task)
	s.wakes = nil
	s.outbox.Close()

	slog.Info("scheduler torn down", "pending_tasks", pending, "event", "teardown")
}
