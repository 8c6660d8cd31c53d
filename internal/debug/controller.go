package debug

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/botloom/internal/bots"
	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// DefaultPauseBuffer is the capacity of the pause notification channel.
const DefaultPauseBuffer = 16

type target struct {
	botID string
	tag   string
}

// stop is one paused continuation.
type stop struct {
	pause    Pause
	resume   func(context.Context) error
	notified bool
}

// Controller installs breakpoints and serializes the stops they cause.
//
// Stops form a FIFO. Only the head is announced on Pauses; the next stop
// is announced once the head is continued, so a second trigger never runs
// ahead of the first even though the scheduler could resume either.
//
// Pause and the bots.Observer methods run on the scheduling timeline.
// The remaining methods may be called from any goroutine but never from
// inside a listener.
type Controller struct {
	mu          sync.Mutex
	breakpoints map[string]*Breakpoint
	byTarget    map[target][]string
	stops       []*stop
	pauses      chan Pause
	closed      bool

	bpSeq   int64
	stopSeq int64
}

var (
	_ engine.Pauser = (*Controller)(nil)
	_ bots.Observer = (*Controller)(nil)
)

// Option configures a Controller.
type Option func(*Controller)

// WithPauseBuffer sets the capacity of the Pauses channel.
func WithPauseBuffer(n int) Option {
	return func(c *Controller) {
		c.pauses = make(chan Pause, n)
	}
}

// New creates a controller with no breakpoints.
func New(opts ...Option) *Controller {
	c := &Controller{
		breakpoints: make(map[string]*Breakpoint),
		byTarget:    make(map[target][]string),
		pauses:      make(chan Pause, DefaultPauseBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pauses returns the stream of stop notifications. It is closed by Close.
func (c *Controller) Pauses() <-chan Pause {
	return c.pauses
}

// SetBreakpoint installs bp and returns its id. States defaults to
// "before".
func (c *Controller) SetBreakpoint(bp Breakpoint) (string, error) {
	if len(bp.States) == 0 {
		bp.States = []ir.TriggerState{ir.TriggerBefore}
	}
	if err := bp.validate(); err != nil {
		return "", fmt.Errorf("set breakpoint: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bpSeq++
	bp.seq = c.bpSeq
	bp.ID = fmt.Sprintf("bp-%d", c.bpSeq)
	bp.States = slices.Clone(bp.States)
	c.breakpoints[bp.ID] = &bp

	key := target{bp.BotID, bp.Tag}
	c.byTarget[key] = append(c.byTarget[key], bp.ID)

	slog.Debug("breakpoint set",
		"breakpoint", bp.ID,
		"bot", bp.BotID,
		"tag", bp.Tag,
		"position", bp.Position().String(),
		"event", "breakpoint_set")
	return bp.ID, nil
}

// RemoveBreakpoint uninstalls a breakpoint. Stops it already caused stay
// paused until continued.
func (c *Controller) RemoveBreakpoint(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.breakpoints[id]; !ok {
		return fmt.Errorf("remove breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}
	c.remove(id)
	return nil
}

// SetEnabled enables or disables a breakpoint.
func (c *Controller) SetEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bp, ok := c.breakpoints[id]
	if !ok {
		return fmt.Errorf("enable breakpoint %s: %w", id, ErrUnknownBreakpoint)
	}
	bp.Disabled = !enabled
	return nil
}

// Breakpoints returns the installed breakpoints in creation order.
func (c *Controller) Breakpoints() []Breakpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Breakpoint, 0, len(c.breakpoints))
	for _, bp := range c.breakpoints {
		out = append(out, bp.clone())
	}
	slices.SortFunc(out, func(a, b Breakpoint) int { return int(a.seq - b.seq) })
	return out
}

// Stops returns the paused stops, head first.
func (c *Controller) Stops() []Pause {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pause, len(c.stops))
	for i, st := range c.stops {
		out[i] = st.pause
	}
	return out
}

// Paused reports whether any stop is waiting to be continued.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stops) > 0
}

// ContinueAfterStop resumes the head stop. The resumed continuation runs
// to completion or its next suspension before ContinueAfterStop returns,
// and its actions are emitted as a new batch. The next queued stop, if
// any, is then announced.
func (c *Controller) ContinueAfterStop(ctx context.Context, stopID string) error {
	c.mu.Lock()
	if len(c.stops) == 0 || c.stops[0].pause.StopID != stopID {
		err := c.stopError(stopID)
		c.mu.Unlock()
		return err
	}
	head := c.stops[0]
	c.stops = c.stops[1:]
	c.mu.Unlock()

	slog.Debug("continuing stop", "stop", stopID, "event", "stop_continued")
	err := head.resume(ctx)

	c.mu.Lock()
	c.announce()
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("continue %s: %w", stopID, err)
	}
	return nil
}

func (c *Controller) stopError(stopID string) error {
	for _, st := range c.stops {
		if st.pause.StopID == stopID {
			return fmt.Errorf("continue %s: %w", stopID, ErrStopQueued)
		}
	}
	return fmt.Errorf("continue %s: %w", stopID, ErrUnknownStop)
}

// Close drops every stop and closes the Pauses channel. Continuations of
// dropped stops are reclaimed by the scheduler's teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stops = nil
	close(c.pauses)
}

// Pause implements engine.Pauser.
func (c *Controller) Pause(botID, tag string, ev script.TrapEvent, resume func(context.Context) error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	var hit *Breakpoint
	for _, id := range c.byTarget[target{botID, tag}] {
		if bp := c.breakpoints[id]; bp.matches(ev) {
			hit = bp
			break
		}
	}
	if hit == nil {
		return false
	}

	c.stopSeq++
	st := &stop{
		pause: Pause{
			StopID:     fmt.Sprintf("stop-%d", c.stopSeq),
			Breakpoint: hit.clone(),
			State:      ev.State,
		},
		resume: resume,
	}
	if ev.Stack != nil {
		st.pause.CallStack = ev.Stack()
	}
	c.stops = append(c.stops, st)

	slog.Info("breakpoint hit",
		"breakpoint", hit.ID,
		"stop", st.pause.StopID,
		"bot", botID,
		"tag", tag,
		"state", ev.State,
		"queued", len(c.stops)-1,
		"event", "breakpoint_hit")

	c.announce()
	return true
}

// announce sends the head stop on the pause channel once. Must hold mu.
func (c *Controller) announce() {
	if c.closed || len(c.stops) == 0 || c.stops[0].notified {
		return
	}
	head := c.stops[0]
	head.notified = true
	select {
	case c.pauses <- head.pause:
	default:
		slog.Warn("pause notification dropped, channel full",
			"stop", head.pause.StopID,
			"event", "pause_dropped")
	}
}

// TagChanged implements bots.Observer. Breakpoints on a tag whose source
// no longer holds a listener are removed; otherwise they rebind to the
// new text with the same id and position.
func (c *Controller) TagChanged(botID, tag, _, newText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.byTarget[target{botID, tag}]
	if len(ids) == 0 {
		return
	}
	if !compiler.IsListener(newText) {
		for _, id := range slices.Clone(ids) {
			c.remove(id)
		}
		slog.Debug("breakpoints removed with listener source",
			"bot", botID,
			"tag", tag,
			"count", len(ids),
			"event", "breakpoint_removed")
		return
	}
	slog.Debug("breakpoints rebound", "bot", botID, "tag", tag, "count", len(ids), "event", "breakpoint_rebound")
}

// BotRemoved implements bots.Observer.
func (c *Controller) BotRemoved(botID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ids := range c.byTarget {
		if key.botID != botID {
			continue
		}
		for _, id := range slices.Clone(ids) {
			c.remove(id)
		}
	}
}

// remove uninstalls one breakpoint. Must hold mu.
func (c *Controller) remove(id string) {
	bp, ok := c.breakpoints[id]
	if !ok {
		return
	}
	delete(c.breakpoints, id)
	key := target{bp.BotID, bp.Tag}
	ids := slices.DeleteFunc(c.byTarget[key], func(other string) bool { return other == id })
	if len(ids) == 0 {
		delete(c.byTarget, key)
		return
	}
	c.byTarget[key] = ids
}
