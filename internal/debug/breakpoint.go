package debug

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

var (
	// ErrNotDebugMode is returned by debug calls on a runtime created
	// without debug mode. Only the calling operation fails.
	ErrNotDebugMode = errors.New("runtime is not in debug mode")

	// ErrUnknownBreakpoint is returned for a breakpoint id that is not
	// installed.
	ErrUnknownBreakpoint = errors.New("unknown breakpoint")

	// ErrUnknownStop is returned for a stop id that is not paused.
	ErrUnknownStop = errors.New("unknown stop")

	// ErrStopQueued is returned when continuing a stop that waits behind
	// an earlier one.
	ErrStopQueued = errors.New("stop is queued behind an earlier stop")
)

// Breakpoint pauses a listener at a source position. Breakpoints are keyed
// by (BotID, Tag) and follow the tag: they are removed when its source is
// cleared or the bot is deleted, and kept with the same id and position
// when its text changes.
type Breakpoint struct {
	ID     string            `json:"id"`
	BotID  string            `json:"bot_id"`
	Tag    string            `json:"tag"`
	Line   int               `json:"line"`
	Column int               `json:"column"`
	States []ir.TriggerState `json:"states"`

	// Disabled breakpoints stay installed but never pause.
	Disabled bool `json:"disabled,omitempty"`

	seq int64
}

// Enabled reports whether the breakpoint pauses.
func (b Breakpoint) Enabled() bool { return !b.Disabled }

// Position returns the breakpoint's source position.
func (b Breakpoint) Position() ir.Position {
	return ir.Position{Line: b.Line, Column: b.Column}
}

func (b Breakpoint) validate() error {
	if b.BotID == "" || b.Tag == "" {
		return fmt.Errorf("breakpoint needs a bot and a tag")
	}
	if b.Line < 1 || b.Column < 1 {
		return fmt.Errorf("breakpoint position %d:%d is not 1-based", b.Line, b.Column)
	}
	for _, st := range b.States {
		if !st.Valid() {
			return fmt.Errorf("unknown trigger state %q", st)
		}
	}
	return nil
}

func (b *Breakpoint) matches(ev script.TrapEvent) bool {
	return !b.Disabled &&
		ev.Pos.Line == b.Line &&
		ev.Pos.Column == b.Column &&
		slices.Contains(b.States, ev.State)
}

func (b *Breakpoint) clone() Breakpoint {
	c := *b
	c.States = slices.Clone(b.States)
	return c
}

// Pause is the notification for one stop.
type Pause struct {
	StopID     string
	Breakpoint Breakpoint
	State      ir.TriggerState
	// CallStack lists frames innermost first. The last frame is the
	// synthetic root whose Location is nil.
	CallStack []script.Frame
}
