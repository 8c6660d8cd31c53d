package script

import (
	"fmt"
	"time"

	"github.com/roach88/botloom/internal/ir"
)

// Source is the text of one tag handed to an interpreter. Text has the
// listener or module prefix already removed.
type Source struct {
	BotID string
	Tag   string
	Text  string
}

func (s Source) String() string {
	return fmt.Sprintf("%s.%s", s.BotID, s.Tag)
}

// Body is a compiled listener. arg is the shout argument; the bound bot and
// tag are available from the host.
type Body func(h Host, arg any) (any, error)

// Exports is the namespace a module body produces.
type Exports map[string]any

// ModuleBody is a compiled module. It runs once per resolution and returns
// its exports.
type ModuleBody func(h Host) (Exports, error)

// Interpreter compiles tag text. Implementations must be safe to call from
// the scheduling timeline only; they are never invoked concurrently.
type Interpreter interface {
	CompileListener(src Source) (Body, error)
	CompileModule(src Source) (ModuleBody, error)
}

// Host is the capability surface exposed to a running body.
//
// Calls that suspend (Request, Iterate's Next, Sleep, Trap) block the
// calling body until the scheduler resumes it. Host values are bound to a
// single invocation and must not be retained past it, except by timers
// registered through SetTimeout which receive their own Host.
type Host interface {
	// BotID is the bot the running listener is bound to.
	BotID() string
	// TagName is the tag the running listener was compiled from.
	TagName() string

	GetTag(botID, tag string) any
	SetTag(botID, tag string, value any) error
	EditTag(botID, tag string, ops ...ir.EditOp) error
	SetMask(botID, space, tag string, value any) error
	BotIDs() []string

	// CreateBot returns the new bot id, or "" when the bot's space is in
	// delayed edit mode and the bot will only exist once the add action is
	// applied externally.
	CreateBot(space string, tags map[string]any) (string, error)
	DestroyBot(botID string) error

	Shout(name string, arg any) (*ShoutResult, error)
	Whisper(botIDs []string, name string, arg any) (*ShoutResult, error)

	// Perform queues an action in the current batch.
	Perform(a ir.Action)
	// Reject drops a pending action from the current batch and records a
	// reject wrapper in its place.
	Reject(a ir.Action)

	Request(a *ir.HostAction) (any, error)
	Iterate(a *ir.HostAction) (Iterator, error)
	SetTimeout(delay time.Duration, fn func(Host)) int64
	ClearTimeout(id int64) bool
	Sleep(delay time.Duration) error

	Import(specifier string) (Exports, error)
	Global(name string) (string, bool)

	AddListener(botID, tag string, body Body) int64
	RemoveListener(botID, tag string, id int64) bool

	// Trap is called by interpreters at statement boundaries. It returns
	// immediately unless a breakpoint matches, in which case the body is
	// paused until the stop is continued.
	Trap(ev TrapEvent)
}

// Iterator reads values from an async-iterable host request. Next blocks
// until a value, completion or error arrives.
type Iterator interface {
	Next() (value any, ok bool, err error)
}

// ShoutResult is the outcome of one shout or whisper.
type ShoutResult struct {
	// Results holds the return value of each listener that completed, in
	// dispatch order. Listeners that suspended contribute nil.
	Results []any
	// Errors lists failed listeners in dispatch order.
	Errors []ListenerError
	// Actions is the action list produced by the shout. For root shouts it
	// is the emitted batch after interception.
	Actions []ir.Action
	// Listeners names the bots that actually had the listener.
	Listeners []string
	// Exhausted is set when the energy budget ran out during the shout.
	Exhausted bool
}

// ListenerError is one failed listener invocation.
type ListenerError struct {
	BotID string
	Tag   string
	Err   error
}

func (e ListenerError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.BotID, e.Tag, e.Err)
}

func (e ListenerError) Unwrap() error { return e.Err }

// AnyActionArg is the argument passed to onAnyAction listeners. A handler
// may replace Action to change what gets emitted.
type AnyActionArg struct {
	Action ir.Action
}

// TrapEvent describes a statement boundary reached by a running body.
type TrapEvent struct {
	Pos   ir.Position
	State ir.TriggerState
	// Stack materializes the call stack. It is only called when a
	// breakpoint matches.
	Stack func() []Frame
}
