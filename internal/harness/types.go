package harness

// Trace event types.
const (
	EventInput    = "input"
	EventAction   = "action"
	EventRejected = "rejected"
	EventError    = "error"
)

// TraceEvent is one entry of a scenario trace: an input fed to the
// runtime, an emitted or rejected action, or a listener error.
type TraceEvent struct {
	Type  string `json:"type"`
	Step  int    `json:"step"`
	Batch int64  `json:"batch,omitempty"`

	// Input describes the operation for input events, e.g. "shout onClick".
	Input string `json:"input,omitempty"`

	// Action is the encoded action for action and rejected events.
	Action map[string]any `json:"action,omitempty"`

	// Bot, Tag and Error describe a failed listener.
	Bot   string `json:"bot,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all step expectations and assertions match.
	Pass bool `json:"pass"`

	// Trace contains every input, action and listener error in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final raw tags of every bot.
	State map[string]map[string]string `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInputTrace adds an input to the trace.
func (r *Result) AddInputTrace(step int, input string) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventInput, Step: step, Input: input})
}

// AddActionTrace adds an emitted or rejected action to the trace.
func (r *Result) AddActionTrace(step int, eventType string, batch int64, action map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   eventType,
		Step:   step,
		Batch:  batch,
		Action: action,
	})
}

// AddErrorTrace adds a listener failure to the trace.
func (r *Result) AddErrorTrace(step int, bot, tag, msg string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:  EventError,
		Step:  step,
		Bot:   bot,
		Tag:   tag,
		Error: msg,
	})
}

// Actions returns the emitted action events of the trace.
func (r *Result) Actions() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventAction {
			out = append(out, ev)
		}
	}
	return out
}
