package ir

import "fmt"

// Position is a 1-based source position inside a tag's script text.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// TriggerState says whether a breakpoint fires before or after the
// statement at its position runs.
type TriggerState string

const (
	TriggerBefore TriggerState = "before"
	TriggerAfter  TriggerState = "after"
)

// Valid reports whether s is a known trigger state.
func (s TriggerState) Valid() bool {
	return s == TriggerBefore || s == TriggerAfter
}
