package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/botloom/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventInput:
				fmt.Fprintf(&buf, "  [%d] step %d: %s\n", i+1, event.Step, event.Input)
			case EventAction, EventRejected:
				fmt.Fprintf(&buf, "  [%d]   %s #%d %v\n", i+1, event.Type, event.Batch, event.Action)
			case EventError:
				fmt.Fprintf(&buf, "  [%d]   error %s.%s: %s\n", i+1, event.Bot, event.Tag, event.Error)
			}
		}
	}

	return buf.String()
}

// assertActionContains checks that an emitted (or rejected) action
// matches the expected subset.
func assertActionContains(trace []TraceEvent, assertion Assertion, eventType string) error {
	for _, event := range trace {
		if event.Type != eventType {
			continue
		}
		action := event.Action
		if eventType == EventRejected {
			action, _ = event.Action["action"].(map[string]any)
		}
		if matchSubset(action, assertion.Action) {
			return nil
		}
	}

	return &AssertionError{
		Type:     assertion.Type,
		Expected: fmt.Sprintf("%s action matching %v", eventType, assertion.Action),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertActionOrder checks that actions matching each expected subset
// appear in the specified order. Intervening actions are allowed.
func assertActionOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, want := range assertion.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Type == EventAction && matchSubset(event.Action, want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertActionOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("no action matching %v after position %d", want, i),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertActionCount checks that exactly Count emitted actions match.
func assertActionCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventAction && matchSubset(event.Action, assertion.Action) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d actions matching %v", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d actions", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertBatchCount checks the number of distinct emitted batches.
func assertBatchCount(trace []TraceEvent, assertion Assertion) error {
	seen := make(map[int64]bool)
	for _, event := range trace {
		if event.Type == EventAction || event.Type == EventRejected {
			seen[event.Batch] = true
		}
	}
	if len(seen) != assertion.Count {
		return &AssertionError{
			Type:     AssertBatchCount,
			Expected: fmt.Sprintf("%d batches", assertion.Count),
			Actual:   fmt.Sprintf("%d batches", len(seen)),
			Trace:    trace,
		}
	}
	return nil
}

// assertErrorContains checks that a listener failed with a message
// containing the expected text.
func assertErrorContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventError && event.Bot == assertion.Bot && event.Tag == assertion.Tag &&
			strings.Contains(event.Error, assertion.Message) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertErrorContains,
		Expected: fmt.Sprintf("%s.%s to fail with %q", assertion.Bot, assertion.Tag, assertion.Message),
		Actual:   "no matching error in trace",
		Trace:    trace,
	}
}

// assertTagEquals checks the final raw text of a tag.
func assertTagEquals(state map[string]map[string]string, assertion Assertion) error {
	tags, ok := state[assertion.Bot]
	if !ok {
		return &AssertionError{
			Type:     AssertTagEquals,
			Expected: fmt.Sprintf("bot %s to exist", assertion.Bot),
			Actual:   "bot not found",
		}
	}
	want := ""
	if assertion.Value != nil {
		want = TagText(assertion.Value)
	}
	if got := tags[assertion.Tag]; got != want {
		return &AssertionError{
			Type:     AssertTagEquals,
			Expected: fmt.Sprintf("%s.%s = %q", assertion.Bot, assertion.Tag, want),
			Actual:   fmt.Sprintf("%s.%s = %q", assertion.Bot, assertion.Tag, got),
		}
	}
	return nil
}

func assertBotPresence(state map[string]map[string]string, assertion Assertion) error {
	_, exists := state[assertion.Bot]
	want := assertion.Type == AssertBotExists
	if exists != want {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("bot %s exists: %t", assertion.Bot, want),
			Actual:   fmt.Sprintf("bot %s exists: %t", assertion.Bot, exists),
		}
	}
	return nil
}

// matchSubset checks if actual contains all expected keys (subset match).
// Nested maps match as subsets too; other values compare by canonical
// JSON so that YAML integers equal decoded JSON numbers.
func matchSubset(actual map[string]any, expected map[string]any) bool {
	if actual == nil {
		return len(expected) == 0
	}
	for key, want := range expected {
		got, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values for equality.
func valuesEqual(actual, expected any) bool {
	if wantMap, ok := expected.(map[string]any); ok {
		gotMap, ok := actual.(map[string]any)
		return ok && matchSubset(gotMap, wantMap)
	}
	a, err := ir.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	e, err := ir.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertActionContains:
			err = assertActionContains(result.Trace, assertion, EventAction)
		case AssertRejectedContains:
			err = assertActionContains(result.Trace, assertion, EventRejected)
		case AssertActionOrder:
			err = assertActionOrder(result.Trace, assertion)
		case AssertActionCount:
			err = assertActionCount(result.Trace, assertion)
		case AssertBatchCount:
			err = assertBatchCount(result.Trace, assertion)
		case AssertErrorContains:
			err = assertErrorContains(result.Trace, assertion)
		case AssertTagEquals:
			err = assertTagEquals(result.State, assertion)
		case AssertBotExists, AssertBotAbsent:
			err = assertBotPresence(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
