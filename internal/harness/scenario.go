package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a runtime test scenario.
// A scenario loads a world, feeds a sequence of inputs to a fresh runtime
// and asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Runtime overrides scheduler settings.
	Runtime Settings `yaml:"runtime,omitempty"`

	// World is applied as the first delta, before any step.
	World World `yaml:"world"`

	// Steps are fed to the runtime in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Settings configures the runtime a scenario runs on.
type Settings struct {
	Energy        int      `yaml:"energy,omitempty"`
	ErrorLimit    int      `yaml:"error_limit,omitempty"`
	DelayedSpaces []string `yaml:"delayed_spaces,omitempty"`
	// IDPrefix names script-created bots "<prefix>-N". Default "bot".
	IDPrefix string `yaml:"id_prefix,omitempty"`
}

// Step is one input. Exactly one of Shout, Delta, Resolve, Reject,
// Perform, Advance or EditModes must be set.
type Step struct {
	// Shout names the listener to shout. IDs limits it to some bots.
	Shout string   `yaml:"shout,omitempty"`
	IDs   []string `yaml:"ids,omitempty"`
	Arg   any      `yaml:"arg,omitempty"`

	// Delta is applied as an inbound delta.
	Delta World `yaml:"delta,omitempty"`

	// Resolve and Reject settle a pending task.
	Resolve *TaskStep `yaml:"resolve,omitempty"`
	Reject  *TaskStep `yaml:"reject,omitempty"`

	// Perform processes host actions from outside any listener.
	Perform []ActionStep `yaml:"perform,omitempty"`

	// Advance moves the virtual clock, firing due timers ("250ms").
	Advance string `yaml:"advance,omitempty"`

	// EditModes replaces the delayed spaces. An empty list makes every
	// space immediate.
	EditModes *[]string `yaml:"delayed_spaces,omitempty"`

	// Expect validates a shout's result.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// TaskStep settles a pending task.
type TaskStep struct {
	Task  int64  `yaml:"task"`
	Value any    `yaml:"value,omitempty"`
	Error string `yaml:"error,omitempty"`
}

// ActionStep is a host action.
type ActionStep struct {
	Name    string         `yaml:"name"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// ExpectClause specifies the expected outcome of a shout.
// Unset fields are not checked.
type ExpectClause struct {
	// Listeners lists the bots that had the listener, in dispatch order.
	Listeners []string `yaml:"listeners,omitempty"`

	// Results lists listener return values, in dispatch order.
	Results []any `yaml:"results,omitempty"`

	// Errors is the number of failed listeners.
	Errors *int `yaml:"errors,omitempty"`

	// Exhausted is whether the energy budget ran out.
	Exhausted *bool `yaml:"exhausted,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "action_contains": an emitted action matches Action
	// - "action_order": actions matching Actions appear in order
	// - "action_count": exactly Count emitted actions match Action
	// - "batch_count": exactly Count batches were emitted
	// - "rejected_contains": a rejected action matches Action
	// - "error_contains": a listener of Bot/Tag failed with Message
	// - "tag_equals": the final raw text of Bot's Tag equals Value
	// - "bot_exists", "bot_absent": Bot is or is not in the final state
	Type string `yaml:"type"`

	// Action is a subset of the encoded action, e.g.
	// {type: host, name: toast, payload: {message: hi}}.
	Action map[string]any `yaml:"action,omitempty"`

	// Actions is the expected action order (used by action_order).
	Actions []map[string]any `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	Bot     string `yaml:"bot,omitempty"`
	Tag     string `yaml:"tag,omitempty"`
	Value   any    `yaml:"value,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertActionContains   = "action_contains"
	AssertActionOrder      = "action_order"
	AssertActionCount      = "action_count"
	AssertBatchCount       = "batch_count"
	AssertRejectedContains = "rejected_contains"
	AssertErrorContains    = "error_contains"
	AssertTagEquals        = "tag_equals"
	AssertBotExists        = "bot_exists"
	AssertBotAbsent        = "bot_absent"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files directly under dir,
// sorted by name.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that all required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Runtime.Energy < 0 {
		return fmt.Errorf("runtime.energy must be non-negative")
	}
	if s.Runtime.ErrorLimit < 0 {
		return fmt.Errorf("runtime.error_limit must be non-negative")
	}
	if len(s.Steps) == 0 && len(s.World) == 0 {
		return fmt.Errorf("a world or at least one step is required")
	}
	for i, step := range s.Steps {
		if err := validateStep(step, i); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s Step, index int) error {
	set := 0
	for _, ok := range []bool{
		s.Shout != "",
		s.Delta != nil,
		s.Resolve != nil,
		s.Reject != nil,
		len(s.Perform) > 0,
		s.Advance != "",
		s.EditModes != nil,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", index, set)
	}
	if s.Expect != nil && s.Shout == "" {
		return fmt.Errorf("steps[%d]: expect is only supported on shout steps", index)
	}
	if s.Advance != "" {
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not be negative", index)
		}
	}
	if s.Reject != nil && s.Reject.Error == "" {
		return fmt.Errorf("steps[%d]: reject requires an error message", index)
	}
	for j, a := range s.Perform {
		if a.Name == "" {
			return fmt.Errorf("steps[%d].perform[%d]: name is required", index, j)
		}
	}
	return nil
}

// validateAssertion validates a single assertion.
func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertActionContains, AssertRejectedContains:
		if len(a.Action) == 0 {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, a.Type)
		}
	case AssertActionOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for action_order", index)
		}
	case AssertActionCount:
		if len(a.Action) == 0 {
			return fmt.Errorf("assertions[%d]: action is required for action_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for action_count", index)
		}
	case AssertBatchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for batch_count", index)
		}
	case AssertErrorContains:
		if a.Bot == "" || a.Tag == "" {
			return fmt.Errorf("assertions[%d]: bot and tag are required for error_contains", index)
		}
	case AssertTagEquals:
		if a.Bot == "" || a.Tag == "" {
			return fmt.Errorf("assertions[%d]: bot and tag are required for tag_equals", index)
		}
	case AssertBotExists, AssertBotAbsent:
		if a.Bot == "" {
			return fmt.Errorf("assertions[%d]: bot is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
