package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/runtime"
	"github.com/roach88/botloom/internal/script"
	"github.com/roach88/botloom/internal/script/exprlang"
	"github.com/roach88/botloom/internal/testutil"
)

// DefaultIDPrefix names bots created by scripts during a scenario.
const DefaultIDPrefix = "bot"

// Harness is the test execution engine.
// It runs scenarios on a fresh runtime with a virtual clock and
// sequential bot ids, so the same scenario always yields the same trace.
type Harness struct {
	rt      *runtime.Runtime
	clock   *testutil.VirtualClock
	batches *testutil.BatchRecorder
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Create a runtime with the expr-lang interpreter
// 2. Apply the scenario world as the first delta
// 3. Execute steps, checking shout expectations
// 4. Capture the final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(scenario, exprlang.New())
}

// RunWith executes a scenario with a custom interpreter.
func RunWith(scenario *Scenario, interp script.Interpreter) (*Result, error) {
	clock := testutil.NewVirtualClock()
	batches := testutil.NewBatchRecorder()

	prefix := scenario.Runtime.IDPrefix
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	opts := []engine.Option{
		engine.WithTimerFunc(clock.AfterFunc),
		engine.WithSink(batches),
		engine.WithIDGenerator(engine.NewSequenceGenerator(prefix)),
	}
	if scenario.Runtime.Energy > 0 {
		opts = append(opts, engine.WithEnergy(scenario.Runtime.Energy))
	}
	if scenario.Runtime.ErrorLimit > 0 {
		opts = append(opts, engine.WithErrorLimit(scenario.Runtime.ErrorLimit))
	}
	if len(scenario.Runtime.DelayedSpaces) > 0 {
		opts = append(opts, engine.WithEditModes(engine.DelayedSpaces(scenario.Runtime.DelayedSpaces...)))
	}

	h := &Harness{
		rt:      runtime.New(interp, runtime.WithEngineOptions(opts...)),
		clock:   clock,
		batches: batches,
		logger:  slog.Default().With("scenario", scenario.Name),
	}
	defer h.rt.Teardown()

	ctx := context.Background()
	result := NewResult()

	if len(scenario.World) > 0 {
		result.AddInputTrace(0, "world "+strings.Join(scenario.World.IDs(), ","))
		if _, err := h.rt.ApplyDelta(ctx, scenario.World.Delta()); err != nil {
			return nil, fmt.Errorf("failed to apply world: %w", err)
		}
		if err := h.collect(0, result); err != nil {
			return nil, err
		}
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	store := h.rt.Store()
	for _, id := range store.IDs() {
		rec := store.Get(id)
		tags := make(map[string]string, len(rec.Tags))
		for k, v := range rec.Tags {
			tags[k] = v
		}
		result.State[id] = tags
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep feeds one step to the runtime and records what it produced.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	switch {
	case step.Shout != "":
		input := "shout " + step.Shout
		if step.IDs != nil {
			input += " to " + strings.Join(step.IDs, ",")
		}
		result.AddInputTrace(n, input)
		res, err := h.rt.Shout(ctx, step.Shout, step.IDs, step.Arg)
		if err != nil {
			return err
		}
		for _, le := range res.Errors {
			result.AddErrorTrace(n, le.BotID, le.Tag, le.Err.Error())
		}
		if step.Expect != nil {
			for _, msg := range checkExpect(n, step.Expect, res) {
				result.AddError(msg)
			}
		}

	case step.Delta != nil:
		result.AddInputTrace(n, "delta "+strings.Join(step.Delta.IDs(), ","))
		if _, err := h.rt.ApplyDelta(ctx, step.Delta.Delta()); err != nil {
			return err
		}

	case step.Resolve != nil:
		result.AddInputTrace(n, fmt.Sprintf("resolve task %d", step.Resolve.Task))
		if _, err := h.rt.Process(ctx, []ir.Action{
			&ir.AsyncResultAction{TaskID: step.Resolve.Task, Result: step.Resolve.Value},
		}); err != nil {
			return err
		}

	case step.Reject != nil:
		result.AddInputTrace(n, fmt.Sprintf("reject task %d", step.Reject.Task))
		if _, err := h.rt.Process(ctx, []ir.Action{
			&ir.AsyncErrorAction{TaskID: step.Reject.Task, Error: step.Reject.Error},
		}); err != nil {
			return err
		}

	case len(step.Perform) > 0:
		names := make([]string, len(step.Perform))
		actions := make([]ir.Action, len(step.Perform))
		for i, a := range step.Perform {
			names[i] = a.Name
			actions[i] = &ir.HostAction{Type: a.Name, Payload: a.Payload}
		}
		result.AddInputTrace(n, "perform "+strings.Join(names, ","))
		if _, err := h.rt.Process(ctx, actions); err != nil {
			return err
		}

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		result.AddInputTrace(n, "advance "+step.Advance)
		fired := h.clock.Advance(d)
		h.logger.Debug("clock advanced", "step", n, "by", d, "fired", fired)

	case step.EditModes != nil:
		spaces := *step.EditModes
		result.AddInputTrace(n, "delayed_spaces "+strings.Join(spaces, ","))
		if len(spaces) == 0 {
			h.rt.SetEditModeProvider(engine.AllImmediate)
		} else {
			h.rt.SetEditModeProvider(engine.DelayedSpaces(spaces...))
		}

	default:
		return fmt.Errorf("no operation")
	}

	return h.collect(n, result)
}

// collect appends the batches emitted since the last call to the trace.
func (h *Harness) collect(n int, result *Result) error {
	for _, b := range h.batches.Take() {
		for _, a := range b.Actions {
			m, err := ir.ActionMap(a)
			if err != nil {
				return fmt.Errorf("batch %d: %w", b.Seq, err)
			}
			result.AddActionTrace(n, EventAction, b.Seq, m)
		}
		for _, r := range b.Rejected {
			m, err := ir.ActionMap(r)
			if err != nil {
				return fmt.Errorf("batch %d: %w", b.Seq, err)
			}
			result.AddActionTrace(n, EventRejected, b.Seq, m)
		}
		h.logger.Debug("batch collected",
			"step", n,
			"batch_seq", b.Seq,
			"actions", len(b.Actions),
			"rejected", len(b.Rejected))
	}
	return nil
}

// checkExpect validates a shout result against an expect clause.
func checkExpect(n int, exp *ExpectClause, res *script.ShoutResult) []string {
	var errs []string
	if exp.Listeners != nil && !slices.Equal(exp.Listeners, res.Listeners) {
		errs = append(errs, fmt.Sprintf("step %d: listeners = %v, want %v", n, res.Listeners, exp.Listeners))
	}
	if exp.Results != nil {
		if len(exp.Results) != len(res.Results) {
			errs = append(errs, fmt.Sprintf("step %d: %d results, want %d", n, len(res.Results), len(exp.Results)))
		} else {
			for i := range exp.Results {
				if !valuesEqual(res.Results[i], exp.Results[i]) {
					errs = append(errs, fmt.Sprintf("step %d: results[%d] = %v, want %v", n, i, res.Results[i], exp.Results[i]))
				}
			}
		}
	}
	if exp.Errors != nil && *exp.Errors != len(res.Errors) {
		errs = append(errs, fmt.Sprintf("step %d: %d listener errors, want %d", n, len(res.Errors), *exp.Errors))
	}
	if exp.Exhausted != nil && *exp.Exhausted != res.Exhausted {
		errs = append(errs, fmt.Sprintf("step %d: exhausted = %t, want %t", n, res.Exhausted, *exp.Exhausted))
	}
	return errs
}
