package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRun(t *testing.T, yaml string) *Result {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	return result
}

func inputs(r *Result) []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Type == EventInput {
			out = append(out, ev.Input)
		}
	}
	return out
}

func TestRun_Shout(t *testing.T) {
	result := mustRun(t, `
name: shout
world:
  b1: { tags: { greet: '@toast("hi " + that)' } }
  b2: { tags: { greet: '@toast("yo " + that)' } }
steps:
  - shout: greet
    ids: [b2]
    arg: ann
    expect:
      listeners: [b2]
assertions:
  - type: action_count
    action: { name: toast }
    count: 1
  - type: action_contains
    action: { payload: { message: yo ann } }
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"world b1,b2", "shout greet to b2"}, inputs(result))

	actions := result.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, 1, actions[0].Step)
	assert.Equal(t, int64(1), actions[0].Batch)
}

func TestRun_ExpectMismatch(t *testing.T) {
	result := mustRun(t, `
name: mismatch
world:
  b1: { tags: { ping: '@"pong"' } }
steps:
  - shout: ping
    expect:
      listeners: [b1, b2]
      results: [ping]
      errors: 1
      exhausted: true
`)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "step 1: listeners = [b1], want [b1 b2]")
	assert.Contains(t, result.Errors[1], "results[0] = pong, want ping")
	assert.Contains(t, result.Errors[2], "0 listener errors, want 1")
	assert.Contains(t, result.Errors[3], "exhausted = false, want true")
}

func TestRun_DeltaAndFinalState(t *testing.T) {
	result := mustRun(t, `
name: deltas
world:
  b1: { tags: { label: a, color: red } }
  b2: { tags: { label: x } }
steps:
  - delta:
      b1:
        partial: true
        tags: { label: b, color: null }
      b2: null
      b3:
        tags: { n: 7 }
assertions:
  - type: tag_equals
    bot: b1
    tag: label
    value: b
  - type: tag_equals
    bot: b1
    tag: color
  - type: bot_absent
    bot: b2
  - type: tag_equals
    bot: b3
    tag: n
    value: 7
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"world b1,b2", "delta b1,b2,b3"}, inputs(result))
	assert.Equal(t, map[string]string{"label": "b"}, result.State["b1"])
	assert.Equal(t, map[string]string{"n": "7"}, result.State["b3"])
}

func TestRun_PerformHostAction(t *testing.T) {
	result := mustRun(t, `
name: perform
steps:
  - perform:
      - name: toast
        payload: { message: from host }
      - name: beep
assertions:
  - type: action_order
    actions:
      - { type: host, name: toast, payload: { message: from host } }
      - { type: host, name: beep }
  - type: batch_count
    count: 1
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"perform toast,beep"}, inputs(result))
}

func TestRun_RejectTask(t *testing.T) {
	result := mustRun(t, `
name: reject_task
world:
  b1: { tags: { ask: '@request("fetch")' } }
  monitor: { tags: { onError: '@toast(that.bot + "." + that.tag)' } }
steps:
  - shout: ask
  - reject: { task: 1, error: boom }
assertions:
  - type: action_contains
    action: { type: host, name: fetch, task_id: 1 }
  - type: action_contains
    action: { name: toast, payload: { message: b1.ask } }
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"world b1,monitor", "shout ask", "reject task 1"}, inputs(result))
}

func TestRun_ChangeEditModes(t *testing.T) {
	result := mustRun(t, `
name: edit_modes
runtime:
  delayed_spaces: [shared]
world:
  b1: { tags: { spawn: '@createIn("shared", {})' } }
steps:
  - shout: spawn
  - delayed_spaces: []
  - shout: spawn
assertions:
  - type: bot_absent
    bot: bot-1
  - type: bot_exists
    bot: bot-2
  - type: action_count
    action: { type: add_bot }
    count: 2
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"world b1", "shout spawn", "delayed_spaces ", "shout spawn"}, inputs(result))
}

func TestRun_IDPrefix(t *testing.T) {
	result := mustRun(t, `
name: prefix
runtime:
  id_prefix: npc
world:
  b1: { tags: { spawn: '@create({"kind": "npc"})' } }
steps:
  - shout: spawn
    expect:
      results: [npc-1]
`)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.State, "npc-1")
}

func TestRun_ListenerErrorTrace(t *testing.T) {
	result := mustRun(t, `
name: errors
world:
  b1: { tags: { broken: '@setTag("ghost", "x", 1)' } }
steps:
  - shout: broken
`)

	var errs []TraceEvent
	for _, ev := range result.Trace {
		if ev.Type == EventError {
			errs = append(errs, ev)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, "b1", errs[0].Bot)
	assert.Equal(t, "broken", errs[0].Tag)
	assert.Contains(t, errs[0].Error, "ghost")
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/delayed_create.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
