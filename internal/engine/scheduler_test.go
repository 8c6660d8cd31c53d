package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botloom/internal/bots"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// fixture wires a scheduler to a registry interpreter. Listener tags are
// written as "@name" where name is registered with listen.
type fixture struct {
	t     *testing.T
	reg   *script.Registry
	store *bots.Store
	s     *Scheduler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := script.NewRegistry()
	store := bots.New(reg)
	s := New(store, reg, append([]Option{WithIDGenerator(NewSequenceGenerator("new"))}, opts...)...)
	t.Cleanup(s.Teardown)
	return &fixture{t: t, reg: reg, store: store, s: s}
}

func (f *fixture) listen(name string, body script.Body) {
	f.reg.Listener(name, body)
}

func (f *fixture) add(id string, tags map[string]string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Add(&ir.BotRecord{ID: id, Tags: tags}))
}

func (f *fixture) addIn(id, space string, tags map[string]string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Add(&ir.BotRecord{ID: id, Space: space, Tags: tags}))
}

func (f *fixture) shout(name string, arg any) *script.ShoutResult {
	f.t.Helper()
	res, err := f.s.Shout(context.Background(), name, nil, arg)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) batches() []*Batch {
	return f.s.Outbox().Drain()
}

func toasts(actions []ir.Action) []any {
	var out []any
	for _, a := range actions {
		if h, ok := a.(*ir.HostAction); ok && h.Type == "toast" {
			out = append(out, h.Payload["message"])
		}
	}
	return out
}

func toastOf(msg any) script.Body {
	return func(h script.Host, _ any) (any, error) {
		h.Perform(ir.Toast(msg))
		return nil, nil
	}
}

// manualTimers collects timers so tests fire them explicitly.
type manualTimers struct {
	mu    sync.Mutex
	fires []func()
}

func (m *manualTimers) after(_ time.Duration, fire func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.fires)
	m.fires = append(m.fires, fire)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		stopped := m.fires[idx] != nil
		m.fires[idx] = nil
		return stopped
	}
}

func (m *manualTimers) fireAll() {
	m.mu.Lock()
	pending := m.fires
	m.fires = make([]func(), len(pending))
	m.mu.Unlock()
	for _, fire := range pending {
		if fire != nil {
			fire()
		}
	}
}

func TestShoutCollectsOneBatch(t *testing.T) {
	f := newFixture(t)
	f.listen("greet", func(h script.Host, _ any) (any, error) {
		h.Perform(ir.Toast("hi " + h.BotID()))
		return h.BotID(), nil
	})
	f.add("b1", map[string]string{"onClick": "@greet"})
	f.add("b2", map[string]string{"other": "x"})
	f.add("b3", map[string]string{"onClick": "@greet"})

	res := f.shout("onClick", nil)

	assert.Equal(t, []string{"b1", "b3"}, res.Listeners)
	assert.Equal(t, []any{"b1", "b3"}, res.Results)
	assert.Equal(t, []any{"hi b1", "hi b3"}, toasts(res.Actions))
	assert.Empty(t, res.Errors)

	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, int64(1), batches[0].Seq)
	assert.Len(t, batches[0].Actions, 2)
}

func TestWhisperTargetsGivenBots(t *testing.T) {
	f := newFixture(t)
	f.listen("greet", toastOf("hi"))
	f.add("b1", map[string]string{"onClick": "@greet"})
	f.add("b2", map[string]string{"onClick": "@greet"})

	res, err := f.s.Shout(context.Background(), "onClick", []string{"b2", "missing"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, res.Listeners)

	res, err = f.s.Shout(context.Background(), "onClick", []string{}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Listeners)
}

func TestEmptyBatchNotEmitted(t *testing.T) {
	f := newFixture(t)
	f.listen("idle", func(script.Host, any) (any, error) { return 1, nil })
	f.add("b1", map[string]string{"onClick": "@idle"})

	res := f.shout("onClick", nil)
	assert.Equal(t, []any{1}, res.Results)
	assert.Empty(t, f.batches())
}

func TestEnergyCeilingStopsRunawayShouts(t *testing.T) {
	f := newFixture(t, WithEnergy(10))
	calls := 0
	f.listen("loop", func(h script.Host, _ any) (any, error) {
		calls++
		_, err := h.Shout("loop", nil)
		return nil, err
	})
	f.add("b1", map[string]string{"loop": "@loop"})

	res, err := f.s.Shout(context.Background(), "loop", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
	assert.True(t, res.Exhausted)
	assert.Empty(t, res.Errors)

	// The next root starts with a fresh budget.
	calls = 0
	f.shout("loop", nil)
	assert.Equal(t, 10, calls)
}

func TestApplyDeltaShoutsOnBotAddedInOneBatch(t *testing.T) {
	f := newFixture(t)
	f.listen("countAdded", func(h script.Host, arg any) (any, error) {
		added := arg.(map[string]any)["bots"].([]string)
		h.Perform(ir.Toast(len(added)))
		return nil, nil
	})

	res, err := f.s.ApplyDelta(context.Background(), ir.Delta{
		"A": {ID: "A", Tags: map[string]ir.TagInput{"onBotAdded": ir.Text("@countAdded")}},
		"B": {ID: "B", Tags: map[string]ir.TagInput{"name": ir.Text("b")}},
		"C": {ID: "C", Tags: map[string]ir.TagInput{"name": ir.Text("c")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, res.AddedBots)

	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []any{3}, toasts(batches[0].Actions))
}

func TestApplyDeltaShoutsChangesAndRemovals(t *testing.T) {
	f := newFixture(t)
	var changed []string
	var removed []string
	f.listen("changed", func(_ script.Host, arg any) (any, error) {
		changed = arg.(map[string]any)["tags"].([]string)
		return nil, nil
	})
	f.listen("removed", func(_ script.Host, arg any) (any, error) {
		removed = arg.(map[string]any)["botIDs"].([]string)
		return nil, nil
	})
	f.add("watcher", map[string]string{"onBotChanged": "@changed", "onAnyBotsRemoved": "@removed"})
	f.add("gone", map[string]string{})

	_, err := f.s.ApplyDelta(context.Background(), ir.Delta{
		"watcher": {Tags: map[string]ir.TagInput{"color": ir.Text("red"), "size": ir.Text("2")}},
		"gone":    nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "size"}, changed)
	assert.Equal(t, []string{"gone"}, removed)
}

func TestImmediateCreateShoutsOnCreate(t *testing.T) {
	f := newFixture(t)
	var created string
	f.listen("spawn", func(h script.Host, _ any) (any, error) {
		id, err := h.CreateBot("", map[string]any{"onCreate": "@hello", "count": 2})
		created = id
		return id, err
	})
	f.listen("hello", toastOf("created"))
	f.add("b1", map[string]string{"spawn": "@spawn"})

	res := f.shout("spawn", nil)
	require.Equal(t, "new-1", created)
	assert.True(t, f.store.Has("new-1"))
	assert.Equal(t, "2", f.store.OwnRaw("new-1", "count"))

	require.Len(t, res.Actions, 2)
	add, ok := res.Actions[0].(*ir.AddBotAction)
	require.True(t, ok)
	assert.Equal(t, "new-1", add.Bot.ID)
	assert.Equal(t, []any{"created"}, toasts(res.Actions))
}

func TestDelayedCreateReturnsEmptyAndEmitsAdd(t *testing.T) {
	f := newFixture(t, WithEditModes(DelayedSpaces("shared")))
	f.listen("spawn", func(h script.Host, _ any) (any, error) {
		return h.CreateBot("shared", map[string]any{"name": "later"})
	})
	f.add("b1", map[string]string{"spawn": "@spawn"})

	res := f.shout("spawn", nil)
	assert.Equal(t, []any{""}, res.Results)
	assert.False(t, f.store.Has("new-1"))

	require.Len(t, res.Actions, 1)
	add := res.Actions[0].(*ir.AddBotAction)
	assert.Equal(t, "shared", add.Bot.Space)
	assert.Equal(t, "later", add.Bot.Tags["name"])
}

func TestDelayedDestroyLeavesBotInPlace(t *testing.T) {
	f := newFixture(t, WithEditModes(DelayedSpaces("shared")))
	destroyed := 0
	f.listen("destroy", func(h script.Host, _ any) (any, error) {
		require.NoError(t, h.DestroyBot("target"))
		require.NoError(t, h.DestroyBot("target"))
		return nil, nil
	})
	f.listen("bye", func(script.Host, any) (any, error) {
		destroyed++
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@destroy"})
	f.addIn("target", "shared", map[string]string{"onDestroy": "@bye"})

	res := f.shout("go", nil)
	assert.True(t, f.store.Has("target"))
	assert.Equal(t, 1, destroyed)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, &ir.RemoveBotAction{ID: "target"}, res.Actions[0])
}

func TestEditModeFollowsSpaceFromFullRecord(t *testing.T) {
	f := newFixture(t, WithEditModes(DelayedSpaces("shared")))
	f.listen("destroy", func(h script.Host, _ any) (any, error) {
		return nil, h.DestroyBot("target")
	})
	f.add("b1", map[string]string{"go": "@destroy"})
	f.addIn("target", "shared", map[string]string{"n": "1"})

	res, err := f.s.ApplyDelta(context.Background(), ir.Delta{
		"target": ir.FullDelta(&ir.BotRecord{ID: "target", Space: "tempLocal", Tags: map[string]string{"n": "1"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"target"}, res.UpdatedBots)

	f.shout("go", nil)
	assert.False(t, f.store.Has("target"))
}

func TestImmediateDestroyRemovesBot(t *testing.T) {
	f := newFixture(t)
	f.listen("destroy", func(h script.Host, _ any) (any, error) {
		return nil, h.DestroyBot("target")
	})
	f.add("b1", map[string]string{"go": "@destroy"})
	f.add("target", map[string]string{})

	f.shout("go", nil)
	assert.False(t, f.store.Has("target"))
}

func TestTagWritesCoalescePerBot(t *testing.T) {
	f := newFixture(t)
	f.listen("write", func(h script.Host, _ any) (any, error) {
		require.NoError(t, h.SetTag("b1", "color", "red"))
		require.NoError(t, h.SetTag("b2", "size", 3))
		require.NoError(t, h.SetTag("b1", "color", "blue"))
		require.NoError(t, h.SetTag("b1", "shape", "round"))
		assert.Equal(t, "blue", h.GetTag("b1", "color"))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@write"})
	f.add("b2", map[string]string{})

	res := f.shout("go", nil)
	require.Len(t, res.Actions, 2)

	first := res.Actions[0].(*ir.UpdateBotAction)
	assert.Equal(t, "b1", first.ID)
	assert.Equal(t, "blue", *first.Tags["color"])
	assert.Equal(t, "round", *first.Tags["shape"])

	second := res.Actions[1].(*ir.UpdateBotAction)
	assert.Equal(t, "b2", second.ID)
	assert.Equal(t, "3", *second.Tags["size"])
}

func TestSetTagOnMissingBotFails(t *testing.T) {
	f := newFixture(t)
	var setErr error
	f.listen("write", func(h script.Host, _ any) (any, error) {
		setErr = h.SetTag("ghost", "x", 1)
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@write"})

	f.shout("go", nil)
	require.Error(t, setErr)
	assert.Contains(t, setErr.Error(), "ghost")
}

func TestWritesToCreatedBotCoalesceIntoAdd(t *testing.T) {
	f := newFixture(t)
	f.listen("spawn", func(h script.Host, _ any) (any, error) {
		id, err := h.CreateBot("", map[string]any{"name": "first"})
		require.NoError(t, err)
		require.NoError(t, h.SetTag(id, "name", "second"))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@spawn"})

	res := f.shout("go", nil)
	require.Len(t, res.Actions, 1)
	add := res.Actions[0].(*ir.AddBotAction)
	assert.Equal(t, "second", add.Bot.Tags["name"])
	assert.Equal(t, "second", f.store.OwnRaw("new-1", "name"))
}

func TestEditTagCarriesEditForEchoRecognition(t *testing.T) {
	f := newFixture(t)
	f.listen("edit", func(h script.Host, _ any) (any, error) {
		return nil, h.EditTag("b1", "text", ir.Preserve(5), ir.Insert(" world"))
	})
	f.add("b1", map[string]string{"go": "@edit", "text": "hello"})

	res := f.shout("go", nil)
	assert.Equal(t, "hello world", f.store.OwnRaw("b1", "text"))

	u := res.Actions[0].(*ir.UpdateBotAction)
	edit := u.Edits["text"]
	require.NotNil(t, edit)
	assert.True(t, f.store.EditApplied(edit.ID))

	// The echo of the same edit is skipped.
	_, err := f.s.ApplyDelta(context.Background(), ir.Delta{
		"b1": {Tags: map[string]ir.TagInput{"text": {Edit: edit}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", f.store.OwnRaw("b1", "text"))
}

func TestAsyncResumeStartsNewBatch(t *testing.T) {
	f := newFixture(t)
	f.listen("fetch", func(h script.Host, _ any) (any, error) {
		h.Perform(ir.Toast("before"))
		v, err := h.Request(&ir.HostAction{Type: "fetch"})
		if err != nil {
			return nil, err
		}
		h.Perform(ir.Toast(v))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@fetch"})

	res := f.shout("go", nil)
	assert.Equal(t, []any{nil}, res.Results)
	require.Len(t, res.Actions, 2)
	req := res.Actions[1].(*ir.HostAction)
	assert.Equal(t, "fetch", req.Type)
	require.NotZero(t, req.TaskID)
	assert.Equal(t, []int64{req.TaskID}, f.s.Tasks())

	first := f.batches()
	require.Len(t, first, 1)

	require.NoError(t, f.s.ResolveTask(context.Background(), req.TaskID, "data"))
	second := f.batches()
	require.Len(t, second, 1)
	assert.Equal(t, []any{"data"}, toasts(second[0].Actions))
	assert.Greater(t, second[0].Seq, first[0].Seq)
	assert.Empty(t, f.s.Tasks())

	err := f.s.ResolveTask(context.Background(), req.TaskID, "again")
	assert.True(t, IsTaskNotFound(err))
}

func TestProcessResolvesTasksInArrivalOrder(t *testing.T) {
	f := newFixture(t)
	f.listen("fetch", func(h script.Host, arg any) (any, error) {
		v, err := h.Request(&ir.HostAction{Type: "fetch", Payload: map[string]any{"n": arg}})
		if err != nil {
			h.Perform(ir.Toast("failed: " + err.Error()))
			return nil, nil
		}
		h.Perform(ir.Toast(v))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@fetch"})

	f.shout("go", 1)
	f.shout("go", 2)
	f.batches()

	batches, err := f.s.Process(context.Background(), []ir.Action{
		&ir.AsyncErrorAction{TaskID: 2, Error: "timeout"},
		&ir.AsyncResultAction{TaskID: 1, Result: "one"},
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, []any{"failed: timeout"}, toasts(batches[0].Actions))
	assert.Equal(t, []any{"one"}, toasts(batches[1].Actions))
}

func TestIterableValuesBufferUntilConsumed(t *testing.T) {
	f := newFixture(t)
	f.listen("stream", func(h script.Host, _ any) (any, error) {
		it, err := h.Iterate(&ir.HostAction{Type: "stream"})
		require.NoError(t, err)
		// Wait on an unrelated request first so values arrive early.
		if _, err := h.Request(&ir.HostAction{Type: "ready"}); err != nil {
			return nil, err
		}
		for {
			v, ok, err := it.Next()
			if err != nil {
				h.Perform(ir.Toast("error: " + err.Error()))
				return nil, nil
			}
			if !ok {
				h.Perform(ir.Toast("done"))
				return nil, nil
			}
			h.Perform(ir.Toast(v))
		}
	})
	f.add("b1", map[string]string{"go": "@stream"})

	res := f.shout("go", nil)
	require.Len(t, res.Actions, 2)
	streamID := res.Actions[0].(*ir.HostAction).TaskID
	readyID := res.Actions[1].(*ir.HostAction).TaskID

	batches, err := f.s.Process(context.Background(), []ir.Action{
		&ir.IterableNextAction{TaskID: streamID, Value: "a"},
		&ir.IterableNextAction{TaskID: streamID, Value: "b"},
	})
	require.NoError(t, err)
	assert.Empty(t, batches)

	batches, err = f.s.Process(context.Background(), []ir.Action{
		&ir.AsyncResultAction{TaskID: readyID},
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []any{"a", "b"}, toasts(batches[0].Actions))

	batches, err = f.s.Process(context.Background(), []ir.Action{
		&ir.IterableThrowAction{TaskID: streamID, Error: "closed"},
		&ir.IterableNextAction{TaskID: streamID, Value: "late"},
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []any{"error: closed"}, toasts(batches[0].Actions))
	assert.Empty(t, f.s.Tasks())
}

func TestIterableCompleteEndsLoop(t *testing.T) {
	f := newFixture(t)
	f.listen("stream", func(h script.Host, _ any) (any, error) {
		it, _ := h.Iterate(&ir.HostAction{Type: "stream"})
		n := 0
		for {
			_, ok, err := it.Next()
			if err != nil || !ok {
				break
			}
			n++
		}
		h.Perform(ir.Toast(n))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@stream"})

	res := f.shout("go", nil)
	id := res.Actions[0].(*ir.HostAction).TaskID

	batches, err := f.s.Process(context.Background(), []ir.Action{
		&ir.IterableNextAction{TaskID: id, Value: 1},
		&ir.IterableNextAction{TaskID: id, Value: 2},
		&ir.IterableCompleteAction{TaskID: id},
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []any{2}, toasts(batches[0].Actions))
}

func TestOnAnyActionReplacesAndRejects(t *testing.T) {
	f := newFixture(t)
	intercepted := 0
	f.listen("filter", func(h script.Host, arg any) (any, error) {
		intercepted++
		aa := arg.(*script.AnyActionArg)
		toast, ok := aa.Action.(*ir.HostAction)
		if !ok {
			return nil, nil
		}
		switch toast.Payload["message"] {
		case "secret":
			h.Reject(aa.Action)
		case "old":
			aa.Action = ir.Toast("new")
		case "keep":
			h.Perform(ir.Toast("audit"))
		}
		return nil, nil
	})
	f.listen("emit", func(h script.Host, _ any) (any, error) {
		h.Perform(ir.Toast("secret"))
		h.Perform(ir.Toast("old"))
		h.Perform(ir.Toast("keep"))
		return nil, nil
	})
	f.add("guard", map[string]string{"onAnyAction": "@filter"})
	f.add("b1", map[string]string{"go": "@emit"})

	res := f.shout("go", nil)
	assert.Equal(t, []any{"new", "keep", "audit"}, toasts(res.Actions))
	assert.Equal(t, 3, intercepted)

	batches := f.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Rejected, 1)
	assert.Equal(t, "secret", batches[0].Rejected[0].Action.(*ir.HostAction).Payload["message"])
}

func TestInterceptionRunsAfterEnergyIsSpent(t *testing.T) {
	f := newFixture(t, WithEnergy(2))
	intercepted := 0
	f.listen("filter", func(h script.Host, arg any) (any, error) {
		intercepted++
		h.Reject(arg.(*script.AnyActionArg).Action)
		return nil, nil
	})
	f.listen("toast1", toastOf("one"))
	f.listen("toast2", toastOf("two"))
	f.add("guard", map[string]string{"onAnyAction": "@filter"})
	f.add("b1", map[string]string{"go": "@toast1"})
	f.add("b2", map[string]string{"go": "@toast2"})

	res := f.shout("go", nil)
	assert.Equal(t, []string{"b1", "b2"}, res.Listeners)
	assert.Empty(t, toasts(res.Actions))

	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0].Actions)
	assert.Len(t, batches[0].Rejected, 2)
	assert.Equal(t, 2, intercepted)
}

func TestInterceptorShoutsStillDrawEnergy(t *testing.T) {
	f := newFixture(t, WithEnergy(1))
	audits := 0
	f.listen("filter", func(h script.Host, arg any) (any, error) {
		res, err := h.Shout("audit", nil)
		if err != nil {
			return nil, err
		}
		if res.Exhausted {
			h.Reject(arg.(*script.AnyActionArg).Action)
		}
		return nil, nil
	})
	f.listen("audit", func(script.Host, any) (any, error) {
		audits++
		return nil, nil
	})
	f.listen("toast1", toastOf("one"))
	f.add("guard", map[string]string{"onAnyAction": "@filter", "audit": "@audit"})
	f.add("b1", map[string]string{"go": "@toast1"})

	f.shout("go", nil)
	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Zero(t, audits)
	assert.Empty(t, toasts(batches[0].Actions))
	assert.Len(t, batches[0].Rejected, 1)
}

func TestPerformReintroducesRejectedAction(t *testing.T) {
	f := newFixture(t)
	f.listen("flip", func(h script.Host, _ any) (any, error) {
		a := ir.Toast("x")
		h.Perform(a)
		h.Reject(a)
		h.Perform(a)
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@flip"})

	f.shout("go", nil)
	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []any{"x"}, toasts(batches[0].Actions))
	assert.Len(t, batches[0].Rejected, 1)
}

func TestOnErrorReportedOnceAndSuppressedInHandler(t *testing.T) {
	f := newFixture(t)
	var reports []map[string]any
	f.listen("fail", func(script.Host, any) (any, error) {
		return nil, errors.New("boom")
	})
	f.listen("report", func(h script.Host, arg any) (any, error) {
		reports = append(reports, arg.(map[string]any))
		_, err := h.Shout("fail", nil)
		return nil, err
	})
	f.add("b1", map[string]string{"fail": "@fail"})
	f.add("watcher", map[string]string{"onError": "@report"})

	res := f.shout("fail", nil)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b1", res.Errors[0].BotID)
	assert.EqualError(t, res.Errors[0].Err, "boom")

	require.Len(t, reports, 1)
	assert.Equal(t, map[string]any{"error": "boom", "bot": "b1", "tag": "fail"}, reports[0])
}

func TestOnErrorLimitPerListener(t *testing.T) {
	f := newFixture(t, WithErrorLimit(2))
	reports := 0
	f.listen("fail", func(script.Host, any) (any, error) { return nil, errors.New("boom") })
	f.listen("report", func(script.Host, any) (any, error) {
		reports++
		return nil, nil
	})
	f.add("b1", map[string]string{"fail": "@fail"})
	f.add("watcher", map[string]string{"onError": "@report"})

	for range 3 {
		f.shout("fail", nil)
	}
	assert.Equal(t, 2, reports)
}

func TestPanicBecomesListenerError(t *testing.T) {
	f := newFixture(t)
	f.listen("explode", func(script.Host, any) (any, error) { panic("kaboom") })
	f.listen("fine", toastOf("still here"))
	f.add("b1", map[string]string{"go": "@explode"})
	f.add("b2", map[string]string{"go": "@fine"})

	res := f.shout("go", nil)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "panic: kaboom")
	assert.Equal(t, []any{"still here"}, toasts(res.Actions))
}

func TestCompileErrorIsListenerError(t *testing.T) {
	f := newFixture(t)
	f.add("b1", map[string]string{"go": "@unregistered"})

	res := f.shout("go", nil)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "unregistered")
}

func TestSleepResumesInNewBatch(t *testing.T) {
	timers := &manualTimers{}
	f := newFixture(t, WithTimerFunc(timers.after))
	f.listen("nap", func(h script.Host, _ any) (any, error) {
		h.Perform(ir.Toast("a"))
		if err := h.Sleep(time.Second); err != nil {
			return nil, err
		}
		h.Perform(ir.Toast("b"))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@nap"})

	f.shout("go", nil)
	first := f.batches()
	require.Len(t, first, 1)
	assert.Equal(t, []any{"a"}, toasts(first[0].Actions))

	timers.fireAll()
	second := f.batches()
	require.Len(t, second, 1)
	assert.Equal(t, []any{"b"}, toasts(second[0].Actions))
}

func TestSetTimeoutAndClearTimeout(t *testing.T) {
	timers := &manualTimers{}
	f := newFixture(t, WithTimerFunc(timers.after))
	f.listen("arm", func(h script.Host, _ any) (any, error) {
		h.SetTimeout(time.Second, func(th script.Host) {
			th.Perform(ir.Toast("tick from " + th.BotID()))
		})
		cancelled := h.SetTimeout(time.Second, func(th script.Host) {
			th.Perform(ir.Toast("never"))
		})
		assert.True(t, h.ClearTimeout(cancelled))
		assert.False(t, h.ClearTimeout(cancelled))
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@arm"})

	f.shout("go", nil)
	assert.Equal(t, 1, f.s.Timers())

	timers.fireAll()
	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []any{"tick from b1"}, toasts(batches[0].Actions))
	assert.Equal(t, 0, f.s.Timers())
}

type pauseFirst struct {
	resume func(context.Context) error
	botID  string
}

func (p *pauseFirst) Pause(botID, _ string, ev script.TrapEvent, resume func(context.Context) error) bool {
	if p.resume != nil || ev.State != ir.TriggerBefore {
		return false
	}
	p.botID = botID
	p.resume = resume
	return true
}

func TestPausedListenerEmitsAfterResume(t *testing.T) {
	p := &pauseFirst{}
	f := newFixture(t, WithPauser(p))
	f.listen("test", toastOf("hello"))
	f.add("A", map[string]string{"test": "@test"})

	res := f.shout("test", nil)
	assert.Equal(t, []any{nil}, res.Results)
	assert.Empty(t, f.batches())
	require.NotNil(t, p.resume)
	assert.Equal(t, "A", p.botID)

	require.NoError(t, p.resume(context.Background()))
	batches := f.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []any{"hello"}, toasts(batches[0].Actions))
}

func TestProcessEmitsAndAppliesExternalMutations(t *testing.T) {
	f := newFixture(t, WithEditModes(DelayedSpaces("shared")))
	f.add("b1", map[string]string{"color": "red"})

	batches, err := f.s.Process(context.Background(), []ir.Action{
		&ir.AddBotAction{Bot: &ir.BotRecord{ID: "local", Tags: map[string]string{"n": "1"}}},
		&ir.AddBotAction{Bot: &ir.BotRecord{ID: "remote", Space: "shared", Tags: map[string]string{}}},
		&ir.UpdateBotAction{ID: "b1", BotPatch: ir.BotPatch{Tags: map[string]*string{"color": ir.StringPtr("blue")}}},
		ir.Toast("processed"),
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Actions, 4)

	assert.True(t, f.store.Has("local"))
	assert.False(t, f.store.Has("remote"))
	assert.Equal(t, "blue", f.store.OwnRaw("b1", "color"))
}

func TestProcessControlActions(t *testing.T) {
	f := newFixture(t)
	var found string
	f.listen("lookup", func(h script.Host, _ any) (any, error) {
		found, _ = h.Global("config")
		return nil, nil
	})
	f.add("b1", map[string]string{"go": "@lookup"})

	batches, err := f.s.Process(context.Background(), []ir.Action{
		&ir.DefineGlobalBotAction{Name: "config", BotID: "cfg-bot"},
		&ir.RegisterBuiltinPortalAction{Portal: "grid"},
		&ir.RegisterBuiltinPortalAction{Portal: "grid"},
	})
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Equal(t, []string{"grid"}, f.s.Portals())
	assert.Equal(t, map[string]string{"config": "cfg-bot"}, f.s.Globals())

	f.shout("go", nil)
	assert.Equal(t, "cfg-bot", found)
}

func TestModuleSideEffectsRunOnce(t *testing.T) {
	f := newFixture(t)
	loads := 0
	lib := func(script.Host) (script.Exports, error) {
		loads++
		return script.Exports{"answer": 42}, nil
	}
	f.reg.Module("libmod", lib).Module("libmod2", lib)
	f.listen("use", func(h script.Host, _ any) (any, error) {
		exports, err := h.Import("lib.m")
		if err != nil {
			return nil, err
		}
		return exports["answer"], nil
	})
	f.add("libbot", map[string]string{"system": "lib", "m": "📄libmod"})
	f.add("b1", map[string]string{"go": "@use"})

	res := f.shout("go", nil)
	require.Empty(t, res.Errors)
	assert.Equal(t, []any{42}, res.Results)
	f.shout("go", nil)
	assert.Equal(t, 1, loads)

	f.store.SetTag("libbot", "m", "📄libmod2")
	f.shout("go", nil)
	assert.Equal(t, 2, loads)
}

func TestModuleSuspendsImporter(t *testing.T) {
	f := newFixture(t)
	f.reg.Module("slow", func(h script.Host) (script.Exports, error) {
		v, err := h.Request(&ir.HostAction{Type: "load"})
		return script.Exports{"v": v}, err
	})
	f.listen("use", func(h script.Host, _ any) (any, error) {
		exports, err := h.Import("lib.m")
		if err != nil {
			h.Perform(ir.Toast("error"))
			return nil, nil
		}
		h.Perform(ir.Toast(exports["v"]))
		return nil, nil
	})
	f.add("libbot", map[string]string{"system": "lib", "m": "📄slow"})
	f.add("b1", map[string]string{"go": "@use"})

	res := f.shout("go", nil)
	require.Len(t, res.Actions, 1)
	id := res.Actions[0].(*ir.HostAction).TaskID

	require.NoError(t, f.s.ResolveTask(context.Background(), id, "loaded"))
	batches := f.batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []any{"loaded"}, toasts(batches[1].Actions))
}

// importAndToast imports spec and toasts "<bot> <v>" or the import error.
func importAndToast(spec string) script.Body {
	return func(h script.Host, _ any) (any, error) {
		exports, err := h.Import(spec)
		if err != nil {
			h.Perform(ir.Toast("error: " + err.Error()))
			return nil, nil
		}
		v, _ := exports["v"].(string)
		h.Perform(ir.Toast(h.BotID() + " " + v))
		return nil, nil
	}
}

func TestSuspendedModuleLoadIsShared(t *testing.T) {
	f := newFixture(t)
	loads := 0
	f.reg.Module("slow", func(h script.Host) (script.Exports, error) {
		loads++
		v, err := h.Request(&ir.HostAction{Type: "load"})
		return script.Exports{"v": v}, err
	})
	f.listen("use", importAndToast("lib.m"))
	f.add("libbot", map[string]string{"system": "lib", "m": "📄slow"})
	f.add("b1", map[string]string{"go": "@use"})
	f.add("b2", map[string]string{"go": "@use"})

	res := f.shout("go", nil)
	require.Empty(t, res.Errors)
	require.Len(t, res.Actions, 1)
	id := res.Actions[0].(*ir.HostAction).TaskID

	require.NoError(t, f.s.ResolveTask(context.Background(), id, "loaded"))
	batches := f.batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []any{"b1 loaded"}, toasts(batches[1].Actions))
	assert.Equal(t, []any{"b2 loaded"}, toasts(batches[2].Actions))
	assert.Equal(t, 1, loads)

	f.shout("go", nil)
	assert.Equal(t, 1, loads)
}

func TestSuspendedModuleLoadFailureReachesEveryImporter(t *testing.T) {
	f := newFixture(t)
	f.reg.Module("slow", func(h script.Host) (script.Exports, error) {
		v, err := h.Request(&ir.HostAction{Type: "load"})
		return script.Exports{"v": v}, err
	})
	f.listen("use", importAndToast("lib.m"))
	f.add("libbot", map[string]string{"system": "lib", "m": "📄slow"})
	f.add("b1", map[string]string{"go": "@use"})
	f.add("b2", map[string]string{"go": "@use"})

	res := f.shout("go", nil)
	require.Len(t, res.Actions, 1)
	id := res.Actions[0].(*ir.HostAction).TaskID

	require.NoError(t, f.s.RejectTask(context.Background(), id, errors.New("offline")))
	batches := f.batches()
	require.Len(t, batches, 3)
	for _, b := range batches[1:] {
		msgs := toasts(b.Actions)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "offline")
	}
}

func TestLoadsWaitingOnEachOtherFailAsCycle(t *testing.T) {
	f := newFixture(t)
	awaitThenImport := func(spec string) script.ModuleBody {
		return func(h script.Host) (script.Exports, error) {
			if _, err := h.Request(&ir.HostAction{Type: "load"}); err != nil {
				return nil, err
			}
			return h.Import(spec)
		}
	}
	f.reg.Module("modA", awaitThenImport("sys.b")).Module("modB", awaitThenImport("sys.a"))
	f.listen("useA", importAndToast("sys.a"))
	f.listen("useB", importAndToast("sys.b"))
	f.add("abot", map[string]string{"system": "sys", "a": "📄modA"})
	f.add("bbot", map[string]string{"system": "sys", "b": "📄modB"})
	f.add("b1", map[string]string{"go": "@useA"})
	f.add("b2", map[string]string{"go": "@useB"})

	res := f.shout("go", nil)
	require.Len(t, res.Actions, 2)
	taskA := res.Actions[0].(*ir.HostAction).TaskID
	taskB := res.Actions[1].(*ir.HostAction).TaskID

	require.NoError(t, f.s.ResolveTask(context.Background(), taskA, nil))
	require.NoError(t, f.s.ResolveTask(context.Background(), taskB, nil))

	batches := f.batches()
	require.Len(t, batches, 3)
	b2 := toasts(batches[1].Actions)
	require.Len(t, b2, 1)
	assert.Contains(t, b2[0], "import cycle: bbot.b -> abot.a -> bbot.b")
	b1 := toasts(batches[2].Actions)
	require.Len(t, b1, 1)
	assert.Contains(t, b1[0], "import cycle")
}

func TestDynamicListeners(t *testing.T) {
	f := newFixture(t)
	var handle int64
	f.listen("attach", func(h script.Host, _ any) (any, error) {
		handle = h.AddListener("b1", "onPing", toastOf("pong"))
		return nil, nil
	})
	f.listen("detach", func(h script.Host, _ any) (any, error) {
		return h.RemoveListener("b1", "onPing", handle), nil
	})
	f.add("b1", map[string]string{"attach": "@attach", "detach": "@detach"})

	f.shout("attach", nil)
	require.NotZero(t, handle)

	res := f.shout("onPing", nil)
	assert.Equal(t, []string{"b1"}, res.Listeners)
	assert.Equal(t, []any{"pong"}, toasts(res.Actions))

	res = f.shout("detach", nil)
	assert.Equal(t, []any{true}, res.Results)
	assert.Empty(t, f.shout("onPing", nil).Listeners)
}

func TestTeardownStopsEverything(t *testing.T) {
	timers := &manualTimers{}
	f := newFixture(t, WithTimerFunc(timers.after))
	f.listen("wait", func(h script.Host, _ any) (any, error) {
		h.SetTimeout(time.Second, func(th script.Host) { th.Perform(ir.Toast("late")) })
		_, err := h.Request(&ir.HostAction{Type: "never"})
		return nil, err
	})
	f.add("b1", map[string]string{"go": "@wait"})

	f.shout("go", nil)
	f.batches()
	require.Len(t, f.s.Tasks(), 1)

	f.s.Teardown()

	_, err := f.s.Shout(context.Background(), "go", nil, nil)
	assert.True(t, IsTornDown(err))
	assert.True(t, IsTornDown(f.s.ResolveTask(context.Background(), 1, nil)))
	_, err = f.s.ApplyDelta(context.Background(), ir.Delta{"x": {ID: "x"}})
	assert.True(t, IsTornDown(err))

	timers.fireAll()
	assert.Empty(t, f.batches())
	assert.Empty(t, f.s.Tasks())

	_, err = f.s.Outbox().Next(context.Background())
	assert.True(t, IsTornDown(err))
}

type recordingSink struct {
	batches []*Batch
	states  []*ir.StateResult
}

func (r *recordingSink) WriteBatch(_ context.Context, b *Batch) error {
	r.batches = append(r.batches, b)
	return nil
}

func (r *recordingSink) WriteState(_ context.Context, s *ir.StateResult) error {
	r.states = append(r.states, s)
	return nil
}

func TestSinksReceiveBatchesAndStates(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, WithSink(sink))
	f.listen("hello", toastOf("hi"))

	_, err := f.s.ApplyDelta(context.Background(), ir.Delta{
		"b1": {ID: "b1", Tags: map[string]ir.TagInput{"onBotAdded": ir.Text("@hello")}},
	})
	require.NoError(t, err)

	require.Len(t, sink.states, 1)
	assert.Equal(t, []string{"b1"}, sink.states[0].AddedBots)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, []any{"hi"}, toasts(sink.batches[0].Actions))
}

func TestEditModeProviderSwappable(t *testing.T) {
	f := newFixture(t)
	f.listen("write", func(h script.Host, arg any) (any, error) {
		return nil, h.SetTag("b1", "n", arg)
	})
	f.add("b1", map[string]string{"go": "@write"})

	f.shout("go", 1)
	assert.Equal(t, "1", f.store.OwnRaw("b1", "n"))

	f.s.SetEditModeProvider(EditModeFunc(func(string) EditMode { return Delayed }))
	res := f.shout("go", 2)
	assert.Equal(t, "1", f.store.OwnRaw("b1", "n"))
	require.Len(t, res.Actions, 1)
	assert.Equal(t, "2", *res.Actions[0].(*ir.UpdateBotAction).Tags["n"])
}
