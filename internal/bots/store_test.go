package bots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

type recordingObserver struct {
	changes []string
	removed []string
}

func (o *recordingObserver) TagChanged(botID, tag, oldText, newText string) {
	o.changes = append(o.changes, botID+"."+tag+":"+oldText+"->"+newText)
}

func (o *recordingObserver) BotRemoved(botID string) {
	o.removed = append(o.removed, botID)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	reg := script.NewRegistry().
		Listener("noop", func(script.Host, any) (any, error) { return nil, nil })
	return New(reg, opts...)
}

func bot(id string, tags map[string]string) *ir.BotRecord {
	return &ir.BotRecord{ID: id, Tags: tags}
}

func TestMaskFallback(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&ir.BotRecord{
		ID:   "b1",
		Tags: map[string]string{"color": "raw"},
		Masks: map[string]map[string]string{
			"tempLocal": {"color": "temp"},
			"shared":    {"color": "durable"},
		},
	}))

	assert.Equal(t, ir.String("temp"), s.Value("b1", "color"))

	s.SetMask("b1", "tempLocal", "color", "")
	assert.Equal(t, ir.String("durable"), s.Value("b1", "color"))

	s.SetMask("b1", "shared", "color", "")
	assert.Equal(t, ir.String("raw"), s.Value("b1", "color"))

	// Removing a mask that does not exist is a no-op.
	assert.False(t, s.SetMask("b1", "local", "color", ""))
}

func TestMaskPriorityOrder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(&ir.BotRecord{
		ID:   "b1",
		Tags: map[string]string{},
		Masks: map[string]map[string]string{
			"admin":            {"x": "admin"},
			"remoteTempShared": {"x": "remote"},
			"local":            {"x": "local"},
		},
	}))
	assert.Equal(t, "local", s.Raw("b1", "x"))
	assert.Equal(t, "", s.OwnRaw("b1", "x"))
}

func TestValueIsCachedPerRawText(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(bot("b1", map[string]string{"n": "🧬{\"a\": 1}"})))

	first := s.Value("b1", "n")
	second := s.Value("b1", "n")
	assert.Equal(t, first, second)
	assert.True(t, ir.Equal(ir.Object{"a": ir.Number(1)}, first))

	s.SetTag("b1", "n", "5")
	assert.Equal(t, ir.Number(5), s.Value("b1", "n"))
}

func TestListenerCompilation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(bot("b1", map[string]string{"onClick": "@noop", "color": "red"})))

	l := s.Listener("b1", "onClick")
	require.NotNil(t, l)
	assert.Same(t, l, s.Listener("b1", "onClick"))
	assert.Nil(t, s.Listener("b1", "color"))
	assert.Nil(t, s.Listener("missing", "onClick"))
}

func TestListenerIDsIncludesDynamicListeners(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(bot("a", map[string]string{"onTick": "@noop"})))
	require.NoError(t, s.Add(bot("b", map[string]string{})))
	require.NoError(t, s.Add(bot("c", map[string]string{"onTick": "@noop"})))

	handle, err := s.AddDynamicListener("b", "onTick", func(script.Host, any) (any, error) { return nil, nil })
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, s.ListenerIDs("onTick"))

	assert.True(t, s.RemoveDynamicListener("b", "onTick", handle))
	assert.False(t, s.RemoveDynamicListener("b", "onTick", handle))
	assert.Equal(t, []string{"a", "c"}, s.ListenerIDs("onTick"))

	_, err = s.AddDynamicListener("missing", "onTick", nil)
	assert.Error(t, err)
}

func TestSystemIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(bot("a", map[string]string{"system": "app.ui"})))
	require.NoError(t, s.Add(bot("b", map[string]string{"system": "app.core"})))
	require.NoError(t, s.Add(bot("c", map[string]string{"system": "app.ui"})))

	assert.Equal(t, []string{"a", "c"}, s.BySystem("app.ui"))

	s.SetTag("b", "system", "app.ui")
	assert.Equal(t, []string{"a", "b", "c"}, s.BySystem("app.ui"))
	assert.Empty(t, s.BySystem("app.core"))

	s.Remove("a")
	assert.Equal(t, []string{"b", "c"}, s.BySystem("app.ui"))
}

func TestRemoveNotifiesAndClearsDynamicListeners(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, WithObserver(obs))
	require.NoError(t, s.Add(bot("b1", map[string]string{})))
	_, err := s.AddDynamicListener("b1", "onTick", func(script.Host, any) (any, error) { return nil, nil })
	require.NoError(t, err)

	assert.True(t, s.Remove("b1"))
	assert.False(t, s.Remove("b1"))
	assert.Equal(t, []string{"b1"}, obs.removed)
	assert.Empty(t, s.DynamicListeners("b1", "onTick"))
	assert.Nil(t, s.Get("b1"))
}

func TestObserverSeesEffectiveChangesOnly(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestStore(t, WithObserver(obs))
	require.NoError(t, s.Add(&ir.BotRecord{
		ID:    "b1",
		Tags:  map[string]string{"x": "own"},
		Masks: map[string]map[string]string{"local": {"x": "masked"}},
	}))

	// Hidden behind the mask: the effective text does not change.
	s.SetTag("b1", "x", "own2")
	assert.Empty(t, obs.changes)

	s.SetMask("b1", "local", "x", "")
	assert.Equal(t, []string{"b1.x:masked->own2"}, obs.changes)
}

func TestApplyEditSkipsEcho(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(bot("b1", map[string]string{"text": "abc"})))

	edit := &ir.TagEdit{ID: "e1", Ops: []ir.EditOp{ir.Preserve(3), ir.Insert("d")}}
	text, changed := s.ApplyEdit("b1", "text", edit)
	assert.True(t, changed)
	assert.Equal(t, "abcd", text)

	text, changed = s.ApplyEdit("b1", "text", edit)
	assert.False(t, changed)
	assert.Equal(t, "abcd", text)
	assert.True(t, s.EditApplied("e1"))
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add(bot("b1", nil)))
	assert.Error(t, s.Add(bot("b1", nil)))
	assert.Error(t, s.Add(&ir.BotRecord{}))
	assert.Equal(t, []string{"b1"}, s.IDs())
}
