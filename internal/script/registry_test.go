package script_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
	"github.com/roach88/botloom/internal/script/scripttest"
)

func TestRegistryCompileListener(t *testing.T) {
	reg := script.NewRegistry().Listener("double", func(_ script.Host, arg any) (any, error) {
		return arg.(int) * 2, nil
	})

	body, err := reg.CompileListener(script.Source{BotID: "b1", Tag: "onClick", Text: " double "})
	require.NoError(t, err)

	h := scripttest.New("b1", "onClick")
	result, err := body(h, 21)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRegistryUnknownListener(t *testing.T) {
	_, err := script.NewRegistry().CompileListener(script.Source{BotID: "b1", Tag: "t", Text: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b1.t")
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestRegistryModuleFallsBackToListener(t *testing.T) {
	reg := script.NewRegistry().Listener("helper", func(script.Host, any) (any, error) { return "ok", nil })

	mod, err := reg.CompileModule(script.Source{Text: "helper"})
	require.NoError(t, err)

	exports, err := mod(scripttest.New("b1", "t"))
	require.NoError(t, err)
	assert.Contains(t, exports, "default")
}

func TestWithTrapsReportsBeforeAndAfter(t *testing.T) {
	body := script.WithTraps(func(script.Host, any) (any, error) {
		return nil, errors.New("boom")
	})

	h := scripttest.New("b1", "test")
	_, err := body(h, "arg")
	require.EqualError(t, err, "boom")

	require.Len(t, h.Traps, 2)
	assert.Equal(t, ir.TriggerBefore, h.Traps[0].State)
	assert.Equal(t, ir.TriggerAfter, h.Traps[1].State)
	assert.Equal(t, ir.Position{Line: 1, Column: 1}, h.Traps[0].Pos)

	stack := h.Traps[0].Stack()
	require.Len(t, stack, 2)
	assert.Nil(t, stack[1].Location(), "root frame has no location")
	assert.Equal(t, "arg", stack[0].Variables(script.ScopeFrame)["that"])
}

// pausingHost rewrites "that" when the before trap fires, the way a
// debugger would while paused.
type pausingHost struct {
	*scripttest.Host
}

func (h pausingHost) Trap(ev script.TrapEvent) {
	if ev.State == ir.TriggerBefore {
		_ = ev.Stack()[0].SetVariable(script.ScopeFrame, "that", "patched")
	}
}

func TestWithTrapsHonorsVariableChanges(t *testing.T) {
	body := script.WithTraps(func(_ script.Host, arg any) (any, error) {
		return arg, nil
	})

	result, err := body(pausingHost{scripttest.New("b1", "test")}, "original")
	require.NoError(t, err)
	assert.Equal(t, "patched", result)
}

func TestVarFrameRejectsUnknownScope(t *testing.T) {
	f := script.NewVarFrame(nil, nil)
	assert.Error(t, f.SetVariable("global", "x", 1))
	require.NoError(t, f.SetVariable(script.ScopeClosure, "x", 1))
	v, ok := f.Get("x")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
