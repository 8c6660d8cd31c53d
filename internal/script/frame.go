package script

import (
	"fmt"
	"maps"

	"github.com/roach88/botloom/internal/ir"
)

// Scope selects which variables of a frame to inspect.
type Scope string

const (
	ScopeBlock   Scope = "block"
	ScopeFrame   Scope = "frame"
	ScopeClosure Scope = "closure"
)

// Frame is one entry of a paused call stack.
type Frame interface {
	// Location is nil for the synthetic root frame.
	Location() *ir.Position
	Variables(scope Scope) map[string]any
	SetVariable(scope Scope, name string, value any) error
}

// VarFrame is a Frame backed by plain maps. Interpreters without richer
// introspection use it to expose their bindings.
type VarFrame struct {
	Pos  *ir.Position
	vars map[Scope]map[string]any
}

// NewVarFrame creates a frame at pos with the given frame-scope variables.
func NewVarFrame(pos *ir.Position, frameVars map[string]any) *VarFrame {
	f := &VarFrame{Pos: pos, vars: map[Scope]map[string]any{}}
	if frameVars != nil {
		f.vars[ScopeFrame] = maps.Clone(frameVars)
	}
	return f
}

// RootFrame returns the synthetic frame at the bottom of every stack.
func RootFrame() *VarFrame {
	return NewVarFrame(nil, nil)
}

func (f *VarFrame) Location() *ir.Position { return f.Pos }

func (f *VarFrame) Variables(scope Scope) map[string]any {
	return maps.Clone(f.vars[scope])
}

func (f *VarFrame) SetVariable(scope Scope, name string, value any) error {
	switch scope {
	case ScopeBlock, ScopeFrame, ScopeClosure:
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}
	if f.vars[scope] == nil {
		f.vars[scope] = map[string]any{}
	}
	f.vars[scope][name] = value
	return nil
}

// Get returns a variable from the first scope that defines it, searching
// block, then frame, then closure.
func (f *VarFrame) Get(name string) (any, bool) {
	for _, scope := range []Scope{ScopeBlock, ScopeFrame, ScopeClosure} {
		if v, ok := f.vars[scope][name]; ok {
			return v, true
		}
	}
	return nil, false
}
