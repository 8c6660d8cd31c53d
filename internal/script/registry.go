package script

import (
	"fmt"
	"strings"

	"github.com/roach88/botloom/internal/ir"
)

// Registry is an Interpreter that maps body text to Go functions. A tag
// holding "@greet" compiles to whatever was registered under "greet".
//
// Registry is the interpreter used by package tests and by embedders that
// implement listeners natively.
type Registry struct {
	listeners map[string]Body
	modules   map[string]ModuleBody
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		listeners: make(map[string]Body),
		modules:   make(map[string]ModuleBody),
	}
}

// Listener registers a listener body under name and returns the registry.
func (r *Registry) Listener(name string, body Body) *Registry {
	r.listeners[name] = body
	return r
}

// Module registers a module body under name and returns the registry.
func (r *Registry) Module(name string, body ModuleBody) *Registry {
	r.modules[name] = body
	return r
}

// CompileListener implements Interpreter.
func (r *Registry) CompileListener(src Source) (Body, error) {
	name := strings.TrimSpace(src.Text)
	body, ok := r.listeners[name]
	if !ok {
		return nil, fmt.Errorf("compile %s: unknown listener %q", src, name)
	}
	return WithTraps(body), nil
}

// CompileModule implements Interpreter. Text that names a registered
// listener but no module compiles to a module exporting that listener
// as "default".
func (r *Registry) CompileModule(src Source) (ModuleBody, error) {
	name := strings.TrimSpace(src.Text)
	if body, ok := r.modules[name]; ok {
		return body, nil
	}
	if body, ok := r.listeners[name]; ok {
		return func(Host) (Exports, error) {
			return Exports{"default": body}, nil
		}, nil
	}
	return nil, fmt.Errorf("compile %s: unknown module %q", src, name)
}

// WithTraps wraps body so that it reports a before trap and an after trap
// at line 1, column 1. The frame exposes "that", "bot" and "tag"; a "that"
// changed through the debugger while paused is what the body receives.
func WithTraps(body Body) Body {
	return func(h Host, arg any) (any, error) {
		pos := ir.Position{Line: 1, Column: 1}
		frame := NewVarFrame(&pos, map[string]any{
			"that": arg,
			"bot":  h.BotID(),
			"tag":  h.TagName(),
		})
		stack := func() []Frame { return []Frame{frame, RootFrame()} }

		h.Trap(TrapEvent{Pos: pos, State: ir.TriggerBefore, Stack: stack})
		if v, ok := frame.Get("that"); ok {
			arg = v
		}

		result, err := body(h, arg)

		_ = frame.SetVariable(ScopeFrame, "result", result)
		h.Trap(TrapEvent{Pos: pos, State: ir.TriggerAfter, Stack: stack})
		return result, err
	}
}
