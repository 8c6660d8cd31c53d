// Package exprlang is a script.Interpreter backed by expr-lang expressions.
//
// A listener body is a single expression evaluated with the following
// environment:
//
//	that, bot, tag                      shout argument and binding
//	toast(msg)                          queue a toast host action
//	tags(name), getTag(id, name)        read compiled tag values
//	setTag(id, name, v)                 write a tag
//	setMask(id, space, name, v)         write a tag mask
//	create(tags), createIn(space, tags) create a bot; nil when delayed
//	destroy(id)                         destroy a bot
//	shout(name, arg?)                   shout to all bots, returns results
//	whisper(ids, name, arg?)            shout to selected bots
//	perform(name, payload?)             queue an arbitrary host action
//	reject(action)                      reject an intercepted action
//	request(name, payload?)             async host request; suspends
//	iterate(name, payload?)             async-iterable request, collected
//	sleep(ms)                           suspend for a duration
//	importModule(spec)                  resolve a module, returns exports
//	global(name), botIds()              global bindings and bot ids
//
// Several side effects run in order when written as an array literal,
// e.g. [toast("a"), toast("b")].
//
// Module bodies evaluate to a map, which becomes the module's exports.
package exprlang

import (
	"fmt"
	"strconv"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// Interpreter compiles expr-lang bodies.
type Interpreter struct {
	options []expr.Option
}

// New creates an interpreter. Extra options are appended to every compile.
func New(opts ...expr.Option) *Interpreter {
	return &Interpreter{options: opts}
}

var _ script.Interpreter = (*Interpreter)(nil)

func (i *Interpreter) compile(src script.Source) (*vm.Program, error) {
	opts := append([]expr.Option{
		expr.Env(newEnv(nil, nil)),
		expr.AllowUndefinedVariables(),
	}, i.options...)
	program, err := expr.Compile(src.Text, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", src, err)
	}
	return program, nil
}

// CompileListener implements script.Interpreter.
func (i *Interpreter) CompileListener(src script.Source) (script.Body, error) {
	program, err := i.compile(src)
	if err != nil {
		return nil, err
	}
	return script.WithTraps(func(h script.Host, arg any) (any, error) {
		return expr.Run(program, newEnv(h, arg))
	}), nil
}

// CompileModule implements script.Interpreter.
func (i *Interpreter) CompileModule(src script.Source) (script.ModuleBody, error) {
	program, err := i.compile(src)
	if err != nil {
		return nil, err
	}
	return func(h script.Host) (script.Exports, error) {
		out, err := expr.Run(program, newEnv(h, nil))
		if err != nil {
			return nil, err
		}
		m, ok := out.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("module %s evaluated to %T, want a map", src, out)
		}
		return script.Exports(m), nil
	}, nil
}

// newEnv binds the environment to h. A nil host yields the shape used for
// type checking at compile time; its functions are never called.
func newEnv(h script.Host, arg any) map[string]any {
	env := map[string]any{
		"that": arg,
		"bot":  "",
		"tag":  "",

		"toast": func(msg any) any {
			h.Perform(ir.Toast(msg))
			return nil
		},
		"tags": func(name string) any {
			return h.GetTag(h.BotID(), name)
		},
		"getTag": func(id, name string) any {
			return h.GetTag(id, name)
		},
		"setTag": func(id, name string, v any) (any, error) {
			return v, h.SetTag(id, name, v)
		},
		"setMask": func(id, space, name string, v any) (any, error) {
			return v, h.SetMask(id, space, name, v)
		},
		"create": func(tags map[string]any) (any, error) {
			return created(h.CreateBot("", tags))
		},
		"createIn": func(space string, tags map[string]any) (any, error) {
			return created(h.CreateBot(space, tags))
		},
		"destroy": func(id string) (any, error) {
			return nil, h.DestroyBot(id)
		},
		"shout": func(name string, args ...any) (any, error) {
			res, err := h.Shout(name, first(args))
			if err != nil {
				return nil, err
			}
			return res.Results, nil
		},
		"whisper": func(ids any, name string, args ...any) (any, error) {
			res, err := h.Whisper(stringList(ids), name, first(args))
			if err != nil {
				return nil, err
			}
			return res.Results, nil
		},
		"perform": func(name string, args ...any) any {
			h.Perform(hostAction(name, args))
			return nil
		},
		"reject": func(action any) (any, error) {
			a, ok := action.(ir.Action)
			if !ok {
				return nil, fmt.Errorf("reject: %T is not an action", action)
			}
			h.Reject(a)
			return nil, nil
		},
		"request": func(name string, args ...any) (any, error) {
			return h.Request(hostAction(name, args))
		},
		"iterate": func(name string, args ...any) (any, error) {
			it, err := h.Iterate(hostAction(name, args))
			if err != nil {
				return nil, err
			}
			var values []any
			for {
				v, ok, err := it.Next()
				if err != nil {
					return values, err
				}
				if !ok {
					return values, nil
				}
				values = append(values, v)
			}
		},
		"sleep": func(ms any) (any, error) {
			d, err := toFloat(ms)
			if err != nil {
				return nil, fmt.Errorf("sleep: %w", err)
			}
			return nil, h.Sleep(time.Duration(d * float64(time.Millisecond)))
		},
		"importModule": func(spec string) (any, error) {
			exports, err := h.Import(spec)
			if err != nil {
				return nil, err
			}
			return map[string]any(exports), nil
		},
		"global": func(name string) any {
			if id, ok := h.Global(name); ok {
				return id
			}
			return nil
		},
		"botIds": func() []string {
			return h.BotIDs()
		},
	}
	if h != nil {
		env["bot"] = h.BotID()
		env["tag"] = h.TagName()
	}
	return env
}

func created(id string, err error) (any, error) {
	if err != nil || id == "" {
		return nil, err
	}
	return id, nil
}

func first(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func hostAction(name string, args []any) *ir.HostAction {
	a := &ir.HostAction{Type: name}
	if payload, ok := first(args).(map[string]any); ok {
		a.Payload = payload
	} else if len(args) > 0 {
		a.Payload = map[string]any{"value": args[0]}
	}
	return a
}

func stringList(v any) []string {
	switch ids := v.(type) {
	case string:
		return []string{ids}
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, fmt.Sprint(id))
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("%T is not a number", v)
}
