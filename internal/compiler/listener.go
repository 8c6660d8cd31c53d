package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/botloom/internal/script"
)

// IsListener reports whether tag text holds a listener script.
func IsListener(text string) bool {
	return strings.HasPrefix(text, PrefixListener)
}

// IsModule reports whether tag text can be imported as a module.
func IsModule(text string) bool {
	return IsListener(text) || strings.HasPrefix(text, PrefixModule)
}

// CompileError is a listener or module that failed to compile.
type CompileError struct {
	BotID string
	Tag   string
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s.%s: %v", e.BotID, e.Tag, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Listener is a compiled listener tag bound to its bot and tag.
type Listener struct {
	BotID string
	Tag   string
	body  script.Body
	err   error
}

// CompileListener compiles a listener tag. It returns nil when text is not
// a listener. A compile failure still yields a Listener; invoking it
// returns the *CompileError.
func CompileListener(interp script.Interpreter, botID, tag, text string) *Listener {
	if !IsListener(text) {
		return nil
	}
	l := &Listener{BotID: botID, Tag: tag}
	body, err := interp.CompileListener(script.Source{
		BotID: botID,
		Tag:   tag,
		Text:  strings.TrimPrefix(text, PrefixListener),
	})
	if err != nil {
		l.err = &CompileError{BotID: botID, Tag: tag, Err: err}
		return l
	}
	l.body = body
	return l
}

// Err returns the compile error, if any.
func (l *Listener) Err() error { return l.err }

// Invoke runs the listener with h bound to the listener's bot and tag.
func (l *Listener) Invoke(h script.Host, arg any) (any, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.body(h, arg)
}

// Module is a compiled importable tag.
type Module struct {
	BotID string
	Tag   string
	body  script.ModuleBody
	err   error
}

// CompileModule compiles a module tag. It returns nil when text is not
// importable.
func CompileModule(interp script.Interpreter, botID, tag, text string) *Module {
	if !IsModule(text) {
		return nil
	}
	body := strings.TrimPrefix(strings.TrimPrefix(text, PrefixListener), PrefixModule)
	m := &Module{BotID: botID, Tag: tag}
	mb, err := interp.CompileModule(script.Source{BotID: botID, Tag: tag, Text: body})
	if err != nil {
		m.err = &CompileError{BotID: botID, Tag: tag, Err: err}
		return m
	}
	m.body = mb
	return m
}

// CompileModuleSource compiles module text that does not live in a tag,
// such as source returned by a resolve hook or fetched from a URL.
func CompileModuleSource(interp script.Interpreter, id, source string) *Module {
	m := &Module{BotID: id}
	mb, err := interp.CompileModule(script.Source{BotID: id, Text: source})
	if err != nil {
		m.err = &CompileError{BotID: id, Err: err}
		return m
	}
	m.body = mb
	return m
}

// Err returns the compile error, if any.
func (m *Module) Err() error { return m.err }

// Load runs the module body and returns its exports.
func (m *Module) Load(h script.Host) (script.Exports, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.body(h)
}
