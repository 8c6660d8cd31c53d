// Package script defines the boundary between the runtime and the embedded
// interpreter that executes listener bodies.
//
// The runtime never interprets script text itself. An Interpreter compiles
// tag text into a Body (listeners) or ModuleBody (importable modules), and
// the runtime invokes those bodies with a Host: the capability surface a
// script uses to read and write tags, shout, create bots, import modules
// and issue asynchronous host requests.
//
// SUSPENSION:
//
// A body suspends simply by blocking inside a Host call (Request, Sleep,
// Iterate, Trap). The scheduler runs every listener invocation on its own
// fiber, so a blocked body hands the timeline back without the interpreter
// needing any continuation support of its own.
//
// Two interpreters ship with the runtime: Registry, which maps body text to
// Go functions and is used by tests, and the exprlang subpackage, which
// evaluates expr-lang expressions.
package script
