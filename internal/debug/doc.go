// Package debug implements breakpoints for listener bodies.
//
// A Controller plugs into the scheduler as its engine.Pauser and into the
// bot store as a bots.Observer. When a running body reports a trap that
// matches an enabled breakpoint, the body's continuation is parked and a
// Pause carrying the call stack is announced. ContinueAfterStop resumes it
// in a new batch.
//
// Stops serialize: only the oldest stop is announced at a time.
package debug
