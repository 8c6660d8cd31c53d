// Package engine implements the botloom listener scheduler.
//
// The scheduler receives shouts, pre-built actions and state deltas,
// dispatches listeners attached to bot tags, and collects what the
// listeners do into batches of actions.
//
// ARCHITECTURE:
//
// Single Logical Timeline:
// Root operations take one mutex for their whole duration. Listener bodies
// run on fiber goroutines, but control is handed over explicitly, so only
// one goroutine executes script code or touches the store at a time. This
// ensures:
// - Program order within a batch
// - Reproducible batches on replay
// - No locking inside the store, the resolver or the breakpoint set
//
// Suspension:
// A listener suspends while awaiting an asynchronous host response
// (Request, iterator Next, Sleep) or at a breakpoint. The root operation
// that started it then continues. A later root operation (ResolveTask,
// RejectTask, Process, a timer, a breakpoint continue) resumes the
// continuation in a new batch.
//
// Batch Flow:
// 1. Listener mutations pass the edit-mode gate and queue actions
// 2. Writes to one bot coalesce into one update (or into its add)
// 3. When the operation yields, onAnyAction intercepts each action
// 4. The batch is emitted to the outbox and to sinks, unless empty
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Batches and tasks are stamped with monotonic numbers from Clock.Next().
// NEVER use wall-clock timestamps for ordering.
//
// Energy:
// Every dispatch consumes one unit of the root's budget. Exhaustion skips
// the remaining dispatches of that root only.
//
// Failure Isolation:
// Listener errors and panics are caught at the invocation boundary and
// reported to onError. Siblings keep running.
package engine
