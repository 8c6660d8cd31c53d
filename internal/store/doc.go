// Package store provides a SQLite journal of botloom runtime runs.
//
// A Journal records, per run:
//   - Inputs: deltas, shouts and processed actions in arrival order
//   - Batches: every emitted action batch with its content digest
//   - Reconciliations: the result of every applied delta
//
// The journal plugs into the scheduler as an engine.BatchSink and
// engine.StateSink. Replay feeds a run's inputs to a fresh runtime and
// compares batch digests, which checks that scheduling is deterministic.
//
// # Critical Patterns
//
// Logical Identity and Time
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Enables deterministic replay regardless of wall time
//
// Idempotent Writes
//   - Batches are keyed by (run_id, seq); rewriting one is a no-op
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Batch digests are computed by ir.BatchDigest using RFC 8785 canonical
// JSON and SHA-256 with domain separation.
package store
