// Package bots is the authoritative in-memory entity graph.
//
// A Store owns every bot: its raw tags, layered tag masks, compiled values
// and listeners (cached per raw text), runtime-attached dynamic listeners
// and the system-path index used for module resolution.
//
// Bots live in an arena indexed by id. Other components (module cache,
// breakpoints) hold plain (botID, tag) pairs and learn about changes
// through Observer callbacks, so a deleted bot never leaves a dangling
// reference behind.
//
// The Store is not safe for concurrent use. It is mutated only from the
// scheduling timeline.
package bots
