package ir

// Version constants for the wire model and runtime.
const (
	// IRVersion is the schema version of deltas, actions and batches.
	IRVersion = "1"

	// RuntimeVersion is the botloom runtime version.
	RuntimeVersion = "0.1.0"
)
