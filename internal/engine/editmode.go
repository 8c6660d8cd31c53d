package engine

// EditMode decides whether a bot mutation is applied locally.
type EditMode int

const (
	// Immediate applies the mutation to the store at the call site and
	// emits the action. Scripts observe the new value right away.
	Immediate EditMode = iota
	// Delayed only emits the action. The store changes once the
	// transport applies it and sends the result back as a delta.
	Delayed
)

func (m EditMode) String() string {
	if m == Delayed {
		return "delayed"
	}
	return "immediate"
}

// EditModeProvider picks the edit mode for a bot's space. It is consulted
// for every mutation and may be swapped between operations.
type EditModeProvider interface {
	EditMode(space string) EditMode
}

// EditModeFunc adapts a function to EditModeProvider.
type EditModeFunc func(space string) EditMode

func (f EditModeFunc) EditMode(space string) EditMode { return f(space) }

// AllImmediate applies every mutation locally.
var AllImmediate EditModeProvider = EditModeFunc(func(string) EditMode { return Immediate })

// DelayedSpaces returns a provider that delays mutations of bots in the
// given spaces and applies all others immediately.
func DelayedSpaces(spaces ...string) EditModeProvider {
	set := make(map[string]bool, len(spaces))
	for _, s := range spaces {
		set[s] = true
	}
	return EditModeFunc(func(space string) EditMode {
		if set[space] {
			return Delayed
		}
		return Immediate
	})
}
