package plugin

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUnloaded - Plugin was discovered but is not running.
	StateUnloaded State = iota

	// StateLoaded - Plugin's entry file ran and its subscriptions are live.
	StateLoaded

	// StateError - Plugin failed to load.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
