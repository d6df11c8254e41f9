package agent

// BackendKind names the persistence configuration of an agent.
type BackendKind int

const (
	// BackendNone means no checkpointer and no store.
	BackendNone BackendKind = iota

	// BackendMemory is the process-wide in-memory backend.
	BackendMemory

	// BackendDatabase is a database connection owned by one session.
	BackendDatabase
)

// String returns the lowercase name of k.
func (k BackendKind) String() string {
	switch k {
	case BackendNone:
		return "none"
	case BackendMemory:
		return "memory"
	case BackendDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// SelectBackend maps the two persistence inputs to exactly one backend.
// Disabled checkpointing wins; otherwise the in-memory flag decides.
func SelectBackend(checkpointing, inMemory bool) BackendKind {
	switch {
	case !checkpointing:
		return BackendNone
	case inMemory:
		return BackendMemory
	default:
		return BackendDatabase
	}
}
