package checkpoint

import "sync"

// Registry owns the process-wide in-memory backend. The backend is created
// on first use and shared by every caller for the life of the process; it
// is never closed.
type Registry struct {
	once sync.Once
	mem  *MemoryBackend
}

// NewRegistry returns an empty registry. Tests use their own; production
// code uses [DefaultRegistry].
func NewRegistry() *Registry {
	return &Registry{}
}

// Memory returns the shared in-memory backend, creating it exactly once
// even under concurrent first calls.
func (r *Registry) Memory() *MemoryBackend {
	r.once.Do(func() {
		r.mem = NewMemoryBackend()
	})
	return r.mem
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
