package agent

import (
	"errors"
	"sync"

	"github.com/tuhinsharma121/template-agent/internal/react"
)

// Session is an agent together with the resources it holds. The embedded
// agent is ready to invoke; Close releases the tool server session and,
// for database-backed agents, the database connection. The shared
// in-memory backend is never closed by a session.
type Session struct {
	*react.Agent

	kind    BackendKind
	closers []func() error

	closeOnce sync.Once
	closeErr  error
}

// Backend reports which persistence configuration the agent has.
func (s *Session) Backend() BackendKind {
	return s.kind
}

// Close releases held resources in reverse acquisition order. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
