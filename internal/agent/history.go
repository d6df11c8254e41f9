package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuhinsharma121/template-agent/internal/checkpoint"
	"github.com/tuhinsharma121/template-agent/internal/llm"
)

// History reads the stored conversation of threadID straight from the
// configured backend. It builds no agent, so the tool server is never
// contacted. A database connection is opened for the read and closed
// before History returns.
func (f *Factory) History(ctx context.Context, threadID string) (_ []llm.Message, err error) {
	if threadID == "" {
		return nil, errors.New("agent: thread ID is required")
	}

	s := &Session{kind: SelectBackend(true, f.settings.UseInMemorySaver)}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close checkpoint database: %w", cerr)
		}
	}()

	backend, err := f.persistence(ctx, s)
	if err != nil {
		return nil, err
	}
	cp, err := backend.LatestCheckpoint(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp.State.Messages, nil
}
