package tools

import (
	"context"

	"github.com/tuhinsharma121/template-agent/internal/checkpoint"
)

type contextKey string

const (
	threadIDKey contextKey = "thread_id"
	storeKey    contextKey = "store"
)

// WithThreadID adds the conversation thread ID to the context passed to
// tool handlers.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ThreadIDFromContext extracts the thread ID from the context. Returns
// "" for stateless turns.
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}

// WithStore makes the agent's long-term store available to tool
// handlers. A nil store leaves ctx unchanged.
func WithStore(ctx context.Context, s checkpoint.Store) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, storeKey, s)
}

// StoreFromContext returns the long-term store, or nil when the agent
// runs without one.
func StoreFromContext(ctx context.Context) checkpoint.Store {
	s, _ := ctx.Value(storeKey).(checkpoint.Store)
	return s
}
