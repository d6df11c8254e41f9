// Package checkpoint persists agent conversation state.
//
// Two roles are served by every backend: a [Saver] keeps per-thread
// checkpoints (the conversation so far) and a [Store] keeps namespaced
// long-term items that outlive any one thread. Agents are always given a
// single [Backend] for both roles.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tuhinsharma121/template-agent/internal/llm"
)

// ErrNotFound is returned when a checkpoint or item does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrInvalidNamespace is returned for an empty namespace or one with an
// empty label or a label containing "/".
var ErrInvalidNamespace = errors.New("checkpoint: invalid namespace")

// Checkpoint is a point-in-time snapshot of one conversation thread.
type Checkpoint struct {
	ID        uuid.UUID `json:"id"`
	ThreadID  string    `json:"thread_id"`
	ParentID  uuid.UUID `json:"parent_id"` // uuid.Nil for the first checkpoint
	Step      int       `json:"step"`      // 1-based position in the thread
	CreatedAt time.Time `json:"created_at"`

	// State is nil in listings.
	State *State `json:"state,omitempty"`

	// Metadata
	ByteSize     int64 `json:"byte_size"` // Encoded state size
	MessageCount int   `json:"message_count"`
}

// State holds the restorable conversation.
type State struct {
	Messages []llm.Message `json:"messages"`
}

// Item is a long-term store entry.
type Item struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Saver stores per-thread checkpoints.
type Saver interface {
	// SaveCheckpoint appends a checkpoint to threadID, chained to the
	// thread's latest one.
	SaveCheckpoint(ctx context.Context, threadID string, state *State) (*Checkpoint, error)

	// LatestCheckpoint returns the newest checkpoint of threadID with its
	// state, or ErrNotFound for an empty thread.
	LatestCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error)

	// GetCheckpoint returns a checkpoint by ID with its state.
	GetCheckpoint(ctx context.Context, id uuid.UUID) (*Checkpoint, error)

	// ListCheckpoints returns the thread's checkpoints newest first,
	// without state. limit <= 0 means no limit.
	ListCheckpoints(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error)

	// DeleteThread removes every checkpoint of threadID.
	DeleteThread(ctx context.Context, threadID string) error
}

// Store stores namespaced long-term items.
type Store interface {
	// PutItem creates or replaces an item.
	PutItem(ctx context.Context, namespace []string, key string, value map[string]any) error

	// GetItem returns an item or ErrNotFound.
	GetItem(ctx context.Context, namespace []string, key string) (*Item, error)

	// SearchItems returns items whose namespace starts with prefix, most
	// recently updated first. An empty prefix matches everything.
	// limit <= 0 means no limit.
	SearchItems(ctx context.Context, prefix []string, limit int) ([]*Item, error)

	// DeleteItem removes an item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, namespace []string, key string) error
}

// Backend serves both persistence roles.
type Backend interface {
	Saver
	Store
}

// Setupper is implemented by backends that must create their schema
// before first use. Setup is idempotent.
type Setupper interface {
	Setup(ctx context.Context) error
}

// ScopedBackend is a backend holding a connection that its owner must
// release with Close.
type ScopedBackend interface {
	Backend
	io.Closer
}

// validateNamespace checks every label of ns. An empty ns is only valid
// as a search prefix.
func validateNamespace(ns []string, allowEmpty bool) error {
	if len(ns) == 0 && !allowEmpty {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	for _, label := range ns {
		if label == "" || strings.Contains(label, "/") {
			return fmt.Errorf("%w: label %q", ErrInvalidNamespace, label)
		}
	}
	return nil
}

// namespaceKey encodes ns as "a/b/". The trailing separator makes prefix
// matches respect label boundaries: "a/" does not match "ab/".
func namespaceKey(ns []string) string {
	if len(ns) == 0 {
		return ""
	}
	return strings.Join(ns, "/") + "/"
}

func splitNamespaceKey(key string) []string {
	return strings.Split(strings.TrimSuffix(key, "/"), "/")
}

func messageCount(state *State) int {
	if state == nil {
		return 0
	}
	return len(state.Messages)
}

func cloneState(state *State) *State {
	if state == nil {
		return &State{}
	}
	return &State{Messages: append([]llm.Message(nil), state.Messages...)}
}

func cloneValue(v map[string]any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}
