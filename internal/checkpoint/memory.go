package checkpoint

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend keeps checkpoints and items in process memory. It is safe
// for concurrent use and needs no setup. Contents are lost on exit.
type MemoryBackend struct {
	now func() time.Time

	mu      sync.RWMutex
	threads map[string][]*Checkpoint // ascending by step
	byID    map[uuid.UUID]*Checkpoint
	items   map[itemKey]*Item
}

// itemKey mirrors the SQL primary key (namespace, key), so a slash in a
// key never collides with a deeper namespace.
type itemKey struct {
	ns  string
	key string
}

func keyOf(namespace []string, key string) itemKey {
	return itemKey{ns: namespaceKey(namespace), key: key}
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		now:     time.Now,
		threads: make(map[string][]*Checkpoint),
		byID:    make(map[uuid.UUID]*Checkpoint),
		items:   make(map[itemKey]*Item),
	}
}

// SaveCheckpoint implements [Saver].
func (m *MemoryBackend) SaveCheckpoint(_ context.Context, threadID string, state *State) (*Checkpoint, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	state = cloneState(state)
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := &Checkpoint{
		ID:           id,
		ThreadID:     threadID,
		Step:         1,
		CreatedAt:    m.now().UTC(),
		State:        state,
		ByteSize:     int64(len(encoded)),
		MessageCount: messageCount(state),
	}
	thread := m.threads[threadID]
	if n := len(thread); n > 0 {
		cp.ParentID = thread[n-1].ID
		cp.Step = thread[n-1].Step + 1
	}
	m.threads[threadID] = append(thread, cp)
	m.byID[id] = cp
	return withState(cp), nil
}

// LatestCheckpoint implements [Saver].
func (m *MemoryBackend) LatestCheckpoint(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.threads[threadID]
	if len(thread) == 0 {
		return nil, ErrNotFound
	}
	return withState(thread[len(thread)-1]), nil
}

// GetCheckpoint implements [Saver].
func (m *MemoryBackend) GetCheckpoint(_ context.Context, id uuid.UUID) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return withState(cp), nil
}

// ListCheckpoints implements [Saver].
func (m *MemoryBackend) ListCheckpoints(_ context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.threads[threadID]
	out := make([]*Checkpoint, 0, len(thread))
	for i := len(thread) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		meta := *thread[i]
		meta.State = nil
		out = append(out, &meta)
	}
	return out, nil
}

// DeleteThread implements [Saver].
func (m *MemoryBackend) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cp := range m.threads[threadID] {
		delete(m.byID, cp.ID)
	}
	delete(m.threads, threadID)
	return nil
}

// PutItem implements [Store].
func (m *MemoryBackend) PutItem(_ context.Context, namespace []string, key string, value map[string]any) error {
	if err := validateNamespace(namespace, false); err != nil {
		return err
	}
	v, err := cloneValue(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	k := keyOf(namespace, key)
	item := &Item{
		Namespace: slices.Clone(namespace),
		Key:       key,
		Value:     v,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok := m.items[k]; ok {
		item.CreatedAt = prev.CreatedAt
	}
	m.items[k] = item
	return nil
}

// GetItem implements [Store].
func (m *MemoryBackend) GetItem(_ context.Context, namespace []string, key string) (*Item, error) {
	if err := validateNamespace(namespace, false); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[keyOf(namespace, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyItem(item)
}

// SearchItems implements [Store].
func (m *MemoryBackend) SearchItems(_ context.Context, prefix []string, limit int) ([]*Item, error) {
	if err := validateNamespace(prefix, true); err != nil {
		return nil, err
	}
	p := namespaceKey(prefix)

	m.mu.RLock()
	var matches []*Item
	for _, item := range m.items {
		if strings.HasPrefix(namespaceKey(item.Namespace), p) {
			matches = append(matches, item)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matches, func(a, b *Item) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(namespaceKey(a.Namespace), namespaceKey(b.Namespace)); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]*Item, 0, len(matches))
	for _, item := range matches {
		c, err := copyItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteItem implements [Store].
func (m *MemoryBackend) DeleteItem(_ context.Context, namespace []string, key string) error {
	if err := validateNamespace(namespace, false); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, keyOf(namespace, key))
	return nil
}

// withState returns a copy of cp whose state the caller may modify.
func withState(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.State = cloneState(cp.State)
	return &out
}

func copyItem(item *Item) (*Item, error) {
	v, err := cloneValue(item.Value)
	if err != nil {
		return nil, err
	}
	out := *item
	out.Namespace = slices.Clone(item.Namespace)
	out.Value = v
	return &out, nil
}
