package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tuhinsharma121/template-agent/internal/llm"
)

// tickingClock returns strictly increasing times so ordering by update
// time is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newSQLite(t *testing.T, scheme string) *SQLBackend {
	t.Helper()
	uri := scheme + "://" + filepath.Join(t.TempDir(), "checkpoints.db")
	b, err := OpenSQL(context.Background(), uri, nil)
	if err != nil {
		t.Fatalf("OpenSQL(%s): %v", uri, err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if err := b.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	b.now = tickingClock()
	return b
}

func backends(t *testing.T) map[string]Backend {
	mem := NewMemoryBackend()
	mem.now = tickingClock()
	return map[string]Backend{
		"memory":  mem,
		"sqlite":  newSQLite(t, "sqlite"),
		"sqlite3": newSQLite(t, "sqlite3"),
	}
}

func conversation(texts ...string) *State {
	s := &State{}
	for i, text := range texts {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		s.Messages = append(s.Messages, llm.Message{Role: role, Content: text})
	}
	return s
}

func TestSaver(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := b.LatestCheckpoint(ctx, "t1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("LatestCheckpoint on empty thread = %v, want ErrNotFound", err)
			}

			first, err := b.SaveCheckpoint(ctx, "t1", conversation("hi", "hello"))
			if err != nil {
				t.Fatalf("SaveCheckpoint: %v", err)
			}
			if first.Step != 1 || first.ParentID != uuid.Nil || first.MessageCount != 2 {
				t.Errorf("first = %+v", first)
			}
			if first.ID.Version() != 7 {
				t.Errorf("ID version = %d, want 7", first.ID.Version())
			}

			second, err := b.SaveCheckpoint(ctx, "t1", conversation("hi", "hello", "weather?", "sunny"))
			if err != nil {
				t.Fatalf("SaveCheckpoint: %v", err)
			}
			if second.Step != 2 || second.ParentID != first.ID {
				t.Errorf("second step/parent = %d/%s, want 2/%s", second.Step, second.ParentID, first.ID)
			}
			if _, err := b.SaveCheckpoint(ctx, "t2", conversation("other")); err != nil {
				t.Fatalf("SaveCheckpoint(t2): %v", err)
			}

			latest, err := b.LatestCheckpoint(ctx, "t1")
			if err != nil {
				t.Fatalf("LatestCheckpoint: %v", err)
			}
			if latest.ID != second.ID || len(latest.State.Messages) != 4 || latest.State.Messages[3].Content != "sunny" {
				t.Errorf("latest = %+v", latest)
			}

			got, err := b.GetCheckpoint(ctx, first.ID)
			if err != nil {
				t.Fatalf("GetCheckpoint: %v", err)
			}
			if got.ThreadID != "t1" || len(got.State.Messages) != 2 {
				t.Errorf("GetCheckpoint = %+v", got)
			}
			if _, err := b.GetCheckpoint(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetCheckpoint(unknown) = %v, want ErrNotFound", err)
			}

			list, err := b.ListCheckpoints(ctx, "t1", 0)
			if err != nil {
				t.Fatalf("ListCheckpoints: %v", err)
			}
			if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
				t.Fatalf("ListCheckpoints = %+v, want newest first", list)
			}
			if list[0].State != nil {
				t.Error("listings must not carry state")
			}
			if limited, _ := b.ListCheckpoints(ctx, "t1", 1); len(limited) != 1 {
				t.Errorf("ListCheckpoints(limit 1) returned %d", len(limited))
			}

			if err := b.DeleteThread(ctx, "t1"); err != nil {
				t.Fatalf("DeleteThread: %v", err)
			}
			if _, err := b.LatestCheckpoint(ctx, "t1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("LatestCheckpoint after delete = %v, want ErrNotFound", err)
			}
			if _, err := b.LatestCheckpoint(ctx, "t2"); err != nil {
				t.Errorf("other thread affected by delete: %v", err)
			}
		})
	}
}

func TestSaver_ReturnedStateIsACopy(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			state := conversation("original")
			if _, err := b.SaveCheckpoint(ctx, "t", state); err != nil {
				t.Fatal(err)
			}
			state.Messages[0].Content = "mutated"

			latest, err := b.LatestCheckpoint(ctx, "t")
			if err != nil {
				t.Fatal(err)
			}
			latest.State.Messages = append(latest.State.Messages, llm.Message{Content: "extra"})

			again, _ := b.LatestCheckpoint(ctx, "t")
			if len(again.State.Messages) != 1 || again.State.Messages[0].Content != "original" {
				t.Errorf("stored state changed: %+v", again.State.Messages)
			}
		})
	}
}

func TestStore(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := []string{"users", "alice"}

			if _, err := b.GetItem(ctx, user, "prefs"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetItem on empty store = %v, want ErrNotFound", err)
			}

			if err := b.PutItem(ctx, user, "prefs", map[string]any{"theme": "dark"}); err != nil {
				t.Fatalf("PutItem: %v", err)
			}
			if err := b.PutItem(ctx, []string{"users", "bob"}, "prefs", map[string]any{"theme": "light"}); err != nil {
				t.Fatalf("PutItem: %v", err)
			}
			if err := b.PutItem(ctx, []string{"usersx"}, "prefs", map[string]any{"n": 1}); err != nil {
				t.Fatalf("PutItem: %v", err)
			}
			// Update alice last so she sorts first.
			if err := b.PutItem(ctx, user, "prefs", map[string]any{"theme": "solarized", "size": 14}); err != nil {
				t.Fatalf("PutItem (update): %v", err)
			}

			item, err := b.GetItem(ctx, user, "prefs")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if item.Value["theme"] != "solarized" || item.Value["size"] != float64(14) {
				t.Errorf("Value = %v", item.Value)
			}
			if !item.UpdatedAt.After(item.CreatedAt) {
				t.Errorf("update should keep CreatedAt (%v) and advance UpdatedAt (%v)", item.CreatedAt, item.UpdatedAt)
			}
			if strings.Join(item.Namespace, "/") != "users/alice" {
				t.Errorf("Namespace = %v", item.Namespace)
			}

			found, err := b.SearchItems(ctx, []string{"users"}, 0)
			if err != nil {
				t.Fatalf("SearchItems: %v", err)
			}
			if len(found) != 2 {
				t.Fatalf("SearchItems(users) = %d items, want 2 (usersx must not match)", len(found))
			}
			if found[0].Namespace[1] != "alice" || found[1].Namespace[1] != "bob" {
				t.Errorf("SearchItems order = %v, %v", found[0].Namespace, found[1].Namespace)
			}

			all, err := b.SearchItems(ctx, nil, 0)
			if err != nil || len(all) != 3 {
				t.Errorf("SearchItems(all) = %d, %v", len(all), err)
			}
			if limited, _ := b.SearchItems(ctx, nil, 2); len(limited) != 2 {
				t.Errorf("SearchItems(limit 2) = %d", len(limited))
			}

			if err := b.DeleteItem(ctx, user, "prefs"); err != nil {
				t.Fatalf("DeleteItem: %v", err)
			}
			if _, err := b.GetItem(ctx, user, "prefs"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetItem after delete = %v, want ErrNotFound", err)
			}
			if err := b.DeleteItem(ctx, user, "prefs"); err != nil {
				t.Errorf("deleting a missing item = %v, want nil", err)
			}
		})
	}
}

func TestStore_SlashInKeyStaysInItsNamespace(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.PutItem(ctx, []string{"a"}, "b/c", map[string]any{"v": "slashkey"}); err != nil {
				t.Fatalf("PutItem(a, b/c): %v", err)
			}
			if err := b.PutItem(ctx, []string{"a", "b"}, "c", map[string]any{"v": "nested"}); err != nil {
				t.Fatalf("PutItem(a/b, c): %v", err)
			}

			nested, err := b.GetItem(ctx, []string{"a", "b"}, "c")
			if err != nil {
				t.Fatalf("GetItem(a/b, c): %v", err)
			}
			if nested.Key != "c" || strings.Join(nested.Namespace, "/") != "a/b" || nested.Value["v"] != "nested" {
				t.Errorf("GetItem(a/b, c) = ns=%v key=%q value=%v", nested.Namespace, nested.Key, nested.Value)
			}

			slashed, err := b.GetItem(ctx, []string{"a"}, "b/c")
			if err != nil {
				t.Fatalf("GetItem(a, b/c): %v", err)
			}
			if slashed.Key != "b/c" || slashed.Value["v"] != "slashkey" {
				t.Errorf("GetItem(a, b/c) = key=%q value=%v", slashed.Key, slashed.Value)
			}

			if all, _ := b.SearchItems(ctx, []string{"a"}, 0); len(all) != 2 {
				t.Errorf("SearchItems(a) = %d items, want 2", len(all))
			}

			if err := b.DeleteItem(ctx, []string{"a"}, "b/c"); err != nil {
				t.Fatalf("DeleteItem: %v", err)
			}
			if _, err := b.GetItem(ctx, []string{"a", "b"}, "c"); err != nil {
				t.Errorf("deleting a/b/c under [a] removed the nested item: %v", err)
			}
		})
	}
}

func TestStore_InvalidNamespace(t *testing.T) {
	bad := [][]string{nil, {}, {""}, {"a", ""}, {"a/b"}}
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, ns := range bad {
				if err := b.PutItem(ctx, ns, "k", nil); !errors.Is(err, ErrInvalidNamespace) {
					t.Errorf("PutItem(%q) = %v, want ErrInvalidNamespace", ns, err)
				}
			}
			if _, err := b.SearchItems(ctx, []string{"a/b"}, 0); !errors.Is(err, ErrInvalidNamespace) {
				t.Errorf("SearchItems(a/b) = %v, want ErrInvalidNamespace", err)
			}
		})
	}
}
