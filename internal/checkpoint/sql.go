package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Database URI schemes and the database/sql drivers they select.
var uriDrivers = map[string]string{
	"sqlite":  "sqlite",  // modernc.org/sqlite, pure Go
	"sqlite3": "sqlite3", // github.com/mattn/go-sqlite3, cgo
}

// ParseDatabaseURI splits a database URI such as sqlite:///var/lib/agent.db
// into a driver name and data source name.
func ParseDatabaseURI(uri string) (driver, dsn string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", "", fmt.Errorf("database URI %q has no scheme", uri)
	}
	driver, ok = uriDrivers[strings.ToLower(scheme)]
	if !ok {
		return "", "", fmt.Errorf("unsupported database scheme %q (supported: sqlite, sqlite3)", scheme)
	}
	if rest == "" {
		return "", "", fmt.Errorf("database URI %q has no path", uri)
	}
	return driver, rest, nil
}

// SQLBackend persists checkpoints and items in a SQLite database. Each
// backend owns one exclusive connection, released by Close. Call Setup
// before first use.
type SQLBackend struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// OpenSQL opens a connection to uri and verifies it. On any error the
// connection is closed before returning.
func OpenSQL(ctx context.Context, uri string, logger *slog.Logger) (*SQLBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, dsn, err := ParseDatabaseURI(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", driver, err)
	}

	logger.Debug("checkpoint database opened", "driver", driver)
	return &SQLBackend{db: db, logger: logger, now: time.Now}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		parent_id TEXT,
		step INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		state_gz BLOB NOT NULL,
		byte_size INTEGER NOT NULL,
		message_count INTEGER NOT NULL,
		UNIQUE (thread_id, step)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread
		ON checkpoints(thread_id, step DESC)`,
	`CREATE TABLE IF NOT EXISTS store_items (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_store_items_updated
		ON store_items(updated_at DESC)`,
}

// Setup creates tables and indexes. It is safe to run repeatedly.
func (s *SQLBackend) Setup(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("setup checkpoint schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection. Subsequent calls return the first result.
func (s *SQLBackend) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
		s.logger.Debug("checkpoint database closed")
	})
	return s.closeErr
}

// SaveCheckpoint implements [Saver].
func (s *SQLBackend) SaveCheckpoint(ctx context.Context, threadID string, state *State) (*Checkpoint, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	if state == nil {
		state = &State{}
	}
	compressed, err := encodeState(state)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cp := &Checkpoint{
		ID:           id,
		ThreadID:     threadID,
		Step:         1,
		CreatedAt:    s.now().UTC(),
		State:        cloneState(state),
		ByteSize:     int64(len(compressed)),
		MessageCount: messageCount(state),
	}

	var parent string
	var step int
	err = tx.QueryRowContext(ctx,
		`SELECT id, step FROM checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`,
		threadID).Scan(&parent, &step)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("query parent: %w", err)
	default:
		cp.ParentID, _ = uuid.Parse(parent)
		cp.Step = step + 1
	}

	var parentCol any
	if cp.ParentID != uuid.Nil {
		parentCol = cp.ParentID.String()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, thread_id, parent_id, step, created_at, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), threadID, parentCol, cp.Step, cp.CreatedAt.UnixNano(), compressed, len(compressed), cp.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return cp, nil
}

const checkpointColumns = `id, thread_id, parent_id, step, created_at, byte_size, message_count`

// LatestCheckpoint implements [Saver].
func (s *SQLBackend) LatestCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`, state_gz
		FROM checkpoints WHERE thread_id = ?
		ORDER BY step DESC LIMIT 1
	`, threadID)
	return scanFull(row)
}

// GetCheckpoint implements [Saver].
func (s *SQLBackend) GetCheckpoint(ctx context.Context, id uuid.UUID) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`, state_gz
		FROM checkpoints WHERE id = ?
	`, id.String())
	return scanFull(row)
}

// ListCheckpoints implements [Saver].
func (s *SQLBackend) ListCheckpoints(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM checkpoints WHERE thread_id = ?
		ORDER BY step DESC LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	out := []*Checkpoint{}
	for rows.Next() {
		cp, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteThread implements [Saver].
func (s *SQLBackend) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// PutItem implements [Store].
func (s *SQLBackend) PutItem(ctx context.Context, namespace []string, key string, value map[string]any) error {
	if err := validateNamespace(namespace, false); err != nil {
		return err
	}
	if value == nil {
		value = map[string]any{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	now := s.now().UTC().UnixNano()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO store_items (namespace, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, namespaceKey(namespace), key, string(data), now, now)
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// GetItem implements [Store].
func (s *SQLBackend) GetItem(ctx context.Context, namespace []string, key string) (*Item, error) {
	if err := validateNamespace(namespace, false); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, key, value, created_at, updated_at
		FROM store_items WHERE namespace = ? AND key = ?
	`, namespaceKey(namespace), key)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// SearchItems implements [Store].
func (s *SQLBackend) SearchItems(ctx context.Context, prefix []string, limit int) ([]*Item, error) {
	if err := validateNamespace(prefix, true); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	p := namespaceKey(prefix)

	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, key, value, created_at, updated_at
		FROM store_items
		WHERE substr(namespace, 1, ?) = ?
		ORDER BY updated_at DESC, namespace, key
		LIMIT ?
	`, utf8.RuneCountInString(p), p, limit)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	out := []*Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DeleteItem implements [Store].
func (s *SQLBackend) DeleteItem(ctx context.Context, namespace []string, key string) error {
	if err := validateNamespace(namespace, false); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM store_items WHERE namespace = ? AND key = ?`, namespaceKey(namespace), key)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeta(row scanner, extra ...any) (*Checkpoint, error) {
	var (
		cp       Checkpoint
		idStr    string
		parent   sql.NullString
		createdN int64
	)
	dest := append([]any{&idStr, &cp.ThreadID, &parent, &cp.Step, &createdN, &cp.ByteSize, &cp.MessageCount}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	cp.ID, _ = uuid.Parse(idStr)
	if parent.Valid {
		cp.ParentID, _ = uuid.Parse(parent.String)
	}
	cp.CreatedAt = time.Unix(0, createdN).UTC()
	return &cp, nil
}

func scanFull(row scanner) (*Checkpoint, error) {
	var stateGz []byte
	cp, err := scanMeta(row, &stateGz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	if cp.State, err = decodeState(stateGz); err != nil {
		return nil, err
	}
	return cp, nil
}

func scanItem(row scanner) (*Item, error) {
	var (
		item               Item
		ns, value          string
		createdN, updatedN int64
	)
	if err := row.Scan(&ns, &item.Key, &value, &createdN, &updatedN); err != nil {
		return nil, err
	}
	item.Namespace = splitNamespaceKey(ns)
	if err := json.Unmarshal([]byte(value), &item.Value); err != nil {
		return nil, fmt.Errorf("unmarshal item value: %w", err)
	}
	item.CreatedAt = time.Unix(0, createdN).UTC()
	item.UpdatedAt = time.Unix(0, updatedN).UTC()
	return &item, nil
}

func encodeState(state *State) ([]byte, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(stateJSON); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeState(compressed []byte) (*State, error) {
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	stateJSON, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var state State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
