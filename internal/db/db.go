package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
)

// Process event types.
const (
	EventProcessStarted = "process.started"
	EventCircuitOpened  = "circuit.opened"
	EventCircuitClosed  = "circuit.closed"
)

// Per-user conversation event types.
const (
	EventUpdateReceived      = "update.received"
	EventModelSelected       = "model.selected"
	EventVoiceSelected       = "voice.selected"
	EventCatalogRefreshed    = "catalog.refreshed"
	EventGenerationSucceeded = "generation.succeeded"
	EventGenerationFailed    = "generation.failed"
	EventHistoryCleared      = "history.cleared"
	EventHistoryPruned       = "history.pruned"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: users, user_models, chat_history, updates, events.
// Columns added after the first release are back-filled on older files.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			images_generated INTEGER NOT NULL DEFAULT 0,
			texts_generated INTEGER NOT NULL DEFAULT 0,
			last_used INTEGER,
			current_model TEXT,
			model_type TEXT
		);

		CREATE TABLE IF NOT EXISTS user_models (
			user_id INTEGER NOT NULL,
			model_type TEXT NOT NULL,
			models TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
			PRIMARY KEY (user_id, model_type)
		);

		CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_history_user_created ON chat_history(user_id, created_at, id);
		CREATE INDEX IF NOT EXISTS idx_chat_history_created ON chat_history(created_at);

		CREATE TABLE IF NOT EXISTS updates (
			update_id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);

		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			user_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
	`)
	if err != nil {
		return err
	}

	additive := []struct{ table, column, decl string }{
		{"users", "audio_generated", "INTEGER NOT NULL DEFAULT 0"},
		{"users", "current_voice", "TEXT"},
	}
	for _, c := range additive {
		if err := ensureColumn(db, c.table, c.column, c.decl); err != nil {
			return err
		}
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect table %s: %w", table, err)
	}
	rows.Close()

	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Store is the persistent store for profiles, catalog snapshots and chat history.
// It is safe for concurrent use; concurrent writes to the same profile are
// last-write-wins.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp chat messages and profiles.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wraps an initialised database handle.
func NewStore(database *sql.DB, opts ...Option) *Store {
	s := &Store{db: database, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events and userID zero for process-level events.
// payload is serialized to JSON; nil payload stores NULL.
func (s *Store) LogEvent(ctx context.Context, parentID *int64, userID int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}
	var user any
	if userID != 0 {
		user = userID
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (parent_id, user_id, event_type, payload) VALUES (?, ?, ?, ?)`,
		parentID, user, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

type parentKey struct{}

// WithParentEvent returns a context under which events are logged as
// children of id.
func WithParentEvent(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, parentKey{}, id)
}

// ParentEvent returns the parent event id carried by ctx, or nil.
func ParentEvent(ctx context.Context) *int64 {
	if id, ok := ctx.Value(parentKey{}).(int64); ok {
		return &id
	}
	return nil
}

// RecordUpdate marks a transport update as received. It reports false when
// the update was already recorded.
func (s *Store) RecordUpdate(ctx context.Context, updateID, userID int64, kind string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO updates (update_id, user_id, kind) VALUES (?, ?, ?)`,
		updateID, userID, kind,
	)
	if err != nil {
		return false, fmt.Errorf("record update %d: %w", updateID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// DeriveOffset returns the next polling offset derived from the updates table.
// Returns 0 if no update has been recorded.
func (s *Store) DeriveOffset(ctx context.Context) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(update_id) + 1, 0) FROM updates`).Scan(&offset)
	return offset, err
}
