// Package state keeps the lifecycle journal: an append-only SQLite record of
// every load, unload and failure the runtime goes through.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapscript/internal/script"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// DefaultLimit caps Entries when no limit is given.
const DefaultLimit = 100

// Entry is one journal row.
type Entry struct {
	ID     string    `json:"id" yaml:"id"`
	LoadID string    `json:"load_id,omitempty" yaml:"load_id,omitempty"`
	Script string    `json:"script" yaml:"script"`
	Kind   string    `json:"kind" yaml:"kind"`
	Path   string    `json:"path,omitempty" yaml:"path,omitempty"`
	Bound  []string  `json:"bound,omitempty" yaml:"bound,omitempty"`
	Error  string    `json:"error,omitempty" yaml:"error,omitempty"`
	At     time.Time `json:"at" yaml:"at"`
}

// Filter narrows Entries.
type Filter struct {
	Script string // script name, matched case-insensitively; empty matches all
	Limit  int    // newest first; <= 0 means DefaultLimit
}

// Journal appends lifecycle events to SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the journal at path and migrates it.
// Use MemoryPath for a throwaway journal.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := New(db, logger)
	j.logger.Debug("journal opened", slog.String("path", path))
	return j, nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{db: db, logger: logger}
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends e, assigning an ID when it has none.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	bound, err := json.Marshal(e.Bound)
	if err != nil {
		return fmt.Errorf("failed to encode bound references: %w", err)
	}
	if e.Bound == nil {
		bound = []byte("[]")
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO journal (id, load_id, script, script_key, kind, path, bound, error, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.LoadID, e.Script, script.Key(e.Script), e.Kind, e.Path, string(bound), e.Error, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", e.Kind, e.Script, err)
	}
	return nil
}

// Entries returns journal rows, newest first.
func (j *Journal) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, load_id, script, kind, path, bound, error, at FROM journal`
	args := []any{}
	if f.Script != "" {
		query += ` WHERE script_key = ?`
		args = append(args, script.Key(f.Script))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			bound string
			at    string
		)
		if err := rows.Scan(&e.ID, &e.LoadID, &e.Script, &e.Kind, &e.Path, &bound, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		if err := json.Unmarshal([]byte(bound), &e.Bound); err != nil {
			return nil, fmt.Errorf("journal row %s: bad bound column: %w", e.ID, err)
		}
		if len(e.Bound) == 0 {
			e.Bound = nil
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("journal row %s: bad timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// FromEvent converts a lifecycle event to a journal entry.
func FromEvent(e script.Event) Entry {
	entry := Entry{
		LoadID: e.LoadID,
		Script: e.Name,
		Kind:   e.Kind.String(),
		Path:   e.Path,
		Bound:  e.Bound,
		At:     e.At,
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	return entry
}

// Listener records every lifecycle event. Write failures are logged and do
// not interrupt the runtime.
func (j *Journal) Listener() script.Listener {
	return func(e script.Event) {
		entry := FromEvent(e)
		if err := j.Record(context.Background(), &entry); err != nil {
			j.logger.Warn("journal write failed",
				slog.String("script", e.Name),
				slog.String("event", e.Kind.String()),
				slog.String("error", err.Error()))
		}
	}
}
