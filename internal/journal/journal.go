// Package journal persists registry events to SQLite so reload history
// survives restarts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mattjoyce/bert/internal/registry"
)

// DefaultLimit bounds Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

// timeLayout is fixed width so occurred_at sorts as text in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one persisted registry event.
type Entry struct {
	ID     string             `json:"id"`
	Kind   registry.EventKind `json:"kind"`
	Module string             `json:"module"`
	Source string             `json:"source,omitempty"`
	Digest string             `json:"digest,omitempty"`
	Error  string             `json:"error,omitempty"`
	At     time.Time          `json:"at"`
}

// Journal appends and queries module events.
type Journal struct {
	db *sql.DB
}

// Open opens (and creates if needed) the journal database at path and
// ensures the schema exists. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS module_events (
  id          TEXT PRIMARY KEY,
  kind        TEXT NOT NULL,
  module      TEXT NOT NULL,
  source      TEXT,
  digest      TEXT,
  error       TEXT,
  occurred_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS module_events_module_occurred_at_idx ON module_events(module, occurred_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append persists e. An empty ID is replaced with a new UUID and a zero
// timestamp with the current time. The stored entry is returned.
func (j *Journal) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Module == "" {
		return Entry{}, fmt.Errorf("module name is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()

	_, err := j.db.ExecContext(ctx, `
INSERT INTO module_events(id, kind, module, source, digest, error, occurred_at)
VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.ID, string(e.Kind), e.Module,
		nullIfEmpty(e.Source), nullIfEmpty(e.Digest), nullIfEmpty(e.Error),
		e.At.Format(timeLayout),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert module event: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. An empty module name
// returns entries for every module.
func (j *Journal) Recent(ctx context.Context, module string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, kind, module, source, digest, error, occurred_at FROM module_events`
	args := []any{}
	if module != "" {
		query += ` WHERE module = ?`
		args = append(args, module)
	}
	// rowid breaks ties between events recorded in the same instant.
	query += ` ORDER BY occurred_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query module events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                     Entry
			kind, at              string
			source, digest, errsN sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &e.Module, &source, &digest, &errsN, &at); err != nil {
			return nil, fmt.Errorf("scan module event: %w", err)
		}
		e.Kind = registry.EventKind(kind)
		e.Source = source.String
		e.Digest = digest.String
		e.Error = errsN.String
		e.At, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at for event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module events: %w", err)
	}
	return out, nil
}

// Observer adapts the journal to a registry observer. Write failures are
// logged; they never affect the registry operation that emitted the event.
func (j *Journal) Observer(logger *slog.Logger) registry.Observer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ev registry.Event) {
		e := Entry{
			Kind:   ev.Kind,
			Module: ev.Module,
			Source: ev.Source,
			Digest: ev.Digest,
			At:     ev.At,
		}
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
		if _, err := j.Append(context.Background(), e); err != nil {
			logger.Warn("failed to journal module event", "module", ev.Module, "kind", ev.Kind, "error", err)
		}
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
