// Package ledger keeps a permanent SQLite record of every publish attempt.
// Unlike the JSON history it is never truncated.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Trigger values for Row.Trigger.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Row is one publish attempt.
type Row struct {
	ID       string    `json:"id"`
	Folder   string    `json:"folder"`
	Type     string    `json:"type"`
	Slides   int       `json:"slides"`
	Trigger  string    `json:"trigger"`
	RemoteID string    `json:"remote_id,omitempty"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// OK reports whether the attempt succeeded.
func (r Row) OK() bool { return r.Error == "" }

// Ledger wraps the SQLite connection.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path. ":memory:" is accepted for tests.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		folder TEXT NOT NULL,
		type TEXT NOT NULL,
		slides INTEGER NOT NULL DEFAULT 0,
		origin TEXT NOT NULL DEFAULT 'schedule',
		remote_id TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		posted_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS posts_folder ON posts(folder);
	CREATE INDEX IF NOT EXISTS posts_posted_at ON posts(posted_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record inserts r, assigning an ID and timestamp when missing, and returns
// the stored row.
func (l *Ledger) Record(ctx context.Context, r Row) (Row, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PostedAt.IsZero() {
		r.PostedAt = time.Now()
	}
	if r.Trigger == "" {
		r.Trigger = TriggerSchedule
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO posts (id, folder, type, slides, origin, remote_id, code, error, posted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Folder, r.Type, r.Slides, r.Trigger, r.RemoteID, r.Code, r.Error,
		r.PostedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return Row{}, fmt.Errorf("record %s: %w", r.Folder, err)
	}
	return r, nil
}

// Recent returns up to limit rows, newest first. limit <= 0 returns all rows.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = -1
	}
	return l.query(ctx, `SELECT id, folder, type, slides, origin, remote_id, code, error, posted_at
		FROM posts ORDER BY posted_at DESC, rowid DESC LIMIT ?`, limit)
}

// FindByFolder returns every attempt for folder, newest first.
func (l *Ledger) FindByFolder(ctx context.Context, folder string) ([]Row, error) {
	return l.query(ctx, `SELECT id, folder, type, slides, origin, remote_id, code, error, posted_at
		FROM posts WHERE folder = ? ORDER BY posted_at DESC, rowid DESC`, folder)
}

// Get returns the row with id.
func (l *Ledger) Get(ctx context.Context, id string) (Row, error) {
	rows, err := l.query(ctx, `SELECT id, folder, type, slides, origin, remote_id, code, error, posted_at
		FROM posts WHERE id = ?`, id)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, sql.ErrNoRows
	}
	return rows[0], nil
}

// Counts holds totals over the whole ledger.
type Counts struct {
	Total    int `json:"total"`
	Failures int `json:"failures"`
}

// Count returns the number of recorded attempts and how many failed.
func (l *Ledger) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0) FROM posts`).
		Scan(&c.Total, &c.Failures)
	return c, err
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			r      Row
			posted string
		)
		if err := rows.Scan(&r.ID, &r.Folder, &r.Type, &r.Slides, &r.Trigger, &r.RemoteID, &r.Code, &r.Error, &posted); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, posted)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", r.ID, err)
		}
		r.PostedAt = t
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
