// Package recorder persists completed exchanges to a SQLite database for
// later inspection.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id          TEXT PRIMARY KEY,
	seq         INTEGER NOT NULL,
	method      TEXT NOT NULL,
	url         TEXT NOT NULL,
	status      INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
`

// Exchange is one recorded request outcome. Kind is empty for successes.
type Exchange struct {
	ID       string
	Seq      uint64
	Method   string
	URL      string
	Status   int
	Kind     string
	Duration time.Duration
}

// Recorder writes exchanges to SQLite. Safe for concurrent use; database/sql
// serializes access to the single connection.
type Recorder struct {
	db           *sql.DB
	writeTimeout time.Duration
}

// Open creates or opens the database at path and ensures the schema exists.
// Use ":memory:" for an ephemeral recorder.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Recorder{db: db, writeTimeout: 5 * time.Second}, nil
}

// Record inserts one exchange.
func (r *Recorder) Record(ex Exchange) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, seq, method, url, status, kind, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.Seq, ex.Method, ex.URL, ex.Status, ex.Kind, ex.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit exchanges, newest first.
func (r *Recorder) Recent(limit int) ([]Exchange, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, seq, method, url, status, kind, duration_ms FROM exchanges ORDER BY created_at DESC, seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var ms int64
		if err := rows.Scan(&ex.ID, &ex.Seq, &ex.Method, &ex.URL, &ex.Status, &ex.Kind, &ms); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
