// Package history keeps a SQLite ledger of harness sessions and
// per-workflow outcomes.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/calvw/flowcheck/internal/harness"
)

//go:embed schema.sql
var schemaSQL string

// Ledger records run outcomes in a SQLite database.
// Uses WAL mode so history queries do not block a recording writer.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at the given path.
// Applies required pragmas and the schema automatically; safe to call
// against an existing database.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to history database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under parallel workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Session identifies one harness invocation.
type Session struct {
	ID        string
	StartedAt time.Time
	Snapshots string
	Shallow   bool
}

// Run is one recorded workflow outcome.
type Run struct {
	SessionID    string
	WorkflowID   string
	WorkflowName string
	Outcome      harness.Outcome
	Message      string
	DiffCount    int
	Duration     time.Duration
	RecordedAt   time.Time
}

// BeginSession inserts a new session row and returns it.
func (l *Ledger) BeginSession(ctx context.Context, snapshots string, shallow bool) (Session, error) {
	s := Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Snapshots: snapshots,
		Shallow:   shallow,
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, snapshots, shallow)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.StartedAt.Format(time.RFC3339), s.Snapshots, boolInt(s.Shallow))
	if err != nil {
		return Session{}, fmt.Errorf("begin session: %w", err)
	}
	return s, nil
}

// RecordRun appends one workflow outcome to the session.
func (l *Ledger) RecordRun(ctx context.Context, sessionID string, res harness.Result) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs
		(session_id, workflow_id, workflow_name, outcome, message, diff_count, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sessionID,
		res.WorkflowID,
		res.Name,
		string(res.Outcome),
		res.Message,
		len(res.DiffPaths),
		res.Duration.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, workflow_id, workflow_name, outcome, message, diff_count, duration_ms, recorded_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// SessionRuns returns all runs recorded under a session, oldest first.
func (l *Ledger) SessionRuns(ctx context.Context, sessionID string) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, workflow_id, workflow_name, outcome, message, diff_count, duration_ms, recorded_at
		FROM runs
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// RecentSessions returns up to limit sessions, newest first.
func (l *Ledger) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, snapshots, shallow
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started string
		var shallow int
		if err := rows.Scan(&s.ID, &started, &s.Snapshots, &shallow); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt, _ = time.Parse(time.RFC3339, started)
		s.Shallow = shallow != 0
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var outcome, recorded string
		var durationMS int64
		if err := rows.Scan(
			&r.SessionID, &r.WorkflowID, &r.WorkflowName,
			&outcome, &r.Message, &r.DiffCount, &durationMS, &recorded,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Outcome = harness.Outcome(outcome)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.RecordedAt, _ = time.Parse(time.RFC3339, recorded)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
