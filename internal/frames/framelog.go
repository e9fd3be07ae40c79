package frames

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Frame log event kinds.
const (
	EventCaptured = "captured"
	EventRemoved  = "removed"
)

// LogEntry is one row of the frame log.
type LogEntry struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	Name       string `json:"name"`
	Event      string `json:"event"`
	RecordedAt int64  `json:"recordedAt"`
}

// Log is an append-only SQLite record of frame lifecycle events. It sits
// beside the directory scan; the directory stays authoritative.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLog opens (or creates) the frame log at path.
func OpenLog(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	l := &Log{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("frame log opened", "path", path)
	return l, nil
}

func (l *Log) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS frame_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			name TEXT NOT NULL,
			event TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frame_events_ts ON frame_events(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Record appends one event for f.
func (l *Log) Record(ctx context.Context, f Frame, event string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO frame_events (ts, name, event, recorded_at) VALUES (?, ?, ?, ?)`,
		f.Timestamp, f.Name, event, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert frame event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, ts, name, event, recorded_at FROM frame_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query frame events: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Name, &e.Event, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of events of the given kind.
func (l *Log) Count(ctx context.Context, event string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frame_events WHERE event = ?`, event).Scan(&n)
	return n, err
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
