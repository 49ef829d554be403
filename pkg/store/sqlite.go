package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hookline-dev/hookline/pkg/event"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default EventStore backend: a single embedded database
// file, WAL mode, writes serialized by a store-level mutex.
type SQLiteStore struct {
	db *sql.DB

	writeMu      sync.Mutex
	lastReceived time.Time
}

// OpenSQLite opens (creating if necessary) the database file at path and
// returns a store backed by it. The parent directory is created as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %v", ErrUnavailable, err)
		}
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an already-open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		received_at TEXT NOT NULL,
		source_app TEXT NOT NULL,
		session_id TEXT NOT NULL,
		hook_event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		chat TEXT,
		summary TEXT,
		session_name TEXT,
		session_context TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(hook_event_type)`,
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, ev *event.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	if now.Before(s.lastReceived) {
		now = s.lastReceived
	}

	query := `INSERT INTO events (
		received_at, source_app, session_id, hook_event_type, payload, chat, summary, session_name, session_context
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		now.Format(timeLayout),
		ev.SourceApp,
		ev.SessionID,
		ev.HookEventType,
		string(ev.Payload),
		rawOrNull(ev.Chat),
		strOrNull(ev.Summary),
		strOrNull(ev.SessionName),
		rawOrNull(ev.SessionContext),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("%w: insert event: %v", ErrUnavailable, err)
	}

	ev.ID = id
	ev.ReceivedAt = now
	s.lastReceived = now
	return nil
}

const sqliteEventColumns = `id, received_at, source_app, session_id, hook_event_type, payload, chat, summary, session_name, session_context`

func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]event.Event, error) {
	query := `SELECT ` + sqliteEventColumns + ` FROM events WHERE 1=1`
	args := []any{}
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.HookEventType != "" {
		query += ` AND hook_event_type = ?`
		args = append(args, f.HookEventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.limit())

	return s.queryEvents(ctx, query, args...)
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]event.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+sqliteEventColumns+` FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	query := `
		SELECT session_id, COUNT(*), MIN(received_at), MAX(received_at)
		FROM events
		GROUP BY session_id
		ORDER BY MAX(received_at) DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]SessionSummary, 0)
	for rows.Next() {
		var (
			sum         SessionSummary
			first, last string
		)
		if err := rows.Scan(&sum.SessionID, &sum.EventCount, &first, &last); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrUnavailable, err)
		}
		sum.FirstEvent = parseTime(first)
		sum.LastEvent = parseTime(last)
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	return sessions, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]event.Event, 0)
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ErrUnavailable, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrUnavailable, err)
	}
	return events, nil
}

func scanSQLiteEvent(rows *sql.Rows) (event.Event, error) {
	var (
		ev             event.Event
		receivedAt     string
		payload        string
		chat           sql.NullString
		summary        sql.NullString
		sessionName    sql.NullString
		sessionContext sql.NullString
	)
	if err := rows.Scan(&ev.ID, &receivedAt, &ev.SourceApp, &ev.SessionID, &ev.HookEventType,
		&payload, &chat, &summary, &sessionName, &sessionContext); err != nil {
		return event.Event{}, err
	}
	ev.ReceivedAt = parseTime(receivedAt)
	ev.Payload = json.RawMessage(payload)
	if chat.Valid {
		ev.Chat = json.RawMessage(chat.String)
	}
	ev.Summary = summary.String
	ev.SessionName = sessionName.String
	if sessionContext.Valid {
		ev.SessionContext = json.RawMessage(sessionContext.String)
	}
	return ev, nil
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func strOrNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
