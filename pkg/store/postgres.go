package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hookline-dev/hookline/pkg/event"

	_ "github.com/lib/pq"
)

// PostgresStore is the Postgres-backed EventStore, selected when a
// DATABASE_URL is configured. Payloads stay TEXT so they round-trip
// byte-for-byte (JSONB would normalize them).
type PostgresStore struct {
	db *sql.DB

	writeMu      sync.Mutex
	lastReceived time.Time
}

// OpenPostgres connects using a lib/pq connection string.
func OpenPostgres(url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrUnavailable, err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already-open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL,
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

func (s *PostgresStore) Init(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, ev *event.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	if now.Before(s.lastReceived) {
		now = s.lastReceived
	}

	query := `INSERT INTO events (
		received_at, source_app, session_id, hook_event_type, payload, chat, summary, session_name, session_context
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		now,
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

const postgresEventColumns = `id, received_at, source_app, session_id, hook_event_type, payload, chat, summary, session_name, session_context`

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]event.Event, error) {
	query := `SELECT ` + postgresEventColumns + ` FROM events WHERE 1=1`
	args := []any{}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		query += fmt.Sprintf(` AND session_id = $%d`, len(args))
	}
	if f.HookEventType != "" {
		args = append(args, f.HookEventType)
		query += fmt.Sprintf(` AND hook_event_type = $%d`, len(args))
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	return s.queryEvents(ctx, query, args...)
}

func (s *PostgresStore) Recent(ctx context.Context, n int) ([]event.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+postgresEventColumns+` FROM events ORDER BY id DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
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
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.EventCount, &sum.FirstEvent, &sum.LastEvent); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrUnavailable, err)
		}
		sessions = append(sessions, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrUnavailable, err)
	}
	return sessions, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]event.Event, 0)
	for rows.Next() {
		ev, err := scanPostgresEvent(rows)
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

func scanPostgresEvent(rows *sql.Rows) (event.Event, error) {
	var (
		ev             event.Event
		payload        string
		chat           sql.NullString
		summary        sql.NullString
		sessionName    sql.NullString
		sessionContext sql.NullString
	)
	if err := rows.Scan(&ev.ID, &ev.ReceivedAt, &ev.SourceApp, &ev.SessionID, &ev.HookEventType,
		&payload, &chat, &summary, &sessionName, &sessionContext); err != nil {
		return event.Event{}, err
	}
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
