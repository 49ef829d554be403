// Package store implements the durable, ordered, queryable event log.
//
// The log is append-only: ids are assigned at write time, strictly
// increasing, and never reused. Two backends exist, SQLite (default,
// embedded) and Postgres, both behind the EventStore interface so the
// gateway and tests can swap them freely.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hookline-dev/hookline/pkg/event"
)

// ErrUnavailable indicates the persistence layer could not complete an
// operation. Callers must not broadcast an event whose append failed.
var ErrUnavailable = errors.New("event store unavailable")

// DefaultQueryLimit bounds result sets when the caller gives no limit.
const DefaultQueryLimit = 100

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	SessionID     string
	HookEventType string
	Limit         int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

// SessionSummary is the derived per-session aggregate: a session exists
// exactly as long as it has at least one event referencing it.
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	EventCount int       `json:"event_count"`
	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
}

// EventStore is the storage port for the event log. Implementations must be
// safe for concurrent use; Append calls are serialized internally so id
// assignment and durability ordering never interleave.
type EventStore interface {
	// Init creates the schema: primary order on id plus secondary indexes
	// on session_id and hook_event_type.
	Init(ctx context.Context) error

	// Append assigns id and received_at, persists the event durably, and
	// fills both fields in on success. received_at never precedes the
	// timestamp of any prior successful Append.
	Append(ctx context.Context, ev *event.Event) error

	// Query returns matching events newest-first by id.
	Query(ctx context.Context, f Filter) ([]event.Event, error)

	// Recent returns the last n events oldest-first, for chronological
	// replay to a newly connected subscriber.
	Recent(ctx context.Context, n int) ([]event.Event, error)

	// ListSessions groups the full log by session_id. Recomputed on every
	// call; the log is the only source of truth.
	ListSessions(ctx context.Context) ([]SessionSummary, error)

	Close() error
}

// timeLayout is RFC 3339 with fixed nanosecond width so stored timestamps
// compare correctly as strings in SQL MIN/MAX and ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// reverse flips a newest-first result into chronological order in place.
func reverse(events []event.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
