package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/store"
)

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func makeEvent(session, eventType string) *event.Event {
	return &event.Event{
		SourceApp:     "agent-runner",
		SessionID:     session,
		HookEventType: eventType,
		Payload:       json.RawMessage(`{"tool_name": "Bash"}`),
	}
}

func TestSQLiteStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	ev := makeEvent("sess-1", "PreToolUse")
	require.NoError(t, s.Append(ctx, ev))

	assert.Equal(t, int64(1), ev.ID)
	assert.False(t, ev.ReceivedAt.IsZero())
}

func TestSQLiteStore_IDsAreMonotonic(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 20; i++ {
		ev := makeEvent("sess-1", "PreToolUse")
		require.NoError(t, s.Append(ctx, ev))
		assert.Greater(t, ev.ID, last)
		last = ev.ID
	}
}

func TestSQLiteStore_Roundtrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	in := &event.Event{
		SourceApp:      "agent-runner",
		SessionID:      "sess-1",
		HookEventType:  "Stop",
		Payload:        json.RawMessage(`{"big": 9007199254740993}`),
		Chat:           json.RawMessage(`[{"role": "user"}]`),
		Summary:        "done",
		SessionName:    "refactor-run",
		SessionContext: json.RawMessage(`{"branch": "main"}`),
	}
	require.NoError(t, s.Append(ctx, in))

	events, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	out := events[0]
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, "agent-runner", out.SourceApp)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.Equal(t, "Stop", out.HookEventType)
	// Payload bytes survive untouched, including big integers.
	assert.Equal(t, string(in.Payload), string(out.Payload))
	assert.Equal(t, string(in.Chat), string(out.Chat))
	assert.Equal(t, "done", out.Summary)
	assert.Equal(t, "refactor-run", out.SessionName)
	assert.Equal(t, string(in.SessionContext), string(out.SessionContext))
	assert.True(t, out.ReceivedAt.Equal(in.ReceivedAt))
}

func TestSQLiteStore_RoundtripOptionalFieldsAbsent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, makeEvent("sess-1", "Stop")))

	events, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Chat)
	assert.Empty(t, events[0].Summary)
	assert.Empty(t, events[0].SessionName)
	assert.Nil(t, events[0].SessionContext)
}

func TestSQLiteStore_QueryFilters(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, makeEvent("sess-1", "PreToolUse")))
	require.NoError(t, s.Append(ctx, makeEvent("sess-1", "PostToolUse")))
	require.NoError(t, s.Append(ctx, makeEvent("sess-2", "PreToolUse")))

	bySession, err := s.Query(ctx, store.Filter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, bySession, 2)

	byType, err := s.Query(ctx, store.Filter{HookEventType: "PreToolUse"})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	both, err := s.Query(ctx, store.Filter{SessionID: "sess-1", HookEventType: "PostToolUse"})
	require.NoError(t, err)
	require.Len(t, both, 1)

	none, err := s.Query(ctx, store.Filter{SessionID: "nope"})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestSQLiteStore_QueryNewestFirstWithLimit(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, makeEvent("sess-1", "PreToolUse")))
	}

	events, err := s.Query(ctx, store.Filter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(5), events[0].ID)
	assert.Equal(t, int64(4), events[1].ID)
	assert.Equal(t, int64(3), events[2].ID)
}

func TestSQLiteStore_RecentOldestFirst(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, makeEvent("sess-1", "PreToolUse")))
	}

	events, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Recent keeps the newest n but delivers them in ascending id order
	// so the stream backlog replays chronologically.
	assert.Equal(t, int64(3), events[0].ID)
	assert.Equal(t, int64(4), events[1].ID)
	assert.Equal(t, int64(5), events[2].ID)
}

func TestSQLiteStore_RecentEmpty(t *testing.T) {
	s := newSQLiteStore(t)

	events, err := s.Recent(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, makeEvent("sess-1", "PreToolUse")))
	require.NoError(t, s.Append(ctx, makeEvent("sess-1", "PostToolUse")))
	require.NoError(t, s.Append(ctx, makeEvent("sess-2", "PreToolUse")))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Most recently active first.
	assert.Equal(t, "sess-2", sessions[0].SessionID)
	assert.Equal(t, 1, sessions[0].EventCount)
	assert.Equal(t, "sess-1", sessions[1].SessionID)
	assert.Equal(t, 2, sessions[1].EventCount)
	assert.False(t, sessions[0].FirstEvent.IsZero())
	assert.False(t, sessions[1].LastEvent.Before(sessions[1].FirstEvent))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))

	first := makeEvent("sess-1", "PreToolUse")
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Close())

	// An acknowledged append must be readable from a fresh handle on the
	// same file.
	reopened, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.Init(ctx))

	events, err := reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.True(t, events[0].ReceivedAt.Equal(first.ReceivedAt))

	// Ids keep climbing from where the previous handle stopped.
	next := makeEvent("sess-1", "PostToolUse")
	require.NoError(t, reopened.Append(ctx, next))
	assert.Greater(t, next.ID, first.ID)
}

func TestSQLiteStore_ConcurrentAppends(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	const n = 50
	done := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			ev := makeEvent("sess-1", "PreToolUse")
			if err := s.Append(ctx, ev); err != nil {
				done <- 0
				return
			}
			done <- ev.ID
		}()
	}

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		id := <-done
		require.NotZero(t, id)
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}

	events, err := s.Recent(ctx, n)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
		assert.False(t, events[i].ReceivedAt.Before(events[i-1].ReceivedAt))
	}
}
