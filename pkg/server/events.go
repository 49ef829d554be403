package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hookline-dev/hookline/pkg/api"
	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/store"
)

// ingestResponse acknowledges a persisted event.
type ingestResponse struct {
	Status    string `json:"status"`
	EventType string `json:"event_type"`
	ID        int64  `json:"id"`
}

// handleIngest handles POST /events: validate, persist, then rebroadcast.
// Persistence gates broadcast: an event that fails to append is never
// published, so subscribers only ever see durable events.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WritePayloadTooLarge(w, "Request body exceeds the 1 MiB limit")
			return
		}
		api.WriteBadRequest(w, "Unable to read request body")
		return
	}

	ev, err := s.validator.Decode(body)
	if err != nil {
		if errors.Is(err, event.ErrMalformed) {
			api.WriteBadRequest(w, err.Error())
			return
		}
		api.WriteInternal(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	ctx, done := s.obs.TrackRequest(ctx, "POST /events")
	if err := s.store.Append(ctx, ev); err != nil {
		done(err)
		api.WriteInternal(w, err)
		return
	}
	done(nil)

	s.hub.Publish(*ev)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ingestResponse{
		Status:    "ok",
		EventType: ev.HookEventType,
		ID:        ev.ID,
	})
}

// recentResponse wraps a query result.
type recentResponse struct {
	Events []event.Event `json:"events"`
	Count  int           `json:"count"`
}

// handleRecent handles GET /events/recent with optional limit, session_id
// and hook_event_type filters. Events are returned newest first.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	f := store.Filter{
		SessionID:     q.Get("session_id"),
		HookEventType: q.Get("hook_event_type"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	ctx, done := s.obs.TrackRequest(ctx, "GET /events/recent")
	events, err := s.store.Query(ctx, f)
	done(err)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recentResponse{Events: events, Count: len(events)})
}

// sessionsResponse wraps the session summaries.
type sessionsResponse struct {
	Sessions []store.SessionSummary `json:"sessions"`
}

// handleSessions handles GET /events/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	ctx, done := s.obs.TrackRequest(ctx, "GET /events/sessions")
	sessions, err := s.store.ListSessions(ctx)
	done(err)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessionsResponse{Sessions: sessions})
}

// healthResponse reports liveness.
type healthResponse struct {
	Status          string `json:"status"`
	SubscriberCount int    `json:"subscriber_count"`
}

// handleHealth handles GET /health. It never touches the store, so a
// degraded database does not fail the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:          "healthy",
		SubscriberCount: s.hub.SubscriberCount(),
	})
}
