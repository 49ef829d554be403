// Package hub fans newly persisted events out to live subscribers.
//
// The hub is a notification convenience layered on top of the durable log:
// no component depends on it for correctness, and a hub failure is never
// visible on the write path. Delivery is best-effort; a subscriber that
// cannot keep up is dropped, never allowed to backpressure ingestion.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hookline-dev/hookline/pkg/event"
)

// Frame is one message on a subscriber's outbound stream.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Frame types on the wire.
const (
	FrameInitial = "initial"
	FrameEvent   = "event"
	FramePong    = "pong"
)

// State tracks a subscriber connection through its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// BacklogProvider supplies the recent-events snapshot sent to a subscriber
// on connect.
type BacklogProvider interface {
	Recent(ctx context.Context, n int) ([]event.Event, error)
}

// Subscription is one live subscriber's handle. Frames are drained from a
// single channel so one goroutine per connection performs all writes.
type Subscription struct {
	id     uuid.UUID
	hub    *Hub
	frames chan Frame

	// Guarded by hub.mu.
	state      State
	initialMax int64
}

// Frames returns the outbound stream. The channel is closed when the
// subscriber is dropped or unsubscribed.
func (s *Subscription) Frames() <-chan Frame {
	return s.frames
}

// Offer enqueues a frame (e.g. a pong) without blocking. A full buffer
// drops the subscriber, same as on the publish path. Returns false if the
// frame was not queued.
func (s *Subscription) Offer(f Frame) bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		s.hub.dropLocked(s, "buffer full")
		return false
	}
}

// Hub maintains the set of currently connected subscribers.
type Hub struct {
	backlog  BacklogProvider
	backlogN int
	buffer   int
	logger   *slog.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID]*Subscription
}

// New creates a hub replaying the last backlogN events on connect and
// giving each subscriber an outbound buffer of buffer frames.
func New(backlog BacklogProvider, backlogN, buffer int) *Hub {
	if backlogN <= 0 {
		backlogN = 50
	}
	if buffer < 8 {
		buffer = 64
	}
	return &Hub{
		backlog:     backlog,
		backlogN:    backlogN,
		buffer:      buffer,
		logger:      slog.Default().With("component", "hub"),
		subscribers: make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a new subscriber and queues its initial batch.
//
// Registration and the backlog snapshot happen under one lock, so no event
// can fall between the snapshot and the first live publish; publishes of
// ids already covered by the snapshot are skipped per subscriber, so none
// is duplicated either.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		id:     uuid.New(),
		hub:    h,
		frames: make(chan Frame, h.buffer),
		state:  StateConnecting,
	}
	h.subscribers[sub.id] = sub

	backlog, err := h.backlog.Recent(ctx, h.backlogN)
	if err != nil {
		delete(h.subscribers, sub.id)
		sub.state = StateClosed
		close(sub.frames)
		return nil, err
	}
	if len(backlog) > 0 {
		sub.initialMax = backlog[len(backlog)-1].ID
	}
	sub.frames <- Frame{Type: FrameInitial, Data: backlog}
	sub.state = StateActive

	h.logger.Info("subscriber connected", "subscriber", sub.id, "backlog", len(backlog))
	return sub, nil
}

// Publish delivers ev to every active subscriber in call order. It never
// blocks and never returns an error: a subscriber whose buffer is full is
// dropped instead.
func (h *Hub) Publish(ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers {
		if sub.state != StateActive || ev.ID <= sub.initialMax {
			continue
		}
		select {
		case sub.frames <- Frame{Type: FrameEvent, Data: ev}:
		default:
			h.dropLocked(sub, "buffer full")
		}
	}
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.id]; ok {
		h.dropLocked(sub, "unsubscribed")
	}
}

// SubscriberCount reports the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close drops every subscriber. Used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		h.dropLocked(sub, "hub closed")
	}
}

// dropLocked transitions a subscriber Closing -> Closed, removes it and
// closes its channel. Callers hold h.mu.
func (h *Hub) dropLocked(sub *Subscription, reason string) {
	if sub.state == StateClosed {
		return
	}
	sub.state = StateClosing
	delete(h.subscribers, sub.id)
	close(sub.frames)
	sub.state = StateClosed
	h.logger.Info("subscriber dropped", "subscriber", sub.id, "reason", reason)
}
