package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/hub"
)

// fakeBacklog serves a fixed slice as the recent-events snapshot.
type fakeBacklog struct {
	events []event.Event
	err    error
}

func (f *fakeBacklog) Recent(_ context.Context, n int) ([]event.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.events) > n {
		return f.events[len(f.events)-n:], nil
	}
	return f.events, nil
}

func makeEvents(ids ...int64) []event.Event {
	events := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, event.Event{
			ID:            id,
			SourceApp:     "a",
			SessionID:     "s",
			HookEventType: "t",
			Payload:       json.RawMessage(`{}`),
		})
	}
	return events
}

func TestSubscribe_InitialFrame(t *testing.T) {
	h := hub.New(&fakeBacklog{events: makeEvents(1, 2, 3)}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	frame := <-sub.Frames()
	assert.Equal(t, hub.FrameInitial, frame.Type)
	batch, ok := frame.Data.([]event.Event)
	require.True(t, ok)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(1), batch[0].ID)
	assert.Equal(t, int64(3), batch[2].ID)
}

func TestSubscribe_EmptyBacklog(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	frame := <-sub.Frames()
	assert.Equal(t, hub.FrameInitial, frame.Type)
}

func TestSubscribe_BacklogFailure(t *testing.T) {
	h := hub.New(&fakeBacklog{err: errors.New("db down")}, 50, 64)

	_, err := h.Subscribe(context.Background())
	require.Error(t, err)
	assert.Zero(t, h.SubscriberCount())
}

func TestPublish_DeliversInOrder(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	<-sub.Frames() // initial

	for _, ev := range makeEvents(1, 2, 3) {
		h.Publish(ev)
	}

	for want := int64(1); want <= 3; want++ {
		frame := <-sub.Frames()
		assert.Equal(t, hub.FrameEvent, frame.Type)
		ev, ok := frame.Data.(event.Event)
		require.True(t, ok)
		assert.Equal(t, want, ev.ID)
	}
}

func TestPublish_SkipsEventsCoveredByInitialBatch(t *testing.T) {
	h := hub.New(&fakeBacklog{events: makeEvents(1, 2)}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	<-sub.Frames() // initial covers ids 1 and 2

	// A publish racing the subscribe must not duplicate what the
	// snapshot already delivered.
	h.Publish(makeEvents(2)[0])
	h.Publish(makeEvents(3)[0])

	frame := <-sub.Frames()
	ev, ok := frame.Data.(event.Event)
	require.True(t, ok)
	assert.Equal(t, int64(3), ev.ID)
}

func TestPublish_DropsSlowSubscriber(t *testing.T) {
	// Smallest allowed buffer to fill it quickly.
	h := hub.New(&fakeBacklog{}, 50, 8)

	slow, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	fast, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer h.Unsubscribe(fast)

	<-fast.Frames() // initial; slow never drains

	// Initial frame occupies one slot; 8 more publishes overflow slow.
	for _, ev := range makeEvents(1, 2, 3, 4, 5, 6, 7, 8, 9, 10) {
		h.Publish(ev)
	}

	assert.Equal(t, 1, h.SubscriberCount())

	// The slow subscriber's channel is closed after a drop.
	var closed bool
	for {
		if _, ok := <-slow.Frames(); !ok {
			closed = true
			break
		}
	}
	assert.True(t, closed)

	// The fast subscriber still got everything.
	for want := int64(1); want <= 10; want++ {
		frame := <-fast.Frames()
		ev, ok := frame.Data.(event.Event)
		require.True(t, ok)
		assert.Equal(t, want, ev.ID)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)

	assert.Zero(t, h.SubscriberCount())

	// Publishing after the drop must not panic on the closed channel.
	h.Publish(makeEvents(1)[0])
}

func TestOffer_PongFrame(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	<-sub.Frames() // initial

	require.True(t, sub.Offer(hub.Frame{Type: hub.FramePong}))
	frame := <-sub.Frames()
	assert.Equal(t, hub.FramePong, frame.Type)
}

func TestOffer_AfterDropReturnsFalse(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	h.Unsubscribe(sub)

	assert.False(t, sub.Offer(hub.Frame{Type: hub.FramePong}))
}

func TestClose_DropsEverySubscriber(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)

	a, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	b, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	h.Close()
	assert.Zero(t, h.SubscriberCount())

	<-a.Frames() // initial
	_, ok := <-a.Frames()
	assert.False(t, ok)
	<-b.Frames()
	_, ok = <-b.Frames()
	assert.False(t, ok)
}

func TestSubscriberCount(t *testing.T) {
	h := hub.New(&fakeBacklog{}, 50, 64)
	assert.Zero(t, h.SubscriberCount())

	sub, err := h.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(sub)
	assert.Zero(t, h.SubscriberCount())
}
