package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-core/internal/events"
)

type stubStore struct {
	last events.Event
	err  error
}

func (s *stubStore) InsertEvent(_ context.Context, ev events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.last = ev
	return nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
	}

	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicOrderCreated, "order-1", map[string]any{"orderId": "123"})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderCreated, store.last.Topic)
	require.JSONEq(t, `{"orderId":"123"}`, string(store.last.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestEmitStoreFailureSkipsNotifiers(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     &stubStore{err: errors.New("db down")},
		Notifiers: []events.Notifier{notifier},
	}
	_, err := bus.Emit(context.Background(), events.TopicOrderPaid, "order-1", nil)
	require.Error(t, err)
	require.Empty(t, notifier.events)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	failing := &captureNotifier{err: errors.New("smtp down")}
	ok := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{failing, ok}}

	_, err := bus.Emit(context.Background(), events.TopicOrderPaid, "order-1", events.OrderPayload{OrderID: "order-1"})
	require.Error(t, err)
	require.Len(t, ok.events, 1)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{}
	_, err := bus.Emit(context.Background(), "", "order-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, "order-1", "not json")
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	bus := events.Bus{}
	ev, err := bus.Emit(context.Background(), events.TopicReviewCreated, "r1", events.ReviewPayload{ReviewID: "r1", Rating: 4})
	require.NoError(t, err)

	p, err := events.Decode[events.ReviewPayload](ev)
	require.NoError(t, err)
	require.Equal(t, 4, p.Rating)
}
