package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversToSubscribersOfType(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var got []string

	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.TicketID)
		return errors.New("ignored")
	})
	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketConflict, func(_ context.Context, e Event) error {
		got = append(got, "conflict:"+e.TicketID)
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "1"}))
	assert.Equal(t, []string{"first:1", "second:1"}, got)
}

func TestDispatcherStampsEventsAndSurvivesPanics(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var got []Event

	d.Subscribe(EventTicketStatusChanged, func(context.Context, Event) error {
		panic("boom")
	})
	d.Subscribe(EventTicketStatusChanged, func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketStatusChanged, TicketID: "7"}))
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	require.NoError(t, d.Publish(context.Background(), Event{ID: "fixed", Type: EventTicketStatusChanged}))
	assert.Equal(t, "fixed", got[1].ID)
}
