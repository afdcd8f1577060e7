package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-desk/internal/domain"
)

func subscribe(t *testing.T, client *redis.Client, channel string) *redis.PubSub {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub := client.Subscribe(ctx, channel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	return sub
}

func receive(t *testing.T, sub *redis.PubSub) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	return decoded
}

func TestRedisPublisherHandlePublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sub := subscribe(t, client, "ticket-events")

	publisher := NewRedisPublisher(client, "ticket-events")
	err := publisher.Handle(context.Background(), Event{
		ID:        "evt-1",
		Type:      EventTicketStatusChanged,
		TicketID:  "t-1",
		Actor:     Actor{UserID: "agent-7"},
		Timestamp: time.Date(2026, 2, 12, 8, 0, 0, 0, time.UTC),
		Payload: TicketStatusChangedPayload{
			Code:      "TCK-000001",
			OldStatus: domain.TicketStatusOpen,
			NewStatus: domain.TicketStatusResolved,
		},
	})
	require.NoError(t, err)

	got := receive(t, sub)
	assert.Equal(t, "evt-1", got["id"])
	assert.Equal(t, "ticket_status_changed", got["type"])
	assert.Equal(t, "t-1", got["ticket_id"])
	assert.Equal(t, map[string]interface{}{"user_id": "agent-7"}, got["actor"])
	assert.Equal(t, "2026-02-12T08:00:00Z", got["timestamp"])
	payload, ok := got["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "TCK-000001", payload["code"])
	assert.Equal(t, "OPEN", payload["old_status"])
	assert.Equal(t, "RESOLVED", payload["new_status"])
}

func TestRedisPublisherAttachForwardsDispatchedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sub := subscribe(t, client, "ticket-events")

	dispatcher := NewInMemoryDispatcher(nil)
	NewRedisPublisher(client, "ticket-events").Attach(dispatcher)

	require.NoError(t, dispatcher.Publish(context.Background(), Event{
		Type:     EventTicketCreated,
		TicketID: "t-2",
		Payload:  TicketCreatedPayload{Code: "TCK-000002", Priority: domain.TicketPriorityLow, Title: "Mouse"},
	}))

	got := receive(t, sub)
	assert.Equal(t, "ticket_created", got["type"])
	assert.Equal(t, "t-2", got["ticket_id"])
	assert.NotEmpty(t, got["id"])
}

func TestRedisPublisherReportsUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := NewRedisPublisher(client, "ticket-events").Handle(ctx, Event{Type: EventTicketConflict})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event")
}
