package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/smb-connect/connect-api/internal/dto"
)

func newLocalStream() StreamService {
	return NewStreamService(nil, "", nil, zerolog.Nop())
}

func receiveEvent(t *testing.T, ch <-chan dto.StreamEvent) dto.StreamEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed before an event arrived")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream event")
		return dto.StreamEvent{}
	}
}

func TestStreamServiceDeliversToMatchingSubscriber(t *testing.T) {
	streams := newLocalStream()

	events, cleanup := streams.Subscribe(dto.StreamTopicMessages, "42")
	defer cleanup()

	streams.Publish(context.Background(), dto.StreamEvent{
		Topic:  dto.StreamTopicMessages,
		Filter: "42",
		Action: dto.StreamActionInsert,
	})

	event := receiveEvent(t, events)
	require.Equal(t, dto.StreamActionInsert, event.Action)
	require.False(t, event.SentAt.IsZero(), "publish must stamp the send time")
}

func TestStreamServiceIsolatesFilters(t *testing.T) {
	streams := newLocalStream()

	mine, cleanupMine := streams.Subscribe(dto.StreamTopicMessages, "42")
	defer cleanupMine()
	other, cleanupOther := streams.Subscribe(dto.StreamTopicMessages, "43")
	defer cleanupOther()

	streams.Publish(context.Background(), dto.StreamEvent{
		Topic:  dto.StreamTopicMessages,
		Filter: "43",
		Action: dto.StreamActionInsert,
	})

	receiveEvent(t, other)
	select {
	case event := <-mine:
		t.Fatalf("subscriber for another conversation received %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamServiceCleanupClosesChannelOnce(t *testing.T) {
	streams := newLocalStream()

	events, cleanup := streams.Subscribe(dto.StreamTopicPosts, "")
	cleanup()
	// Releasing twice must not panic on a double close.
	cleanup()

	_, open := <-events
	require.False(t, open)

	// Publishing after cleanup must not deliver anywhere.
	streams.Publish(context.Background(), dto.StreamEvent{
		Topic:  dto.StreamTopicPosts,
		Action: dto.StreamActionUpdate,
	})
}

func TestStreamServiceSuppressesDuplicateEnvelopes(t *testing.T) {
	streams := newLocalStream().(*streamService)

	events, cleanup := streams.Subscribe(dto.StreamTopicPosts, "")
	defer cleanup()

	payload, err := json.Marshal(streamEnvelope{
		ID:     "envelope-1",
		Source: "other-node",
		Event: dto.StreamEvent{
			Topic:  dto.StreamTopicPosts,
			Action: dto.StreamActionInsert,
		},
		SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// Redis and NATS can both hand the same envelope to one node; only the
	// first copy may reach subscribers.
	streams.handleEvent(payload)
	streams.handleEvent(payload)

	receiveEvent(t, events)
	select {
	case event := <-events:
		t.Fatalf("duplicate envelope broadcast %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamServiceDropsWhenSubscriberLags(t *testing.T) {
	streams := newLocalStream()

	events, cleanup := streams.Subscribe(dto.StreamTopicPosts, "")
	defer cleanup()

	for i := 0; i < streamBufferSize+10; i++ {
		streams.Publish(context.Background(), dto.StreamEvent{
			Topic:  dto.StreamTopicPosts,
			Action: dto.StreamActionInsert,
		})
	}

	// A slow consumer loses events instead of blocking the publisher.
	delivered := 0
	for {
		select {
		case <-events:
			delivered++
		default:
			require.Equal(t, streamBufferSize, delivered)
			return
		}
	}
}
