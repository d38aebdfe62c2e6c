package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/sentryd/pkg/eventlog"
)

func TestSubscribe_PublishDeliversToMatchingStream(t *testing.T) {
	b := New()
	sub := b.Subscribe("room", "rm_1")
	defer b.Unsubscribe(sub)

	b.Publish(eventlog.Event{StreamType: "room", StreamID: "rm_1", EventType: "message.created"})

	select {
	case evt := <-sub.C:
		assert.Equal(t, "message.created", evt.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestPublish_OtherStreamsNotDelivered(t *testing.T) {
	b := New()
	sub := b.Subscribe("room", "rm_1")
	defer b.Unsubscribe(sub)

	b.Publish(eventlog.Event{StreamType: "room", StreamID: "rm_2", EventType: "message.created"})

	select {
	case <-sub.C:
		t.Fatal("should not have received event for a different stream")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_RemovesSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe("room", "rm_1")
	require.Equal(t, 1, b.SubscriberCount("room", "rm_1"))

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount("room", "rm_1"))

	// Unsubscribing twice must not panic.
	b.Unsubscribe(sub)
}

func TestPublish_OverflowDisconnectsSlowSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe("room", "rm_overflow")
	defer b.Unsubscribe(sub)

	for i := 0; i < queueDepth+10; i++ {
		b.Publish(eventlog.Event{StreamType: "room", StreamID: "rm_overflow", EventType: "x"})
	}

	select {
	case <-sub.Overflowed:
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to be marked overflowed")
	}
	assert.Equal(t, 0, b.SubscriberCount("room", "rm_overflow"))
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "room:rm_1", StreamKey("room", "rm_1"))
}
