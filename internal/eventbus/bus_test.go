package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	sub := NewSubscriber(ctx, "s1", TopicJobProgress)
	bus.Subscribe(sub)

	require.NoError(t, bus.Publish(New(TopicJobProgress, ContextRun, map[string]any{"done": 1})))

	select {
	case evt := <-sub.Events():
		require.Equal(t, TopicJobProgress, evt.Topic)
		require.EqualValues(t, 1, evt.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriberIgnoresOtherTopics(t *testing.T) {
	bus := New(testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	sub := NewSubscriber(ctx, "s1", TopicJobProgress)
	bus.Subscribe(sub)

	require.NoError(t, bus.Publish(New(TopicJobLog, ContextRun, nil)))

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event delivered: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDropOldestTopicEvictsInsteadOfBlocking(t *testing.T) {
	bus := New(testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	sub := NewSubscriber(ctx, "s1", TopicJobProgress)
	bus.Subscribe(sub)

	// Fill past the subscriber's buffer without draining it; none of this
	// may block the publisher.
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, bus.Publish(New(TopicJobProgress, ContextRun, map[string]any{"i": i})))
	}

	require.Eventually(t, func() bool {
		return len(sub.ch) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestDetachAfterConsecutiveDrops(t *testing.T) {
	bus := New(testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	sub := NewSubscriber(ctx, "s1", TopicRetryQueueUpdated)
	bus.Subscribe(sub)

	// Saturate the subscriber's buffer once, then keep publishing without
	// draining: a non-drop-oldest topic must eventually detach it.
	for i := 0; i < subscriberBuffer+maxConsecutiveDrops+5; i++ {
		require.NoError(t, bus.Publish(New(TopicRetryQueueUpdated, ContextRetry, nil)))
	}

	require.Eventually(t, func() bool {
		select {
		case <-sub.Context().Done():
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
