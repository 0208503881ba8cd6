package adapter

import (
	"context"
	"time"

	"github.com/ascensum/genimagefactory/internal/eventbus"
)

// ForwardedEvent is the payload shape handed to the transport's push
// channel (the `log`/`progress`/`retry-*` streams of §6). It is a plain
// struct rather than eventbus.Event itself so transports never see
// EventBus's internal sequence/subscriber bookkeeping.
type ForwardedEvent struct {
	Topic     string
	Context   string
	Timestamp time.Time
	Data      map[string]any
}

// Subscribe registers a forwarding subscriber on bus and returns a
// channel of redacted events for the caller's transport loop to drain.
// The subscriber inherits ctx's lifetime; cancel ctx to unsubscribe. When
// the 256-event buffer is full, the oldest queued event is dropped to make
// room for the newest.
func (a *Adapter) Subscribe(ctx context.Context, bus EventBus, id string, topics ...eventbus.Topic) <-chan ForwardedEvent {
	sub := eventbus.NewSubscriber(ctx, id, topics...)
	bus.Subscribe(sub)

	out := make(chan ForwardedEvent, 256)
	go func() {
		defer close(out)
		for evt := range sub.Events() {
			fwd := ForwardedEvent{
				Topic:     string(evt.Topic),
				Context:   string(evt.Context),
				Timestamp: evt.Timestamp,
				Data:      redactPayload(evt.Data),
			}
			select {
			case out <- fwd:
				continue
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-out:
			default:
			}
			select {
			case out <- fwd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// redactPayload strips anything that looks like a credential before an
// event reaches the transport or a log line (§4.8 "must redact secret
// fields from any payload it forwards or logs").
func redactPayload(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSecretField(k) {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretField(key string) bool {
	switch key {
	case "apiKey", "apiKeys", "openai", "piapi", "runware", "removeBg", "value", "secret":
		return true
	default:
		return false
	}
}
