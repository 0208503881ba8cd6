package eventbus

import (
	"context"
	"sync/atomic"
)

const subscriberBuffer = 256

// Subscriber is a bounded per-client queue fed by the bus's broadcast
// worker and drained by whatever transport owns it (the admin SSE handler,
// the Adapter's forwarder, or a test harness).
type Subscriber struct {
	id     string
	ch     chan Event
	topics map[Topic]bool // nil means "all topics"
	ctx    context.Context
	cancel context.CancelFunc
	drops  int32
}

// NewSubscriber creates a subscriber bound to ctx; it is automatically
// detached by the bus once ctx is done. A nil/empty topics set subscribes
// to every topic.
func NewSubscriber(ctx context.Context, id string, topics ...Topic) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)
	var want map[Topic]bool
	if len(topics) > 0 {
		want = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			want[t] = true
		}
	}
	return &Subscriber{
		id:     id,
		ch:     make(chan Event, subscriberBuffer),
		topics: want,
		ctx:    subCtx,
		cancel: cancel,
	}
}

// ID returns the subscriber's identity.
func (s *Subscriber) ID() string { return s.id }

// Events returns the channel of delivered events.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Context returns the subscriber's cancellation context.
func (s *Subscriber) Context() context.Context { return s.ctx }

// Close detaches the subscriber and closes its channel.
func (s *Subscriber) Close() error {
	s.cancel()
	return nil
}

func (s *Subscriber) wants(topic Topic) bool {
	if s.topics == nil {
		return true
	}
	return s.topics[topic]
}

func (s *Subscriber) dropCount() int32 {
	return atomic.LoadInt32(&s.drops)
}

func (s *Subscriber) recordDrop() int32 {
	return atomic.AddInt32(&s.drops, 1)
}

func (s *Subscriber) resetDrops() {
	atomic.StoreInt32(&s.drops, 0)
}
