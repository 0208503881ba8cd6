package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ascensum/genimagefactory/internal/logging"
)

// maxConsecutiveDrops is K from §4.3: a subscriber that misses this many
// consecutive events on a non-log/progress topic is detached.
const maxConsecutiveDrops = 20

// dropOldestTopics get "drop oldest" backpressure: a buffer-full subscriber
// has its oldest queued event evicted to make room for the new one, so a
// slow dashboard never stalls a running job. Every other topic instead
// detaches the subscriber after maxConsecutiveDrops misses.
var dropOldestTopics = map[Topic]bool{
	TopicJobLog:      true,
	TopicJobProgress: true,
}

// Bus is the process-wide EventBus: single-producer-per-topic, many
// subscribers, never blocking on a slow subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	sequence int64

	logger  *slog.Logger
	metrics *Metrics

	publishCh chan Event
	stopCh    chan struct{}
	wg        sync.WaitGroup
	stopped   int32
}

// New constructs a Bus. Call Start before Publish has any effect.
func New(logger *slog.Logger, metrics *Metrics) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      logging.ForComponent(logger, "eventbus"),
		metrics:     metrics,
		publishCh:   make(chan Event, 1000),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the broadcast worker.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.broadcastLoop(ctx)
}

// Stop drains the broadcast worker, waiting up to the context deadline.
func (b *Bus) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.stopped, 0, 1) {
		return nil
	}
	close(b.stopCh)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber and returns it for the caller to drain.
func (b *Bus) Subscribe(sub *Subscriber) {
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SubscribersActive.Set(float64(count))
	}
	b.logger.Info("subscriber added", "subscriber_id", sub.id, "total", count)

	go func() {
		<-sub.Context().Done()
		b.unsubscribe(sub.id)
	}()
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()
	if !ok {
		return
	}
	close(sub.ch)
	if b.metrics != nil {
		b.metrics.SubscribersActive.Set(float64(count))
	}
	b.logger.Info("subscriber removed", "subscriber_id", id, "total", count)
}

// Publish enqueues an event for broadcast. It never blocks the caller: the
// internal queue is generously buffered, and per-subscriber backpressure is
// handled entirely by the broadcast worker.
func (b *Bus) Publish(evt Event) error {
	if atomic.LoadInt32(&b.stopped) == 1 {
		return ErrBusStopped
	}
	evt.Sequence = atomic.AddInt64(&b.sequence, 1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.publishCh <- evt:
		return nil
	default:
		// Internal queue saturated: apply the same drop-oldest policy the
		// per-subscriber queues use, rather than blocking the producer.
		select {
		case <-b.publishCh:
		default:
		}
		b.publishCh <- evt
		return nil
	}
}

func (b *Bus) broadcastLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case evt := <-b.publishCh:
			b.deliver(evt)
		}
	}
}

func (b *Bus) deliver(evt Event) {
	start := time.Now()

	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.wants(evt.Topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(string(evt.Topic)).Inc()
	}

	for _, sub := range targets {
		b.deliverOne(sub, evt)
	}

	if b.metrics != nil {
		b.metrics.BroadcastSeconds.Observe(time.Since(start).Seconds())
	}
}

func (b *Bus) deliverOne(sub *Subscriber, evt Event) {
	select {
	case <-sub.Context().Done():
		return
	default:
	}

	select {
	case sub.ch <- evt:
		sub.resetDrops()
		return
	default:
	}

	if dropOldestTopics[evt.Topic] {
		select {
		case <-sub.ch:
			if b.metrics != nil {
				b.metrics.EventsDroppedOldest.WithLabelValues(string(evt.Topic)).Inc()
			}
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}
		return
	}

	if n := sub.recordDrop(); n >= maxConsecutiveDrops {
		b.logger.Warn("detaching slow subscriber",
			"subscriber_id", sub.id, "topic", evt.Topic, "consecutive_drops", n)
		if b.metrics != nil {
			b.metrics.SubscribersDetached.WithLabelValues(string(evt.Topic)).Inc()
		}
		sub.Close()
	}
}
