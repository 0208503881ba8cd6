// Package eventbus is the in-process, single-process pub/sub the rest of
// the pipeline uses to report progress, logs, and retry-queue state. It
// generalizes a single-topic-shaped bus (one Event.Type, one drop policy)
// into nine named topics, each with its own backpressure policy, because a
// slow dashboard subscriber must never block a running job.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Topic names one of the nine event streams in spec §4.3.
type Topic string

const (
	TopicJobProgress        Topic = "job.progress"
	TopicJobLog             Topic = "job.log"
	TopicJobStatus          Topic = "job.status"
	TopicImageSettled       Topic = "image.settled"
	TopicRetryQueueUpdated  Topic = "retry.queueUpdated"
	TopicRetryProgress      Topic = "retry.progress"
	TopicRetryJobStatus     Topic = "retry.jobStatus"
	TopicRetryJobError      Topic = "retry.jobError"
	TopicRetryStopped       Topic = "retry.stopped"
)

// Context distinguishes events produced by a JobRunner run from events
// produced by the independent RetryExecutor lifecycle.
type Context string

const (
	ContextRun   Context = "run"
	ContextRetry Context = "retry"
)

// Event is one message on the bus. Payloads are owned by their producer and
// must be treated as immutable by subscribers.
type Event struct {
	Topic     Topic          `json:"topic"`
	ID        string         `json:"id"`
	Context   Context        `json:"context"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  int64          `json:"sequence"`
}

// New creates an Event ready to Publish; Sequence is assigned by the bus.
func New(topic Topic, ctx Context, data map[string]any) Event {
	return Event{
		Topic:     topic,
		ID:        uuid.New().String(),
		Context:   ctx,
		Data:      data,
		Timestamp: time.Now(),
	}
}
