package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/processor"
)

// Executor drains a FIFO queue of retry Jobs with one serial worker,
// independent of JobRunner's lifecycle (§4.7).
type Executor struct {
	catalog   Catalog
	processor ImageProcessor
	bus       EventBus
	logger    *slog.Logger

	queue  chan Job
	cancel context.CancelFunc

	mu        sync.Mutex
	inflight  context.CancelFunc
	stopped   bool
}

// New builds an Executor and starts its drain goroutine.
func New(cat Catalog, proc ImageProcessor, bus EventBus, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		catalog:   cat,
		processor: proc,
		bus:       bus,
		logger:    logger.With("component", "retry"),
		queue:     make(chan Job, 256),
		cancel:    cancel,
	}
	go e.drain(ctx)
	return e
}

// Enqueue adds a job to the tail of the retry queue and marks the image
// qc_status=retry_pending (§3/glossary "interim qc_status while a retry is
// queued") so list views reflect the pending retry before the worker
// actually picks it up.
func (e *Executor) Enqueue(job Job) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	pending := model.QCRetryPending
	if err := e.catalog.UpdateImage(context.Background(), job.ImageID, catalog.ImageFields{QCStatus: &pending}); err != nil {
		e.logger.Warn("failed to mark image retry_pending", "image_id", job.ImageID, "error", err)
	}

	e.queue <- job
	e.publish(eventbus.TopicRetryQueueUpdated, map[string]any{"event": "enqueued", "imageId": job.ImageID, "queueLength": len(e.queue)})
}

// QueueLength reports how many jobs are waiting.
func (e *Executor) QueueLength() int {
	return len(e.queue)
}

// Stop clears the queue, cancels the in-flight pipeline, and emits
// retry.stopped (§4.7). The executor cannot be restarted; callers needing
// a fresh executor should construct a new one.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	inflight := e.inflight
	e.mu.Unlock()

	if inflight != nil {
		inflight()
	}
	e.cancel()

drain:
	for {
		select {
		case <-e.queue:
		default:
			break drain
		}
	}

	e.publish(eventbus.TopicRetryStopped, map[string]any{})
}

func (e *Executor) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.queue:
			e.publish(eventbus.TopicRetryQueueUpdated, map[string]any{"event": "dequeued", "imageId": job.ImageID, "queueLength": len(e.queue)})
			e.processOne(ctx, job)
		}
	}
}

func (e *Executor) processOne(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.inflight = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		e.inflight = nil
		e.mu.Unlock()
	}()

	img, err := e.catalog.GetImage(jobCtx, job.ImageID)
	if err != nil {
		e.fail(jobCtx, 0, "", job.ImageID, fmt.Sprintf("load image: %v", err))
		return
	}
	if img.ExecutionID == nil {
		e.fail(jobCtx, 0, img.MappingID, job.ImageID, "image has no originating execution; cannot resolve settings")
		return
	}

	exec, err := e.catalog.GetExecution(jobCtx, *img.ExecutionID)
	if err != nil {
		e.fail(jobCtx, *img.ExecutionID, img.MappingID, job.ImageID, fmt.Sprintf("load originating execution: %v", err))
		return
	}

	effective := resolveEffectiveSettings(exec.SettingsSnapshot, job.UseOriginalSettings, job.OverrideSettings)

	e.publish(eventbus.TopicRetryJobStatus, map[string]any{"imageId": job.ImageID, "status": "processing"})

	out, err := e.processor.Process(jobCtx, processor.Input{
		ExecutionID:     *img.ExecutionID,
		MappingID:       img.MappingID,
		Prompt:          img.Prompt,
		Seed:            img.Seed,
		Settings:        effective,
		IsRetry:         true,
		IncludeMetadata: job.IncludeMetadata,
	})
	if err != nil {
		e.fail(jobCtx, *img.ExecutionID, img.MappingID, job.ImageID, err.Error())
		return
	}
	if !out.Success {
		e.fail(jobCtx, *img.ExecutionID, img.MappingID, job.ImageID, fmt.Sprintf("%s: %s", out.FailedStage, out.Reason))
		return
	}

	e.publish(eventbus.TopicRetryJobStatus, map[string]any{"imageId": job.ImageID, "status": "complete"})
}

// resolveEffectiveSettings picks the settings a retry runs with:
// useOriginalSettings picks the execution's settings_snapshot frozen at
// the original run; otherwise overrideSettings is used as a whole in place
// of the snapshot. Fields are not merged: a field left at its zero value
// in the override stays zero rather than falling back to the snapshot. A caller that sets neither (useOriginalSettings=false with
// no override) gets the frozen snapshot back, the same as the original path.
func resolveEffectiveSettings(original config.Settings, useOriginal bool, override *config.Settings) config.Settings {
	if useOriginal || override == nil {
		return original
	}
	return *override
}

func (e *Executor) fail(ctx context.Context, executionID int64, mappingID string, imageID int64, reason string) {
	e.logger.Warn("retry failed", "image_id", imageID, "reason", reason)
	if executionID != 0 && mappingID != "" {
		qcFailed := model.QCRetryFailed
		r := reason
		if err := e.catalog.UpdateImageByMapping(ctx, executionID, mappingID, catalog.ImageFields{QCStatus: &qcFailed, QCReason: &r}); err != nil {
			e.logger.Error("failed to record retry failure", "image_id", imageID, "error", err)
		}
	}
	e.publish(eventbus.TopicRetryJobError, map[string]any{"imageId": imageID, "reason": reason})
}

func (e *Executor) publish(topic eventbus.Topic, data map[string]any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(eventbus.New(topic, eventbus.ContextRetry, data)); err != nil {
		e.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
