// Package retry implements RetryExecutor (C7): a FIFO queue of previously
// failed images, drained by one serial worker, each driven back through
// ImageProcessor independently of JobRunner.
package retry

import (
	"context"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/processor"
)

// FailOptions reserves room for future per-job failure-handling tuning.
// The spec names the field but does not define it further; the executor's
// unconditional failure handling (qc_status=retry_failed, prior final_path
// left untouched) applies regardless of its contents.
type FailOptions struct{}

// Job is one request enqueued on the retry queue (§4.7).
type Job struct {
	ImageID             int64
	UseOriginalSettings bool
	OverrideSettings    *config.Settings
	IncludeMetadata     bool
	FailOptions         FailOptions
}

// Catalog is the narrow slice of internal/catalog.Catalog the executor
// needs to resolve an image's original settings and persist its retry
// outcome.
type Catalog interface {
	GetImage(ctx context.Context, id int64) (model.GeneratedImage, error)
	GetExecution(ctx context.Context, id int64) (model.Execution, error)
	UpdateImage(ctx context.Context, id int64, fields catalog.ImageFields) error
	UpdateImageByMapping(ctx context.Context, executionID int64, mappingID string, fields catalog.ImageFields) error
}

// ImageProcessor is the narrow processor.Processor slice the executor
// drives per retry.
type ImageProcessor interface {
	Process(ctx context.Context, in processor.Input) (processor.Outcome, error)
}

// EventBus is the narrow publish surface the executor needs.
type EventBus interface {
	Publish(evt eventbus.Event) error
}
