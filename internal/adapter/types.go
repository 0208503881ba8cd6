// Package adapter implements Adapter (C8, spec §4.8): the single entry
// point the UI transport calls through. It serializes execution updates
// and deletes per execution id (other mutating operations take no Adapter
// lock), subscribes to EventBus and forwards events with a drop-oldest
// buffer, and redacts secret fields from anything it forwards or logs. It never touches providers directly — only C1/C2/C3/C6/C7.
package adapter

import (
	"context"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/jobrunner"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/retry"
	"github.com/ascensum/genimagefactory/internal/secrets"
)

// Catalog is the slice of internal/catalog.Catalog the Adapter reads and
// writes on the UI's behalf.
type Catalog interface {
	SaveConfiguration(ctx context.Context, name string, settings config.Settings) (int64, error)
	GetConfigurationByID(ctx context.Context, id int64) (model.Configuration, error)
	GetConfigurationByName(ctx context.Context, name string) (model.Configuration, error)
	ListConfigurations(ctx context.Context) ([]model.Configuration, error)
	DeleteConfiguration(ctx context.Context, id int64) error

	SaveExecution(ctx context.Context, e model.Execution) (int64, error)
	UpdateExecution(ctx context.Context, id int64, fields catalog.ExecutionFields) error
	DeleteExecution(ctx context.Context, id int64) error
	GetExecution(ctx context.Context, id int64) (model.Execution, error)
	ListExecutions(ctx context.Context, filter catalog.ExecutionFilter, page, pageSize int) ([]model.Execution, error)
	CountExecutions(ctx context.Context, filter catalog.ExecutionFilter) (int, error)

	SaveImage(ctx context.Context, img model.GeneratedImage) (int64, error)
	UpdateImage(ctx context.Context, id int64, fields catalog.ImageFields) error
	GetImage(ctx context.Context, id int64) (model.GeneratedImage, error)
	ListImages(ctx context.Context, filter catalog.ImageFilter) ([]model.GeneratedImage, error)
	BulkDeleteImages(ctx context.Context, ids []int64) (int, error)
}

// Secrets is the narrow SecretsVault surface the Adapter exposes as
// get-api-key/set-api-key/get-security-status.
type Secrets interface {
	Get(ctx context.Context, service, account string) (value string, level secrets.SecurityLevel, found bool, err error)
	Set(ctx context.Context, service, account, value string) error
}

// JobRunner is the narrow C6 surface job:* operations need.
type JobRunner interface {
	StartJob(ctx context.Context, settings config.Settings, configurationID *int64, label *string) (int64, error)
	StopJob(force bool) error
	State() jobrunner.State
	CurrentExecution() int64
	RerunExecution(ctx context.Context, executionID int64) (config.Settings, error)
	BulkRerun(ids []int64)
	QueueLength() int
}

// RetryExecutor is the narrow C7 surface failed-image:retry-* needs.
type RetryExecutor interface {
	Enqueue(job retry.Job)
	QueueLength() int
	Stop()
}

// EventBus is the narrow publish/subscribe surface Adapter needs to
// rebroadcast job/retry events to the transport.
type EventBus interface {
	Subscribe(sub *eventbus.Subscriber)
}
