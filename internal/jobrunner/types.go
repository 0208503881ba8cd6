// Package jobrunner implements JobRunner (C6): it drives one execution
// end-to-end over a bounded worker pool, persists Execution totals as
// images settle, and reports progress over the event bus.
package jobrunner

import (
	"context"
	"fmt"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/pipeline"
	"github.com/ascensum/genimagefactory/internal/processor"
)

// State is one node of the JobRunner state machine (§4.6). A terminal
// state (completed/stopped/failed) ends the current run; a later StartJob
// leaves it to begin a new run.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

// AlreadyRunningError is returned by StartJob while a prior run is still
// non-terminal.
type AlreadyRunningError struct {
	State State
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("job runner already running (state=%s)", e.State)
}

// Catalog is the narrow Execution-row slice of internal/catalog.Catalog
// the runner needs.
type Catalog interface {
	SaveExecution(ctx context.Context, e model.Execution) (int64, error)
	UpdateExecution(ctx context.Context, id int64, fields catalog.ExecutionFields) error
	RecomputeExecutionTotals(ctx context.Context, id int64) error
	GetExecution(ctx context.Context, id int64) (model.Execution, error)
}

// ImageProcessor is the narrow processor.Processor slice the runner drives
// per image.
type ImageProcessor interface {
	Process(ctx context.Context, in processor.Input) (processor.Outcome, error)
}

// Planner is the narrow pipeline.Planner slice the runner needs to expand
// a settings snapshot into parameter sets.
type Planner interface {
	Plan(settings config.Settings) ([]pipeline.ParamSet, error)
}

// EventBus is the narrow publish surface the runner needs.
type EventBus interface {
	Publish(evt eventbus.Event) error
}
