package jobrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/processor"
)

// maxWorkers bounds the per-run pool (§4.6: W = min(4, count)).
const maxWorkers = 4

// rerunRequest is one entry in the bulk-rerun FIFO queue.
type rerunRequest struct {
	executionID int64
}

// Runner drives at most one non-terminal execution per process (§4.6).
// Bulk rerun is a separate, always-serial FIFO queue layered on top of the
// same single-run constraint.
type Runner struct {
	catalog   Catalog
	processor ImageProcessor
	planner   Planner
	bus       EventBus
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	currentExec int64

	rerunQueue chan rerunRequest
}

// New builds a Runner and starts its bulk-rerun drain goroutine.
func New(cat Catalog, proc ImageProcessor, planner Planner, bus EventBus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		catalog:    cat,
		processor:  proc,
		planner:    planner,
		bus:        bus,
		logger:     logger.With("component", "jobrunner"),
		state:      StateIdle,
		rerunQueue: make(chan rerunRequest, 256),
	}
	go r.drainRerunQueue()
	return r
}

// State returns the runner's current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentExecution returns the execution id of the non-terminal run, or 0
// if the runner is idle or between runs.
func (r *Runner) CurrentExecution() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() || r.state == StateIdle {
		return 0
	}
	return r.currentExec
}

// StartJob validates cfg, inserts a running Execution row, and drives it to
// a terminal state in the background. It returns the new execution id
// immediately; callers observe progress via job.progress/job.status events.
func (r *Runner) StartJob(ctx context.Context, settings config.Settings, configurationID *int64, label *string) (int64, error) {
	r.mu.Lock()
	if !r.state.terminal() && r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return 0, &AlreadyRunningError{State: state}
	}
	r.state = StateStarting
	r.mu.Unlock()

	if err := settings.Validate(); err != nil {
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		return 0, err
	}

	snapshot, err := settings.Redacted()
	if err != nil {
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		return 0, fmt.Errorf("snapshot settings: %w", err)
	}

	total := settings.Parameters.Count * settings.Parameters.Variations
	execID, err := r.catalog.SaveExecution(ctx, model.Execution{
		ConfigurationID:  configurationID,
		Label:            label,
		Status:           model.ExecutionRunning,
		Totals:           model.ExecutionTotals{Total: total},
		StartedAt:        time.Now().UTC(),
		SettingsSnapshot: snapshot,
	})
	if err != nil {
		r.mu.Lock()
		r.state = StateFailed
		r.mu.Unlock()
		return 0, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.state = StateRunning
	r.cancel = cancel
	r.done = done
	r.currentExec = execID
	r.mu.Unlock()

	r.publish(eventbus.TopicJobStatus, eventbus.ContextRun, map[string]any{
		"executionId": execID, "status": string(model.ExecutionRunning),
	})

	go r.run(runCtx, done, execID, settings)

	return execID, nil
}

// StopJob cancels the current run. With force=false it blocks until the
// pool has drained (graceful); with force=true it returns as soon as
// cancellation is signaled, per the forceStopAll contract (§4.6).
func (r *Runner) StopJob(force bool) error {
	r.mu.Lock()
	if r.state != StateRunning {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("no running job to stop (state=%s)", state)
	}
	r.state = StateStopping
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	if force {
		return nil
	}
	<-done
	return nil
}

// RerunExecution resets id to pending with zeroed totals and returns its
// settings_snapshot for the caller to pass to a fresh StartJob (§4.6).
func (r *Runner) RerunExecution(ctx context.Context, id int64) (config.Settings, error) {
	exec, err := r.catalog.GetExecution(ctx, id)
	if err != nil {
		return config.Settings{}, err
	}
	pending := model.ExecutionPending
	zero := model.ExecutionTotals{}
	now := time.Now().UTC()
	if err := r.catalog.UpdateExecution(ctx, id, catalog.ExecutionFields{
		Status:           &pending,
		Totals:           &zero,
		StartedAt:        &now,
		ClearCompletedAt: true,
	}); err != nil {
		return config.Settings{}, err
	}
	return exec.SettingsSnapshot, nil
}

// BulkRerun enqueues ids onto the FIFO rerun queue; at most one rerun job
// runs at a time (§4.6). QueueLength reports the number still waiting.
func (r *Runner) BulkRerun(ids []int64) {
	for _, id := range ids {
		r.rerunQueue <- rerunRequest{executionID: id}
	}
}

// QueueLength reports how many bulk-rerun requests are still waiting.
func (r *Runner) QueueLength() int {
	return len(r.rerunQueue)
}

func (r *Runner) drainRerunQueue() {
	for req := range r.rerunQueue {
		ctx := context.Background()
		snapshot, err := r.RerunExecution(ctx, req.executionID)
		if err != nil {
			r.logger.Error("bulk rerun: reset failed", "execution_id", req.executionID, "error", err)
			continue
		}
		newID, err := r.StartJob(ctx, snapshot, nil, nil)
		if err != nil {
			r.logger.Error("bulk rerun: start failed", "execution_id", req.executionID, "error", err)
			continue
		}
		r.mu.Lock()
		done := r.done
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		r.logger.Info("bulk rerun settled", "source_execution_id", req.executionID, "new_execution_id", newID)
	}
}

type imageTask struct {
	mappingID string
	prompt    string
	seed      *int64
}

func (r *Runner) run(ctx context.Context, done chan struct{}, execID int64, settings config.Settings) {
	defer close(done)

	paramSets, err := r.planner.Plan(settings)
	if err != nil {
		r.finish(execID, model.ExecutionFailed, err.Error())
		return
	}

	var tasks []imageTask
	for _, set := range paramSets {
		for v := 0; v < set.Variations; v++ {
			tasks = append(tasks, imageTask{
				mappingID: fmt.Sprintf("%s-v%d", set.MappingBase, v),
				prompt:    set.Prompt,
				seed:      set.Seed,
			})
		}
	}
	total := len(tasks)

	workers := len(paramSets)
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers < 1 {
		workers = 1
	}

	taskCh := make(chan imageTask)
	var wg sync.WaitGroup
	var doneCount, successful, failed int
	var countMu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				if ctx.Err() != nil {
					continue
				}
				out, procErr := r.processor.Process(ctx, processor.Input{
					ExecutionID: execID,
					MappingID:   t.mappingID,
					Prompt:      t.prompt,
					Seed:        t.seed,
					Settings:    settings,
				})
				if procErr != nil {
					r.logger.Error("image processing failed to persist", "execution_id", execID, "mapping_id", t.mappingID, "error", procErr)
				}

				// The row's totals only grow during the run: each settled
				// image adds one to successful or failed under countMu, and
				// the images table is reconciled in finish.
				countMu.Lock()
				doneCount++
				if out.Success {
					successful++
				} else {
					failed++
				}
				current := doneCount
				totals := model.ExecutionTotals{Total: total, Successful: successful, Failed: failed}
				if err := r.catalog.UpdateExecution(context.Background(), execID, catalog.ExecutionFields{Totals: &totals}); err != nil {
					r.logger.Error("update totals failed", "execution_id", execID, "error", err)
				}
				countMu.Unlock()
				r.publish(eventbus.TopicJobProgress, eventbus.ContextRun, map[string]any{
					"executionId":  execID,
					"done":         current,
					"total":        total,
					"currentStage": "settled",
					"success":      out.Success,
				})
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for _, t := range tasks {
			select {
			case taskCh <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if ctx.Err() != nil {
		r.finish(execID, model.ExecutionStopped, "")
		return
	}
	r.finish(execID, model.ExecutionCompleted, "")
}

func (r *Runner) finish(execID int64, status model.ExecutionStatus, errMsg string) {
	now := time.Now().UTC()
	fields := catalog.ExecutionFields{Status: &status, CompletedAt: &now}
	if errMsg != "" {
		fields.ErrorMessage = &errMsg
	}
	if err := r.catalog.UpdateExecution(context.Background(), execID, fields); err != nil {
		r.logger.Error("finalize execution failed", "execution_id", execID, "error", err)
	}
	if err := r.catalog.RecomputeExecutionTotals(context.Background(), execID); err != nil {
		r.logger.Error("final recompute totals failed", "execution_id", execID, "error", err)
	}

	r.mu.Lock()
	switch status {
	case model.ExecutionCompleted:
		r.state = StateCompleted
	case model.ExecutionStopped:
		r.state = StateStopped
	default:
		r.state = StateFailed
	}
	r.mu.Unlock()

	r.publish(eventbus.TopicJobStatus, eventbus.ContextRun, map[string]any{
		"executionId": execID, "status": string(status),
	})
}

func (r *Runner) publish(topic eventbus.Topic, c eventbus.Context, data map[string]any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(eventbus.New(topic, c, data)); err != nil {
		r.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
