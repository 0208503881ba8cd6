package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/retry"
	"github.com/ascensum/genimagefactory/internal/secrets"
)

// Adapter is the sole entry point the UI transport calls through (C8).
// ExecutionUpdate and ExecutionDelete (and so ExecutionRename and
// ExecutionBulkDelete) serialize on a per-execution mutex. Configuration,
// image and job-control methods take no Adapter lock and pass straight
// through to their collaborator; Catalog serializes its own writer.
type Adapter struct {
	catalog Catalog
	secrets Secrets
	runner  JobRunner
	retry   RetryExecutor
	logger  *slog.Logger

	mu        sync.Mutex
	execLocks map[int64]*sync.Mutex
}

// New builds an Adapter over the already-constructed collaborators.
func New(cat Catalog, sec Secrets, runner JobRunner, retryExec RetryExecutor, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		catalog:   cat,
		secrets:   sec,
		runner:    runner,
		retry:     retryExec,
		logger:    logger.With("component", "adapter"),
		execLocks: make(map[int64]*sync.Mutex),
	}
}

// withExecutionLock serializes callers touching the same execution id
// (spec §4.8 "a per-execution mutex is sufficient").
func (a *Adapter) withExecutionLock(id int64, fn func() error) error {
	a.mu.Lock()
	lock, ok := a.execLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		a.execLocks[id] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ---- Settings & secrets ----

// GetSettings returns a Configuration's settings document with apiKeys
// never populated from the vault (§4.2 credentials stay out of the
// settings document; callers fetch them individually via GetAPIKey).
func (a *Adapter) GetSettings(ctx context.Context, configurationID int64) (config.Settings, error) {
	cfg, err := a.catalog.GetConfigurationByID(ctx, configurationID)
	if err != nil {
		return config.Settings{}, err
	}
	return cfg.Settings, nil
}

// SaveSettings upserts a named Configuration.
func (a *Adapter) SaveSettings(ctx context.Context, name string, settings config.Settings) (int64, error) {
	redacted, err := settings.Redacted()
	if err != nil {
		return 0, err
	}
	return a.catalog.SaveConfiguration(ctx, name, redacted)
}

// GetAPIKey resolves one provider credential through SecretsVault.
func (a *Adapter) GetAPIKey(ctx context.Context, service, account string) (value string, securityLevel secrets.SecurityLevel, found bool, err error) {
	return a.secrets.Get(ctx, service, account)
}

// SetAPIKey writes (or, for an empty value, deletes) one credential.
func (a *Adapter) SetAPIKey(ctx context.Context, service, account, value string) error {
	return a.secrets.Set(ctx, service, account, value)
}

// GetSecurityStatus reports which tier currently answers reads for a
// credential, without exposing the value itself.
func (a *Adapter) GetSecurityStatus(ctx context.Context, service, account string) (securityLevel secrets.SecurityLevel, found bool, err error) {
	_, level, found, err := a.secrets.Get(ctx, service, account)
	return level, found, err
}

// ValidatePath reports whether path exists and is accessible — the one
// filesystem check that is not itself GUI rendering, unlike the native
// file-picker surface (select-file), which this Adapter declines.
func (a *Adapter) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("validate-path: empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("validate-path: %w", err)
	}
	return nil
}

// errGUINotSupported is returned by operations whose original behavior
// was native OS chrome (a file-open dialog, an Electron custom-protocol
// root refresh) — GUI rendering is named out of scope in spec §1's
// Non-goals, so these decline rather than faking a result.
var errGUINotSupported = fmt.Errorf("adapter: GUI-only operation, not supported by this backend")

// SelectFile always declines; file selection is desktop-chrome, not a
// backend concern.
func (a *Adapter) SelectFile(context.Context) (string, error) { return "", errGUINotSupported }

// RefreshProtocolRoots always declines for the same reason.
func (a *Adapter) RefreshProtocolRoots(context.Context) error { return errGUINotSupported }

// ---- Configurations ----

func (a *Adapter) ConfigurationGet(ctx context.Context, name string) (model.Configuration, error) {
	return a.catalog.GetConfigurationByName(ctx, name)
}

func (a *Adapter) ConfigurationGetByID(ctx context.Context, id int64) (model.Configuration, error) {
	return a.catalog.GetConfigurationByID(ctx, id)
}

func (a *Adapter) ConfigurationUpdate(ctx context.Context, name string, settings config.Settings) (int64, error) {
	return a.SaveSettings(ctx, name, settings)
}

// ConfigurationUpdateName renames a Configuration by re-saving its
// settings under the new name and deleting the old row; Configuration has
// no separate rename primitive in Catalog (name is its natural key).
func (a *Adapter) ConfigurationUpdateName(ctx context.Context, oldName, newName string) (int64, error) {
	cfg, err := a.catalog.GetConfigurationByName(ctx, oldName)
	if err != nil {
		return 0, err
	}
	id, err := a.catalog.SaveConfiguration(ctx, newName, cfg.Settings)
	if err != nil {
		return 0, err
	}
	if newName != oldName {
		_ = a.catalog.DeleteConfiguration(ctx, cfg.ID)
	}
	return id, nil
}

func (a *Adapter) ConfigurationDelete(ctx context.Context, id int64) error {
	return a.catalog.DeleteConfiguration(ctx, id)
}

// ---- Job control ----

func (a *Adapter) JobStart(ctx context.Context, settings config.Settings, configurationID *int64, label *string) (int64, error) {
	return a.runner.StartJob(ctx, settings, configurationID, label)
}

func (a *Adapter) JobStop() error { return a.runner.StopJob(false) }

func (a *Adapter) JobForceStopAll() error { return a.runner.StopJob(true) }

// JobStatus is the job:get-status response shape (§6).
type JobStatus struct {
	State         string
	CurrentJobID  int64
	QueueLength   int
}

func (a *Adapter) JobGetStatus() JobStatus {
	return JobStatus{
		State:        string(a.runner.State()),
		CurrentJobID: a.runner.CurrentExecution(),
		QueueLength:  a.runner.QueueLength(),
	}
}

// JobGetProgress returns the current execution's stored totals, a
// fallback for pollers: progress and log lines are otherwise push-only
// (EventBus topics job.progress/job.log, per §6's event-stream list), and
// the Adapter has no log-query method.
func (a *Adapter) JobGetProgress(ctx context.Context) (model.ExecutionTotals, error) {
	id := a.runner.CurrentExecution()
	if id == 0 {
		return model.ExecutionTotals{}, nil
	}
	exec, err := a.catalog.GetExecution(ctx, id)
	if err != nil {
		return model.ExecutionTotals{}, err
	}
	return exec.Totals, nil
}

// ---- Executions ----

func (a *Adapter) ExecutionSave(ctx context.Context, e model.Execution) (int64, error) {
	return a.catalog.SaveExecution(ctx, e)
}

func (a *Adapter) ExecutionGet(ctx context.Context, id int64) (model.Execution, error) {
	return a.catalog.GetExecution(ctx, id)
}

func (a *Adapter) ExecutionGetAll(ctx context.Context, page, pageSize int) ([]model.Execution, error) {
	return a.catalog.ListExecutions(ctx, catalog.ExecutionFilter{}, page, pageSize)
}

func (a *Adapter) ExecutionHistory(ctx context.Context, filter catalog.ExecutionFilter, page, pageSize int) ([]model.Execution, error) {
	return a.catalog.ListExecutions(ctx, filter, page, pageSize)
}

func (a *Adapter) ExecutionUpdate(ctx context.Context, id int64, fields catalog.ExecutionFields) error {
	return a.withExecutionLock(id, func() error {
		return a.catalog.UpdateExecution(ctx, id, fields)
	})
}

func (a *Adapter) ExecutionDelete(ctx context.Context, id int64) error {
	return a.withExecutionLock(id, func() error {
		return a.catalog.DeleteExecution(ctx, id)
	})
}

func (a *Adapter) ExecutionBulkDelete(ctx context.Context, ids []int64) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := a.ExecutionDelete(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (a *Adapter) ExecutionRename(ctx context.Context, id int64, label string) error {
	return a.ExecutionUpdate(ctx, id, catalog.ExecutionFields{Label: &label})
}

// ExecutionRerun resets one execution to pending and restarts JobRunner
// against its settings_snapshot (§4.6's rerun path).
func (a *Adapter) ExecutionRerun(ctx context.Context, id int64) (int64, error) {
	settings, err := a.runner.RerunExecution(ctx, id)
	if err != nil {
		return 0, err
	}
	exec, err := a.catalog.GetExecution(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.runner.StartJob(ctx, settings, exec.ConfigurationID, exec.Label)
}

// ExecutionBulkRerun enqueues every id on JobRunner's serial rerun queue
// (§4.6 "at most one execution running at a time").
func (a *Adapter) ExecutionBulkRerun(ids []int64) {
	a.runner.BulkRerun(ids)
}

// ExecutionStatistics aggregates totals across every Execution matching
// filter — a lightweight read built directly on ListExecutions rather than
// a dedicated SQL aggregate, since Catalog has no rollup query
// and the expected row counts (bounded by spec's count*variations<=10000
// per run) make an in-process sum cheap enough.
type ExecutionStatistics struct {
	Executions int
	Total      int
	Successful int
	Failed     int
}

func (a *Adapter) ExecutionStatistics(ctx context.Context, filter catalog.ExecutionFilter) (ExecutionStatistics, error) {
	execs, err := a.catalog.ListExecutions(ctx, filter, 0, 100000)
	if err != nil {
		return ExecutionStatistics{}, err
	}
	stats := ExecutionStatistics{Executions: len(execs)}
	for _, e := range execs {
		stats.Total += e.Totals.Total
		stats.Successful += e.Totals.Successful
		stats.Failed += e.Totals.Failed
	}
	return stats, nil
}

// ---- Images ----

func (a *Adapter) ImageSave(ctx context.Context, img model.GeneratedImage) (int64, error) {
	return a.catalog.SaveImage(ctx, img)
}

func (a *Adapter) ImageGet(ctx context.Context, id int64) (model.GeneratedImage, error) {
	return a.catalog.GetImage(ctx, id)
}

func (a *Adapter) ImageGetByExecution(ctx context.Context, executionID int64) ([]model.GeneratedImage, error) {
	return a.catalog.ListImages(ctx, catalog.ImageFilter{ExecutionID: &executionID})
}

func (a *Adapter) ImageUpdate(ctx context.Context, id int64, fields catalog.ImageFields) error {
	return a.catalog.UpdateImage(ctx, id, fields)
}

func (a *Adapter) ImageDelete(ctx context.Context, id int64) error {
	_, err := a.catalog.BulkDeleteImages(ctx, []int64{id})
	return err
}

func (a *Adapter) ImageBulkDelete(ctx context.Context, ids []int64) (int, error) {
	return a.catalog.BulkDeleteImages(ctx, ids)
}

func (a *Adapter) ImageGetByQCStatus(ctx context.Context, status model.QCStatus) ([]model.GeneratedImage, error) {
	return a.catalog.ListImages(ctx, catalog.ImageFilter{QCStatus: &status})
}

func (a *Adapter) ImageUpdateQCStatus(ctx context.Context, id int64, status model.QCStatus, reason *string) error {
	return a.catalog.UpdateImage(ctx, id, catalog.ImageFields{QCStatus: &status, QCReason: reason})
}

// ImageManualApprove is image:manual-approve: the reviewer overrides a
// qc_failed/retry_failed verdict without re-running the pipeline.
func (a *Adapter) ImageManualApprove(ctx context.Context, id int64) error {
	approved := model.QCApproved
	return a.catalog.UpdateImage(ctx, id, catalog.ImageFields{QCStatus: &approved})
}

func (a *Adapter) ImageMetadata(ctx context.Context, id int64) (*model.Metadata, error) {
	img, err := a.catalog.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	return img.Metadata, nil
}

// ImageStatistics tallies qc_status counts for one execution, the way a
// review dashboard needs to render approved/failed/pending counters.
type ImageStatistics struct {
	Total    int
	Approved int
	Failed   int
	Pending  int
}

func (a *Adapter) ImageStatistics(ctx context.Context, executionID int64) (ImageStatistics, error) {
	imgs, err := a.catalog.ListImages(ctx, catalog.ImageFilter{ExecutionID: &executionID})
	if err != nil {
		return ImageStatistics{}, err
	}
	stats := ImageStatistics{Total: len(imgs)}
	for _, img := range imgs {
		switch img.QCStatus {
		case model.QCApproved:
			stats.Approved++
		case model.QCFailed, model.QCRetryFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

// ---- Retry ----

// FailedImageRetryOriginal re-enqueues a failed image against its
// originating execution's settings_snapshot unchanged.
func (a *Adapter) FailedImageRetryOriginal(imageID int64, includeMetadata bool) {
	a.retry.Enqueue(retry.Job{ImageID: imageID, UseOriginalSettings: true, IncludeMetadata: includeMetadata})
}

// FailedImageRetryModified re-enqueues with caller-supplied override
// settings. The executor uses override in place of the original snapshot
// as a whole; fields are not merged.
func (a *Adapter) FailedImageRetryModified(imageID int64, override config.Settings, includeMetadata bool) {
	a.retry.Enqueue(retry.Job{ImageID: imageID, OverrideSettings: &override, IncludeMetadata: includeMetadata})
}

// FailedImageRetryBatch enqueues every id for retry with original settings.
func (a *Adapter) FailedImageRetryBatch(imageIDs []int64, includeMetadata bool) {
	for _, id := range imageIDs {
		a.FailedImageRetryOriginal(id, includeMetadata)
	}
}
