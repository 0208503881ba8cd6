package adapter

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/jobrunner"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/retry"
	"github.com/ascensum/genimagefactory/internal/secrets"
)

type fakeCatalog struct {
	mu       sync.Mutex
	configs  map[string]model.Configuration
	configsByID map[int64]model.Configuration
	execs    map[int64]model.Execution
	images   map[int64]model.GeneratedImage
	nextID   int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		configs:     map[string]model.Configuration{},
		configsByID: map[int64]model.Configuration{},
		execs:       map[int64]model.Execution{},
		images:      map[int64]model.GeneratedImage{},
	}
}

func (c *fakeCatalog) SaveConfiguration(ctx context.Context, name string, settings config.Settings) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	cfg := model.Configuration{ID: c.nextID, Name: name, Settings: settings}
	c.configs[name] = cfg
	c.configsByID[cfg.ID] = cfg
	return cfg.ID, nil
}

func (c *fakeCatalog) GetConfigurationByID(ctx context.Context, id int64) (model.Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configsByID[id]
	if !ok {
		return model.Configuration{}, &catalog.NotFoundError{Entity: "configuration", Key: id}
	}
	return cfg, nil
}

func (c *fakeCatalog) GetConfigurationByName(ctx context.Context, name string) (model.Configuration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[name]
	if !ok {
		return model.Configuration{}, &catalog.NotFoundError{Entity: "configuration", Key: name}
	}
	return cfg, nil
}

func (c *fakeCatalog) ListConfigurations(ctx context.Context) ([]model.Configuration, error) {
	return nil, nil
}

func (c *fakeCatalog) DeleteConfiguration(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.configsByID[id]; ok {
		delete(c.configsByID, id)
		delete(c.configs, cfg.Name)
	}
	return nil
}

func (c *fakeCatalog) SaveExecution(ctx context.Context, e model.Execution) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	e.ID = c.nextID
	c.execs[e.ID] = e
	return e.ID, nil
}

func (c *fakeCatalog) UpdateExecution(ctx context.Context, id int64, fields catalog.ExecutionFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.execs[id]
	if fields.Label != nil {
		e.Label = fields.Label
	}
	if fields.Status != nil {
		e.Status = *fields.Status
	}
	c.execs[id] = e
	return nil
}

func (c *fakeCatalog) DeleteExecution(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.execs, id)
	return nil
}

func (c *fakeCatalog) GetExecution(ctx context.Context, id int64) (model.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.execs[id]
	if !ok {
		return model.Execution{}, &catalog.NotFoundError{Entity: "execution", Key: id}
	}
	return e, nil
}

func (c *fakeCatalog) ListExecutions(ctx context.Context, filter catalog.ExecutionFilter, page, pageSize int) ([]model.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Execution, 0, len(c.execs))
	for _, e := range c.execs {
		out = append(out, e)
	}
	return out, nil
}

func (c *fakeCatalog) CountExecutions(ctx context.Context, filter catalog.ExecutionFilter) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.execs), nil
}

func (c *fakeCatalog) SaveImage(ctx context.Context, img model.GeneratedImage) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	img.ID = c.nextID
	c.images[img.ID] = img
	return img.ID, nil
}

func (c *fakeCatalog) UpdateImage(ctx context.Context, id int64, fields catalog.ImageFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	img := c.images[id]
	if fields.QCStatus != nil {
		img.QCStatus = *fields.QCStatus
	}
	c.images[id] = img
	return nil
}

func (c *fakeCatalog) GetImage(ctx context.Context, id int64) (model.GeneratedImage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.images[id]
	if !ok {
		return model.GeneratedImage{}, &catalog.NotFoundError{Entity: "image", Key: id}
	}
	return img, nil
}

func (c *fakeCatalog) ListImages(ctx context.Context, filter catalog.ImageFilter) ([]model.GeneratedImage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.GeneratedImage, 0)
	for _, img := range c.images {
		if filter.ExecutionID != nil && (img.ExecutionID == nil || *img.ExecutionID != *filter.ExecutionID) {
			continue
		}
		if filter.QCStatus != nil && img.QCStatus != *filter.QCStatus {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

func (c *fakeCatalog) BulkDeleteImages(ctx context.Context, ids []int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := c.images[id]; ok {
			delete(c.images, id)
			n++
		}
	}
	return n, nil
}

type fakeSecrets struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSecrets() *fakeSecrets { return &fakeSecrets{values: map[string]string{}} }

func (s *fakeSecrets) Get(ctx context.Context, service, account string) (string, secrets.SecurityLevel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[service+"/"+account]
	return v, secrets.LevelEncrypted, ok, nil
}

func (s *fakeSecrets) Set(ctx context.Context, service, account, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[service+"/"+account] = value
	return nil
}

type fakeRunner struct {
	state jobrunner.State
	execID int64
}

func (r *fakeRunner) StartJob(ctx context.Context, settings config.Settings, configurationID *int64, label *string) (int64, error) {
	r.execID = 1
	r.state = jobrunner.StateRunning
	return r.execID, nil
}
func (r *fakeRunner) StopJob(force bool) error { r.state = jobrunner.StateStopped; return nil }
func (r *fakeRunner) State() jobrunner.State   { return r.state }
func (r *fakeRunner) CurrentExecution() int64  { return r.execID }
func (r *fakeRunner) RerunExecution(ctx context.Context, id int64) (config.Settings, error) {
	return config.Settings{}, nil
}
func (r *fakeRunner) BulkRerun(ids []int64) {}
func (r *fakeRunner) QueueLength() int       { return 0 }

type fakeRetry struct {
	mu   sync.Mutex
	jobs []retry.Job
}

func (r *fakeRetry) Enqueue(job retry.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}
func (r *fakeRetry) QueueLength() int { return len(r.jobs) }
func (r *fakeRetry) Stop()            {}

func newTestAdapter() (*Adapter, *fakeCatalog, *fakeSecrets, *fakeRunner, *fakeRetry) {
	cat := newFakeCatalog()
	sec := newFakeSecrets()
	runner := &fakeRunner{state: jobrunner.StateIdle}
	retryExec := &fakeRetry{}
	return New(cat, sec, runner, retryExec, nil), cat, sec, runner, retryExec
}

func TestSaveAndGetSettingsRoundTrips(t *testing.T) {
	a, _, _, _, _ := newTestAdapter()
	settings := config.Settings{
		FilePaths:  config.FilePaths{OutputDirectory: "/out", TempDirectory: "/tmp"},
		Parameters: config.Parameters{ProcessMode: config.ProcessModeFast, Count: 1, Variations: 1},
	}
	id, err := a.SaveSettings(context.Background(), "preset-1", settings)
	require.NoError(t, err)

	got, err := a.GetSettings(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "/out", got.FilePaths.OutputDirectory)
}

func TestSetAndGetAPIKeyRoundTrips(t *testing.T) {
	a, _, _, _, _ := newTestAdapter()
	require.NoError(t, a.SetAPIKey(context.Background(), "openai", "default", "sk-abc"))

	val, level, found, err := a.GetAPIKey(context.Background(), "openai", "default")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sk-abc", val)
	assert.Equal(t, secrets.LevelEncrypted, level)
}

func TestJobStartReflectsInStatus(t *testing.T) {
	a, _, _, _, _ := newTestAdapter()
	id, err := a.JobStart(context.Background(), config.Settings{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	status := a.JobGetStatus()
	assert.Equal(t, string(jobrunner.StateRunning), status.State)
	assert.Equal(t, int64(1), status.CurrentJobID)
}

func TestFailedImageRetryOriginalEnqueues(t *testing.T) {
	a, _, _, _, retryExec := newTestAdapter()
	a.FailedImageRetryOriginal(42, true)

	require.Len(t, retryExec.jobs, 1)
	assert.Equal(t, int64(42), retryExec.jobs[0].ImageID)
	assert.True(t, retryExec.jobs[0].UseOriginalSettings)
}

func TestImageManualApproveSetsApproved(t *testing.T) {
	a, cat, _, _, _ := newTestAdapter()
	id, err := cat.SaveImage(context.Background(), model.GeneratedImage{QCStatus: model.QCFailed})
	require.NoError(t, err)

	require.NoError(t, a.ImageManualApprove(context.Background(), id))

	img, err := a.ImageGet(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.QCApproved, img.QCStatus)
}

func TestSelectFileDeclines(t *testing.T) {
	a, _, _, _, _ := newTestAdapter()
	_, err := a.SelectFile(context.Background())
	assert.ErrorIs(t, err, errGUINotSupported)
}

func TestSubscribeRedactsSecretFields(t *testing.T) {
	a, _, _, _, _ := newTestAdapter()
	bus := eventbus.New(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	events := a.Subscribe(ctx, bus, "test-sub", eventbus.TopicJobStatus)
	require.NoError(t, bus.Publish(eventbus.New(eventbus.TopicJobStatus, eventbus.ContextRun, map[string]any{
		"apiKey": "sk-leak", "status": "running",
	})))

	select {
	case evt := <-events:
		assert.Equal(t, "[redacted]", evt.Data["apiKey"])
		assert.Equal(t, "running", evt.Data["status"])
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
