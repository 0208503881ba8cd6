package jobrunner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/pipeline"
	"github.com/ascensum/genimagefactory/internal/processor"
)

type fakeCatalog struct {
	mu         sync.Mutex
	executions map[int64]model.Execution
	nextID     int64
	updates    []catalog.ExecutionFields
	recomputes int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{executions: map[int64]model.Execution{}}
}

func (c *fakeCatalog) SaveExecution(ctx context.Context, e model.Execution) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	e.ID = c.nextID
	c.executions[e.ID] = e
	return e.ID, nil
}

func (c *fakeCatalog) UpdateExecution(ctx context.Context, id int64, fields catalog.ExecutionFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, fields)
	e := c.executions[id]
	if fields.Status != nil {
		e.Status = *fields.Status
	}
	if fields.StartedAt != nil {
		e.StartedAt = *fields.StartedAt
	}
	if fields.ClearCompletedAt {
		e.CompletedAt = nil
	} else if fields.CompletedAt != nil {
		e.CompletedAt = fields.CompletedAt
	}
	if fields.Totals != nil {
		e.Totals = *fields.Totals
	}
	c.executions[id] = e
	return nil
}

func (c *fakeCatalog) RecomputeExecutionTotals(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputes++
	return nil
}

func (c *fakeCatalog) GetExecution(ctx context.Context, id int64) (model.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.executions[id]
	if !ok {
		return model.Execution{}, &catalog.NotFoundError{Entity: "execution", Key: id}
	}
	return e, nil
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (f *fakeProcessor) Process(ctx context.Context, in processor.Input) (processor.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return processor.Outcome{Success: false}, ctx.Err()
		}
	}
	return processor.Outcome{Success: true, FinalPath: "/tmp/x.png"}, nil
}

type fakePlanner struct{}

func (fakePlanner) Plan(settings config.Settings) ([]pipeline.ParamSet, error) {
	sets := make([]pipeline.ParamSet, settings.Parameters.Count)
	for i := range sets {
		sets[i] = pipeline.ParamSet{Index: i, MappingBase: "gen", Variations: settings.Parameters.Variations, Prompt: "p"}
	}
	return sets, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *fakeBus) Publish(evt eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *fakeBus) count(topic eventbus.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

func testSettings() config.Settings {
	return config.Settings{
		FilePaths:  config.FilePaths{TempDirectory: "/tmp", OutputDirectory: "/tmp"},
		Parameters: config.Parameters{ProcessMode: config.ProcessModeFast, Count: 3, Variations: 2},
	}
}

func waitForState(t *testing.T, r *Runner, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("runner did not reach state %s, stuck at %s", want, r.State())
}

func TestStartJobRunsToCompletion(t *testing.T) {
	cat := newFakeCatalog()
	proc := &fakeProcessor{}
	bus := &fakeBus{}
	r := New(cat, proc, fakePlanner{}, bus, nil)

	execID, err := r.StartJob(context.Background(), testSettings(), nil, nil)
	require.NoError(t, err)
	assert.NotZero(t, execID)

	waitForState(t, r, StateCompleted, time.Second)
	assert.Equal(t, 6, proc.calls) // count(3) * variations(2)
	assert.True(t, bus.count(eventbus.TopicJobProgress) >= 6)
	assert.True(t, bus.count(eventbus.TopicJobStatus) >= 2)
}

func TestStartJobRejectsConcurrentRun(t *testing.T) {
	cat := newFakeCatalog()
	proc := &fakeProcessor{delay: 200 * time.Millisecond}
	r := New(cat, proc, fakePlanner{}, &fakeBus{}, nil)

	_, err := r.StartJob(context.Background(), testSettings(), nil, nil)
	require.NoError(t, err)

	_, err = r.StartJob(context.Background(), testSettings(), nil, nil)
	require.Error(t, err)
	var already *AlreadyRunningError
	assert.ErrorAs(t, err, &already)
}

func TestStopJobGracefulMarksStopped(t *testing.T) {
	cat := newFakeCatalog()
	proc := &fakeProcessor{delay: 500 * time.Millisecond}
	r := New(cat, proc, fakePlanner{}, &fakeBus{}, nil)

	_, err := r.StartJob(context.Background(), testSettings(), nil, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.StopJob(false))
	assert.Equal(t, StateStopped, r.State())
}

func TestRerunExecutionResetsRow(t *testing.T) {
	cat := newFakeCatalog()
	r := New(cat, &fakeProcessor{}, fakePlanner{}, &fakeBus{}, nil)

	settings := testSettings()
	originalStart := time.Now().UTC().Add(-time.Hour)
	completedAt := time.Now().UTC()
	id, err := cat.SaveExecution(context.Background(), model.Execution{
		Status:           model.ExecutionCompleted,
		Totals:           model.ExecutionTotals{Total: 6, Successful: 6},
		StartedAt:        originalStart,
		CompletedAt:      &completedAt,
		SettingsSnapshot: settings,
	})
	require.NoError(t, err)

	snapshot, err := r.RerunExecution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, settings.Parameters.Count, snapshot.Parameters.Count)

	exec, err := cat.GetExecution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPending, exec.Status)
	assert.Equal(t, 0, exec.Totals.Total)
	assert.Nil(t, exec.CompletedAt, "rerun must clear completed_at")
	assert.True(t, exec.StartedAt.After(originalStart), "rerun must refresh started_at")
}
