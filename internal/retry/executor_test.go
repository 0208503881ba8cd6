package retry

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
	"github.com/ascensum/genimagefactory/internal/processor"
)

type fakeCatalog struct {
	mu             sync.Mutex
	images         map[int64]model.GeneratedImage
	execs          map[int64]model.Execution
	updates        []catalog.ImageFields
	mappingUpdates []catalog.ImageFields
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{images: map[int64]model.GeneratedImage{}, execs: map[int64]model.Execution{}}
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

func (c *fakeCatalog) GetExecution(ctx context.Context, id int64) (model.Execution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.execs[id]
	if !ok {
		return model.Execution{}, &catalog.NotFoundError{Entity: "execution", Key: id}
	}
	return e, nil
}

func (c *fakeCatalog) UpdateImage(ctx context.Context, id int64, fields catalog.ImageFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, fields)
	if img, ok := c.images[id]; ok {
		if fields.QCStatus != nil {
			img.QCStatus = *fields.QCStatus
		}
		c.images[id] = img
	}
	return nil
}

func (c *fakeCatalog) UpdateImageByMapping(ctx context.Context, executionID int64, mappingID string, fields catalog.ImageFields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappingUpdates = append(c.mappingUpdates, fields)
	return nil
}

type fakeProcessor struct {
	succeed bool
}

func (f *fakeProcessor) Process(ctx context.Context, in processor.Input) (processor.Outcome, error) {
	if !f.succeed {
		return processor.Outcome{Success: false, FailedStage: "download", Reason: "boom"}, nil
	}
	return processor.Outcome{Success: true, FinalPath: "/tmp/retry.png"}, nil
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

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestProcessOneSuccessLeavesPersistenceToProcessor(t *testing.T) {
	cat := newFakeCatalog()
	execID := int64(1)
	cat.execs[execID] = model.Execution{ID: execID, SettingsSnapshot: config.Settings{}}
	cat.images[10] = model.GeneratedImage{ID: 10, ExecutionID: &execID, MappingID: "gen-0-v0", Prompt: "a cat"}

	proc := &fakeProcessor{succeed: true}
	bus := &fakeBus{}
	e := New(cat, proc, bus, nil)
	defer e.Stop()

	e.Enqueue(Job{ImageID: 10, UseOriginalSettings: true})

	require.Len(t, cat.updates, 1)
	require.NotNil(t, cat.updates[0].QCStatus)
	assert.Equal(t, model.QCRetryPending, *cat.updates[0].QCStatus)

	waitFor(t, func() bool { return bus.count(eventbus.TopicRetryJobStatus) >= 2 }, time.Second)
	assert.Equal(t, 0, len(cat.mappingUpdates))
}

func TestProcessOneFailureMarksRetryFailed(t *testing.T) {
	cat := newFakeCatalog()
	execID := int64(2)
	cat.execs[execID] = model.Execution{ID: execID, SettingsSnapshot: config.Settings{}}
	cat.images[20] = model.GeneratedImage{ID: 20, ExecutionID: &execID, MappingID: "gen-1-v0", Prompt: "a dog"}

	proc := &fakeProcessor{succeed: false}
	bus := &fakeBus{}
	e := New(cat, proc, bus, nil)
	defer e.Stop()

	e.Enqueue(Job{ImageID: 20})

	waitFor(t, func() bool { return bus.count(eventbus.TopicRetryJobError) >= 1 }, time.Second)
	require.Len(t, cat.mappingUpdates, 1)
	require.NotNil(t, cat.mappingUpdates[0].QCStatus)
	assert.Equal(t, model.QCRetryFailed, *cat.mappingUpdates[0].QCStatus)
}

func TestProcessOneMissingImageEmitsJobError(t *testing.T) {
	cat := newFakeCatalog()
	bus := &fakeBus{}
	e := New(cat, &fakeProcessor{succeed: true}, bus, nil)
	defer e.Stop()

	e.Enqueue(Job{ImageID: 999})

	waitFor(t, func() bool { return bus.count(eventbus.TopicRetryJobError) >= 1 }, time.Second)
}

func TestStopEmitsRetryStopped(t *testing.T) {
	cat := newFakeCatalog()
	bus := &fakeBus{}
	e := New(cat, &fakeProcessor{succeed: true}, bus, nil)

	e.Stop()
	assert.Equal(t, 1, bus.count(eventbus.TopicRetryStopped))
}
