package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/pipeline"
	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/resilience"
)

type fakeGenerateClient struct{}

func (fakeGenerateClient) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	return providers.GenerateResponse{URLs: []string{"https://example.test/a.png"}}, nil
}

func (fakeGenerateClient) Download(ctx context.Context, url string, w io.Writer) error {
	_, err := w.Write(pngBytes)
	return err
}

// pngBytes is a minimal valid 1x1 PNG signature-prefixed payload, enough to
// pass the Download stage's magic-byte check and imaging.Open.
var pngBytes = []byte{
	0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R',
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 'I', 'D', 'A', 'T',
	0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00, 0x05,
	0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00,
	0x00, 0x00, 'I', 'E', 'N', 'D', 0xae, 0x42, 0x60, 0x82,
}

type fakeCatalog struct {
	saved   []model.GeneratedImage
	updated []catalog.ImageFields
}

func (f *fakeCatalog) SaveImage(ctx context.Context, img model.GeneratedImage) (int64, error) {
	f.saved = append(f.saved, img)
	return int64(len(f.saved)), nil
}

func (f *fakeCatalog) UpdateImageByMapping(ctx context.Context, executionID int64, mappingID string, fields catalog.ImageFields) error {
	f.updated = append(f.updated, fields)
	return nil
}

type fakeBus struct {
	events []eventbus.Event
}

func (f *fakeBus) Publish(evt eventbus.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func newTestStages(t *testing.T, tempDir string) Stages {
	t.Helper()
	gen := pipeline.NewGenerateStage(fakeGenerateClient{})
	return Stages{
		Generate:        gen,
		Download:        pipeline.NewDownloadStage(fakeGenerateClient{}, tempDir),
		TrimTransparent: &pipeline.TrimTransparentStage{},
		Enhance:         &pipeline.EnhanceStage{},
		Convert:         &pipeline.ConvertStage{},
	}
}

func baseSettings(t *testing.T) config.Settings {
	t.Helper()
	tempDir := t.TempDir()
	outDir := t.TempDir()
	return config.Settings{
		FilePaths:  config.FilePaths{TempDirectory: tempDir, OutputDirectory: outDir},
		Parameters: config.Parameters{ProcessMode: config.ProcessModeFast, AspectRatios: []string{"1:1"}, Count: 1, Variations: 1},
	}
}

func TestProcessHappyPathQCDisabled(t *testing.T) {
	settings := baseSettings(t)
	stages := newTestStages(t, settings.FilePaths.TempDirectory)
	cat := &fakeCatalog{}
	bus := &fakeBus{}
	p := New(stages, cat, bus, nil)

	out, err := p.Process(context.Background(), Input{
		ExecutionID: 1,
		MappingID:   "m1",
		Prompt:      "a cat",
		Settings:    settings,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, model.QCApproved, out.QCStatus)
	require.Len(t, cat.saved, 1)
	assert.Equal(t, model.QCApproved, cat.saved[0].QCStatus)
	require.NotNil(t, cat.saved[0].FinalPath)
	_, statErr := os.Stat(*cat.saved[0].FinalPath)
	assert.NoError(t, statErr)
	require.Len(t, bus.events, 1)
	assert.Equal(t, eventbus.TopicImageSettled, bus.events[0].Topic)
}

func TestProcessRetryOverwritesByMapping(t *testing.T) {
	settings := baseSettings(t)
	stages := newTestStages(t, settings.FilePaths.TempDirectory)
	cat := &fakeCatalog{}
	bus := &fakeBus{}
	p := New(stages, cat, bus, nil)

	out, err := p.Process(context.Background(), Input{
		ExecutionID: 7,
		MappingID:   "m2",
		Prompt:      "a dog",
		Settings:    settings,
		IsRetry:     true,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, cat.saved)
	require.Len(t, cat.updated, 1)
	require.NotNil(t, cat.updated[0].QCStatus)
	assert.Equal(t, model.QCApproved, *cat.updated[0].QCStatus)
}

type failingRemoveBg struct{}

func (failingRemoveBg) RemoveBackground(ctx context.Context, req providers.RemoveBgRequest) (providers.RemoveBgResponse, error) {
	return providers.RemoveBgResponse{}, &resilience.ExternalServiceError{Provider: "removebg", Op: "RemoveBackground", StatusCode: 400}
}

func TestProcessRemoveBgSoftFailureContinues(t *testing.T) {
	settings := baseSettings(t)
	settings.Processing.RemoveBg = true
	settings.Processing.RemoveBgFailureMode = config.FailureModeSoft
	stages := newTestStages(t, settings.FilePaths.TempDirectory)
	stages.RemoveBg = pipeline.NewRemoveBackgroundStage(failingRemoveBg{})
	cat := &fakeCatalog{}
	bus := &fakeBus{}
	p := New(stages, cat, bus, nil)

	out, err := p.Process(context.Background(), Input{
		ExecutionID: 2,
		MappingID:   "m3",
		Prompt:      "soft failure",
		Settings:    settings,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.False(t, out.ProcessingSettings["removeBg_applied"].(bool))
}

func TestProcessRemoveBgHardFailureFailsImage(t *testing.T) {
	settings := baseSettings(t)
	settings.Processing.RemoveBg = true
	settings.Processing.RemoveBgFailureMode = config.FailureModeHard
	stages := newTestStages(t, settings.FilePaths.TempDirectory)
	stages.RemoveBg = pipeline.NewRemoveBackgroundStage(failingRemoveBg{})
	cat := &fakeCatalog{}
	bus := &fakeBus{}
	p := New(stages, cat, bus, nil)

	out, err := p.Process(context.Background(), Input{
		ExecutionID: 3,
		MappingID:   "m4",
		Prompt:      "hard failure",
		Settings:    settings,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, pipeline.StageRemoveBg, out.FailedStage)
	require.Len(t, cat.saved, 1)
	assert.Equal(t, model.QCFailed, cat.saved[0].QCStatus)
}

func TestWriteFinalArtifactIsAtomicRename(t *testing.T) {
	settings := baseSettings(t)
	stages := newTestStages(t, settings.FilePaths.TempDirectory)
	p := New(stages, &fakeCatalog{}, &fakeBus{}, nil)

	srcPath := filepath.Join(settings.FilePaths.TempDirectory, "src.png")
	require.NoError(t, os.WriteFile(srcPath, pngBytes, 0o600))

	finalPath, err := p.writeFinalArtifact(Input{ExecutionID: 9, MappingID: "m5", Settings: settings}, pipeline.ImageBuffer{Path: srcPath, Format: "png"})
	require.NoError(t, err)
	_, statErr := os.Stat(finalPath)
	assert.NoError(t, statErr)
	_, tmpStatErr := os.Stat(finalPath + ".tmp")
	assert.Error(t, tmpStatErr)
}
