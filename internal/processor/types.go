// Package processor implements ImageProcessor (C5): it drives one image
// through the ordered pipeline stages, applies each stage's soft/hard
// failure policy, and produces exactly one persisted outcome.
package processor

import (
	"context"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/pipeline"
)

// Input is one image's worth of pipeline work.
type Input struct {
	ExecutionID     int64
	MappingID       string
	Prompt          string
	Seed            *int64
	Settings        config.Settings
	IsRetry         bool
	IncludeMetadata bool // retry-only override for ai.runMetadataGen
}

// Outcome is what Process returns: exactly one of Success or a non-nil
// FailedStage.
type Outcome struct {
	Success bool

	FinalPath          string
	QCStatus           model.QCStatus
	QCReason           *string
	Metadata           *model.Metadata
	ProcessingSettings config.ProcessingSnapshot

	FailedStage string
	Reason      string
}

// Catalog is the narrow slice of internal/catalog.Catalog the processor
// needs to persist one outcome.
type Catalog interface {
	SaveImage(ctx context.Context, img model.GeneratedImage) (int64, error)
	UpdateImageByMapping(ctx context.Context, executionID int64, mappingID string, fields catalog.ImageFields) error
}

// EventBus is the narrow publish surface the processor needs.
type EventBus interface {
	Publish(evt eventbus.Event) error
}

// Stages bundles the provider-backed stage implementations a Processor
// drives; callers assemble these once per provider selection (generate
// provider, removeBg on/off, qc/metadata on/off) at composition time.
type Stages struct {
	Generate        *pipeline.GenerateStage
	Download        *pipeline.DownloadStage
	RemoveBg        *pipeline.RemoveBackgroundStage // nil when not configured
	TrimTransparent *pipeline.TrimTransparentStage
	Enhance         *pipeline.EnhanceStage
	Convert         *pipeline.ConvertStage
	QualityCheck    *pipeline.QualityCheckStage // nil when not configured
	Metadata        *pipeline.MetadataStage     // nil when not configured
}
