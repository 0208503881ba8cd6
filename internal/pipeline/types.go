// Package pipeline implements the nine ordered stage functions of §4.4:
// Plan, Generate, Download, RemoveBackground, TrimTransparent, Enhance,
// Convert, QualityCheck, Metadata. Every stage but Plan is pure except for
// the temp directory it writes into and the external HTTP call it makes.
package pipeline

import (
	"fmt"

	"github.com/ascensum/genimagefactory/internal/config"
)

// Stage names, used on StageFailure and in temp-file naming.
const (
	StagePlan            = "plan"
	StageGenerate        = "generate"
	StageDownload        = "download"
	StageRemoveBg        = "remove_bg"
	StageTrimTransparent = "trim_transparent"
	StageEnhance         = "enhance"
	StageConvert         = "convert"
	StageQualityCheck    = "quality_check"
	StageMetadata        = "metadata"
)

// StageFailure is the typed per-stage failure consumed by ImageProcessor
// (§7): never surfaced to the UI directly, only recorded or recovered.
type StageFailure struct {
	Stage      string
	Retryable  bool
	HTTPStatus int
	Cause      error
}

func (f *StageFailure) Error() string {
	if f.HTTPStatus != 0 {
		return fmt.Sprintf("stage %s failed (http %d): %v", f.Stage, f.HTTPStatus, f.Cause)
	}
	return fmt.Sprintf("stage %s failed: %v", f.Stage, f.Cause)
}

func (f *StageFailure) Unwrap() error { return f.Cause }

// ParamSet is one Plan output: the parameters for a single provider
// generation call, expected to yield Variations candidate images.
type ParamSet struct {
	Index       int
	MappingBase string
	Prompt      string
	Seed        *int64
	Variations  int
	AspectRatio string
}

// ImageBuffer threads one candidate image through the stage chain. Path
// always points at the current temp file; callers overwrite Path as stages
// run (write-new-temp-then-remove-old), never mutating a file in place.
type ImageBuffer struct {
	Path   string
	Format string // "png", "jpg", "webp"

	// RequestedFormat is set by Convert when Format diverges from what the
	// configuration asked for (the webp encode fallback); empty otherwise.
	RequestedFormat string
}

// GeneratedCandidate is Generate/Download's output: one URL resolved to a
// local temp file, tagged with the variation index within its generation.
type GeneratedCandidate struct {
	VariationIndex int
	SourceURL      string
	Buffer         ImageBuffer
}

// tempFileName matches §4.4's normative naming:
// <execution>_<mapping>_<stage>.<ext>.
func tempFileName(executionID int64, mappingID, stage, ext string) string {
	return fmt.Sprintf("%d_%s_%s.%s", executionID, mappingID, stage, ext)
}

func processModeString(m config.ProcessMode) string { return string(m) }
