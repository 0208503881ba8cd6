package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ascensum/genimagefactory/internal/catalog"
	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/eventbus"
	"github.com/ascensum/genimagefactory/internal/model"
	"github.com/ascensum/genimagefactory/internal/pipeline"
)

// Processor implements ImageProcessor (C5).
type Processor struct {
	stages  Stages
	catalog Catalog
	bus     EventBus
	logger  *slog.Logger
}

// New builds a Processor. stages' optional fields (RemoveBg, QualityCheck,
// Metadata) may be nil when the configuration disables them.
func New(stages Stages, cat Catalog, bus EventBus, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{stages: stages, catalog: cat, bus: bus, logger: logger.With("component", "processor")}
}

// Process drives in through the ordered pipeline and persists exactly one
// outcome: a new row via SaveImage for a first run, or an in-place
// overwrite via UpdateImageByMapping for a retry. The provider-backed
// stages (generate, download, remove-bg, quality check, metadata) take ctx,
// so a caller's cancel() (stopJob/forceStopAll) aborts the in-flight HTTP
// call directly; the local trim/enhance/convert stages take no ctx.
func (p *Processor) Process(ctx context.Context, in Input) (Outcome, error) {
	var tempFiles []string
	defer func() {
		for _, f := range tempFiles {
			os.Remove(f)
		}
	}()

	outcome := p.run(ctx, in, &tempFiles)

	if err := p.persist(ctx, in, outcome); err != nil {
		return outcome, err
	}
	p.emitSettled(in, outcome)
	return outcome, nil
}

func (p *Processor) run(ctx context.Context, in Input, tempFiles *[]string) Outcome {
	proc := in.Settings.Processing
	tempDir := in.Settings.FilePaths.TempDirectory
	snapshot := config.ProcessingSnapshot{}

	urls, err := p.stages.Generate.Run(ctx, pipeline.ParamSet{
		Prompt:      in.Prompt,
		Seed:        in.Seed,
		Variations:  1,
		AspectRatio: firstOrEmpty(in.Settings.Parameters.AspectRatios),
	}, string(in.Settings.Parameters.ProcessMode), in.Settings.Parameters.OpenAIModel)
	if err != nil {
		return p.failureFrom(err, snapshot)
	}

	buf, err := p.stages.Download.Run(ctx, in.ExecutionID, in.MappingID, urls[0], "png")
	if err != nil {
		return p.failureFrom(err, snapshot)
	}
	*tempFiles = append(*tempFiles, buf.Path)

	removeBgApplied := false
	if proc.RemoveBg && p.stages.RemoveBg != nil {
		pollTimeout := time.Duration(0)
		if in.Settings.Parameters.EnablePollingTimeout {
			pollTimeout = time.Duration(in.Settings.Parameters.PollingTimeout) * time.Second
		}
		newBuf, err := p.stages.RemoveBg.Run(ctx, in.ExecutionID, in.MappingID, buf, proc.RemoveBgSize, tempDir, pollTimeout)
		if err != nil {
			if proc.RemoveBgFailureMode == config.FailureModeHard {
				return p.failureFrom(err, snapshot)
			}
			p.logger.Warn("remove_bg failed, continuing with original image (soft policy)",
				"execution_id", in.ExecutionID, "mapping_id", in.MappingID, "error", err)
		} else {
			buf = newBuf
			removeBgApplied = true
			*tempFiles = append(*tempFiles, buf.Path)
		}
	}
	snapshot["removeBg_applied"] = removeBgApplied

	if proc.TrimTransparentBackground && removeBgApplied {
		newBuf, err := p.stages.TrimTransparent.Run(in.ExecutionID, in.MappingID, buf, tempDir)
		if err != nil {
			return p.failureFrom(err, snapshot)
		}
		buf = newBuf
		*tempFiles = append(*tempFiles, buf.Path)
		snapshot["trimTransparent_applied"] = true
	}

	if proc.ImageEnhancement {
		newBuf, err := p.stages.Enhance.Run(in.ExecutionID, in.MappingID, buf, proc.Sharpening, proc.Saturation, tempDir)
		if err != nil {
			return p.failureFrom(err, snapshot)
		}
		buf = newBuf
		*tempFiles = append(*tempFiles, buf.Path)
		snapshot["sharpening_applied"] = proc.Sharpening
		snapshot["saturation_applied"] = proc.Saturation
	}

	if proc.ImageConvert {
		newBuf, err := p.stages.Convert.Run(in.ExecutionID, in.MappingID, buf, proc, removeBgApplied, tempDir)
		if err != nil {
			return p.failureFrom(err, snapshot)
		}
		buf = newBuf
		*tempFiles = append(*tempFiles, buf.Path)
		snapshot["convert_format"] = buf.Format
		if buf.RequestedFormat != "" {
			snapshot["convert_requested_format"] = buf.RequestedFormat
			p.logger.Warn("convert stage downgraded output format",
				"execution_id", in.ExecutionID, "mapping_id", in.MappingID,
				"requested", buf.RequestedFormat, "produced", buf.Format)
		}
	}

	qcStatus := model.QCApproved
	var qcReason *string
	if in.Settings.AI.RunQualityCheck && p.stages.QualityCheck != nil {
		result, err := p.stages.QualityCheck.Run(ctx, buf, in.Settings.FilePaths.QualityCheckPromptFile, in.Settings.Parameters.OpenAIModel)
		if err != nil {
			return p.failureFrom(err, snapshot)
		}
		if !result.Passed {
			qcStatus = model.QCFailed
			reason := result.Reason
			qcReason = &reason
		}
	}

	finalPath, err := p.writeFinalArtifact(in, buf)
	if err != nil {
		return p.failureFrom(err, snapshot)
	}

	var metadata *model.Metadata
	wantMetadata := in.Settings.AI.RunMetadataGen
	if in.IsRetry {
		wantMetadata = in.IncludeMetadata
	}
	if qcStatus == model.QCApproved && wantMetadata && p.stages.Metadata != nil {
		result, err := p.stages.Metadata.Run(ctx, buf, in.Settings.FilePaths.MetadataPromptFile, in.Settings.Parameters.OpenAIModel)
		if err != nil {
			p.logger.Warn("metadata generation failed, image remains approved",
				"execution_id", in.ExecutionID, "mapping_id", in.MappingID, "error", err)
		} else {
			metadata = &model.Metadata{Title: result.Title, Description: result.Description, Tags: result.Tags}
		}
	}

	return Outcome{
		Success:            true,
		FinalPath:          finalPath,
		QCStatus:           qcStatus,
		QCReason:           qcReason,
		Metadata:           metadata,
		ProcessingSettings: snapshot,
	}
}

func (p *Processor) failureFrom(err error, snapshot config.ProcessingSnapshot) Outcome {
	stage := "unknown"
	reason := err.Error()
	if sf, ok := err.(*pipeline.StageFailure); ok {
		stage = sf.Stage
		reason = sf.Error()
	}
	return Outcome{Success: false, FailedStage: stage, Reason: reason, ProcessingSettings: snapshot}
}

func (p *Processor) writeFinalArtifact(in Input, buf pipeline.ImageBuffer) (string, error) {
	outputDir := in.Settings.FilePaths.OutputDirectory
	if err := os.MkdirAll(outputDir, 0o700); err != nil {
		return "", &pipeline.StageFailure{Stage: "finalize", Cause: err}
	}
	finalName := fmt.Sprintf("%d_%s.%s", in.ExecutionID, in.MappingID, buf.Format)
	finalPath := filepath.Join(outputDir, finalName)
	tmpPath := finalPath + ".tmp"

	data, err := os.ReadFile(buf.Path)
	if err != nil {
		return "", &pipeline.StageFailure{Stage: "finalize", Cause: err}
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return "", &pipeline.StageFailure{Stage: "finalize", Cause: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", &pipeline.StageFailure{Stage: "finalize", Cause: err}
	}
	return finalPath, nil
}

func (p *Processor) persist(ctx context.Context, in Input, out Outcome) error {
	qcStatus := out.QCStatus
	qcReason := out.QCReason
	var finalPath *string
	if out.Success {
		finalPath = &out.FinalPath
	} else {
		qcStatus = model.QCFailed
		reason := fmt.Sprintf("%s: %s", out.FailedStage, out.Reason)
		qcReason = &reason
	}

	if in.IsRetry {
		fields := catalog.ImageFields{
			QCStatus:           &qcStatus,
			QCReason:           qcReason,
			FinalPath:          finalPath,
			Metadata:           out.Metadata,
			ProcessingSettings: &out.ProcessingSettings,
		}
		return p.catalog.UpdateImageByMapping(ctx, in.ExecutionID, in.MappingID, fields)
	}

	execID := in.ExecutionID
	img := model.GeneratedImage{
		ExecutionID:        &execID,
		MappingID:          in.MappingID,
		Prompt:             in.Prompt,
		Seed:               in.Seed,
		QCStatus:           qcStatus,
		QCReason:           qcReason,
		FinalPath:          finalPath,
		Metadata:           out.Metadata,
		ProcessingSettings: out.ProcessingSettings,
	}
	_, err := p.catalog.SaveImage(ctx, img)
	return err
}

func (p *Processor) emitSettled(in Input, out Outcome) {
	data := map[string]any{
		"executionId": in.ExecutionID,
		"mappingId":   in.MappingID,
		"success":     out.Success,
	}
	if !out.Success {
		data["stage"] = out.FailedStage
		data["reason"] = out.Reason
	}
	evt := eventbus.New(eventbus.TopicImageSettled, eventbus.ContextRun, data)
	if err := p.bus.Publish(evt); err != nil {
		p.logger.Warn("failed to publish image.settled", "error", err)
	}
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
