package pipeline

import (
	"context"
	"encoding/base64"
	"os"
	"time"

	"github.com/ascensum/genimagefactory/internal/config"
	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/resilience"
)

// RemoveBackgroundStage implements stage 4. Its retry budget is derived
// from pollingTimeout (§5): Run puts a positive pollingTimeout on the call
// context as a deadline and retries under ExternalServicePolicy within it.
type RemoveBackgroundStage struct {
	client providers.RemoveBgClient
}

// NewRemoveBackgroundStage builds the stage.
func NewRemoveBackgroundStage(client providers.RemoveBgClient) *RemoveBackgroundStage {
	return &RemoveBackgroundStage{client: client}
}

// Run removes the background of buf in place (writes a new temp file) and
// returns it, or a StageFailure honoring the soft/hard policy byte: the
// caller (ImageProcessor) decides whether a failure here aborts the image
// or falls back to the original buffer.
func (s *RemoveBackgroundStage) Run(ctx context.Context, executionID int64, mappingID string, buf ImageBuffer, size config.RemoveBgSize, tempDir string, pollingTimeout time.Duration) (ImageBuffer, error) {
	data, err := os.ReadFile(buf.Path)
	if err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageRemoveBg, Cause: err}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if pollingTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, pollingTimeout)
		defer cancel()
	}

	var resultB64 string
	policy := resilience.ExternalServicePolicy()
	err = resilience.WithRetry(callCtx, policy, func() error {
		resp, err := s.client.RemoveBackground(callCtx, providers.RemoveBgRequest{
			ImageBase64: base64.StdEncoding.EncodeToString(data),
			Size:        size,
		})
		if err != nil {
			return err
		}
		resultB64 = resp.ImageBase64
		return nil
	})
	if err != nil {
		return ImageBuffer{}, toStageFailure(StageRemoveBg, err)
	}

	out, err := base64.StdEncoding.DecodeString(resultB64)
	if err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageRemoveBg, Cause: err}
	}
	path := tempDir + "/" + tempFileName(executionID, mappingID, StageRemoveBg, "png")
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageRemoveBg, Cause: err}
	}
	return ImageBuffer{Path: path, Format: "png"}, nil
}
