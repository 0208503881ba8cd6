package pipeline

import (
	"context"
	"encoding/base64"
	"os"

	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/resilience"
)

// QualityCheckStage implements stage 8. A failed check is never a
// StageFailure — it is always recorded as qc_failed by ImageProcessor.
type QualityCheckStage struct {
	client providers.QualityCheckClient
	policy *resilience.Policy
}

// NewQualityCheckStage builds the stage.
func NewQualityCheckStage(client providers.QualityCheckClient) *QualityCheckStage {
	return &QualityCheckStage{client: client, policy: resilience.ExternalServicePolicy()}
}

// Run calls the vision model and returns its verdict. A transport/HTTP
// error is still a StageFailure (the call never completed); `passed=false`
// is a normal result, not an error.
func (s *QualityCheckStage) Run(ctx context.Context, buf ImageBuffer, prompt, model string) (providers.QualityCheckResult, error) {
	data, err := os.ReadFile(buf.Path)
	if err != nil {
		return providers.QualityCheckResult{}, &StageFailure{Stage: StageQualityCheck, Cause: err}
	}

	var result providers.QualityCheckResult
	err = resilience.WithRetry(ctx, s.policy, func() error {
		result, err = s.client.Check(ctx, providers.QualityCheckRequest{
			ImageBase64: base64.StdEncoding.EncodeToString(data),
			Prompt:      prompt,
			Model:       model,
		})
		return err
	})
	if err != nil {
		return providers.QualityCheckResult{}, toStageFailure(StageQualityCheck, err)
	}
	return result, nil
}
