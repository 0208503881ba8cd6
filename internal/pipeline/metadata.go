package pipeline

import (
	"context"
	"encoding/base64"
	"os"

	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/resilience"
)

// MetadataStage implements stage 9, only called for passed images. Its
// failure never invalidates an otherwise-passed image (§4.5): the caller
// records the image as approved with metadata=null and a warning log.
type MetadataStage struct {
	client providers.MetadataClient
	policy *resilience.Policy
}

// NewMetadataStage builds the stage.
func NewMetadataStage(client providers.MetadataClient) *MetadataStage {
	return &MetadataStage{client: client, policy: resilience.ExternalServicePolicy()}
}

// Run generates title/description/tags for buf.
func (s *MetadataStage) Run(ctx context.Context, buf ImageBuffer, prompt, model string) (providers.MetadataResult, error) {
	data, err := os.ReadFile(buf.Path)
	if err != nil {
		return providers.MetadataResult{}, &StageFailure{Stage: StageMetadata, Cause: err}
	}

	var result providers.MetadataResult
	err = resilience.WithRetry(ctx, s.policy, func() error {
		result, err = s.client.Generate(ctx, providers.MetadataRequest{
			ImageBase64: base64.StdEncoding.EncodeToString(data),
			Prompt:      prompt,
			Model:       model,
		})
		return err
	})
	if err != nil {
		return providers.MetadataResult{}, toStageFailure(StageMetadata, err)
	}
	return result, nil
}
