package pipeline

import (
	"context"
	"errors"

	"github.com/ascensum/genimagefactory/internal/providers"
	"github.com/ascensum/genimagefactory/internal/resilience"
)

// GenerateStage wraps one provider's GenerateClient for stage 2.
type GenerateStage struct {
	client providers.GenerateClient
	policy *resilience.Policy
}

// NewGenerateStage builds the Generate stage over a provider client.
func NewGenerateStage(client providers.GenerateClient) *GenerateStage {
	return &GenerateStage{client: client, policy: resilience.ExternalServicePolicy()}
}

// Run requests Variations candidate URLs; if the provider returns fewer, it
// issues one top-up request for the remainder (§4.4 stage 2).
func (s *GenerateStage) Run(ctx context.Context, set ParamSet, processMode string, model string) ([]string, error) {
	req := providers.GenerateRequest{
		Prompt:      set.Prompt,
		Seed:        set.Seed,
		Variations:  set.Variations,
		AspectRatio: set.AspectRatio,
		ProcessMode: processMode,
		Model:       model,
	}

	var urls []string
	err := resilience.WithRetry(ctx, s.policy, func() error {
		resp, err := s.client.Generate(ctx, req)
		if err != nil {
			return err
		}
		urls = resp.URLs
		return nil
	})
	if err != nil {
		return nil, toStageFailure(StageGenerate, err)
	}

	if len(urls) < set.Variations {
		topUp := req
		topUp.Variations = set.Variations - len(urls)
		err := resilience.WithRetry(ctx, s.policy, func() error {
			resp, err := s.client.Generate(ctx, topUp)
			if err != nil {
				return err
			}
			urls = append(urls, resp.URLs...)
			return nil
		})
		if err != nil {
			return nil, toStageFailure(StageGenerate, err)
		}
	}
	return urls, nil
}

func toStageFailure(stage string, err error) *StageFailure {
	var svcErr *resilience.ExternalServiceError
	if errors.As(err, &svcErr) {
		return &StageFailure{Stage: stage, Retryable: svcErr.Retryable(), HTTPStatus: svcErr.StatusCode, Cause: svcErr}
	}
	return &StageFailure{Stage: stage, Cause: err}
}
