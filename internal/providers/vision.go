package providers

import (
	"log/slog"
	"time"

	"context"
)

// QualityCheckRequest is the vision QC call input (stage 8).
type QualityCheckRequest struct {
	ImageBase64 string
	Prompt      string
	Model       string
}

// QualityCheckResult is the structured verdict from the vision model.
type QualityCheckResult struct {
	Passed bool
	Reason string
}

// QualityCheckClient performs the pass/fail vision check.
type QualityCheckClient interface {
	Check(ctx context.Context, req QualityCheckRequest) (QualityCheckResult, error)
}

// MetadataRequest is the metadata-generation call input (stage 9).
type MetadataRequest struct {
	ImageBase64 string
	Prompt      string
	Model       string
}

// MetadataResult is the generated listing metadata.
type MetadataResult struct {
	Title       string
	Description string
	Tags        []string
}

// MetadataClient generates title/description/tags for an approved image.
type MetadataClient interface {
	Generate(ctx context.Context, req MetadataRequest) (MetadataResult, error)
}

type visionWireRequest struct {
	Image  string `json:"image_b64"`
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type qualityCheckWireResponse struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

type metadataWireResponse struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type openAIVisionClient struct{ c *Client }

// NewOpenAIVisionClient builds the shared OpenAI vision adapter used for
// both quality-check and metadata-generation calls.
func NewOpenAIVisionClient(baseURL, apiKey string, width int, logger *slog.Logger) *openAIVisionClient {
	return &openAIVisionClient{c: NewClient("openai-vision", baseURL, apiKey, width, 45*time.Second, logger)}
}

func (p *openAIVisionClient) Check(ctx context.Context, req QualityCheckRequest) (QualityCheckResult, error) {
	wireReq := visionWireRequest{Image: req.ImageBase64, Prompt: req.Prompt, Model: req.Model}
	var wireResp qualityCheckWireResponse
	if err := p.c.doJSON(ctx, "quality_check", "/v1/chat/completions", wireReq, &wireResp); err != nil {
		return QualityCheckResult{}, err
	}
	return QualityCheckResult{Passed: wireResp.Passed, Reason: wireResp.Reason}, nil
}

func (p *openAIVisionClient) Generate(ctx context.Context, req MetadataRequest) (MetadataResult, error) {
	wireReq := visionWireRequest{Image: req.ImageBase64, Prompt: req.Prompt, Model: req.Model}
	var wireResp metadataWireResponse
	if err := p.c.doJSON(ctx, "metadata", "/v1/chat/completions", wireReq, &wireResp); err != nil {
		return MetadataResult{}, err
	}
	return MetadataResult{Title: wireResp.Title, Description: wireResp.Description, Tags: wireResp.Tags}, nil
}
