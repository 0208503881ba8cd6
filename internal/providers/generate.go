package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// GenerateRequest asks a provider for image candidates from one prompt.
type GenerateRequest struct {
	Prompt      string
	Seed        *int64
	Variations  int
	AspectRatio string
	ProcessMode string
	Model       string
}

// GenerateResponse carries the URLs a provider returned; fewer than
// Variations triggers the Generate stage's top-up request (§4.4).
type GenerateResponse struct {
	URLs []string
}

// GenerateClient is satisfied by each image-generation provider adapter.
type GenerateClient interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Download(ctx context.Context, url string, w io.Writer) error
}

type generateWireRequest struct {
	Prompt      string `json:"prompt"`
	Seed        *int64 `json:"seed,omitempty"`
	Variations  int    `json:"variations"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ProcessMode string `json:"process_mode,omitempty"`
	Model       string `json:"model,omitempty"`
}

type generateWireResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// openAIClient, piAPIClient, and runwareClient are structurally identical
// HTTP adapters over the same Client; they are kept as distinct named types
// so provider selection (§9 open question) stays a compile-time choice, not
// a runtime string switch buried in the pipeline.
type openAIClient struct{ c *Client }
type piAPIClient struct{ c *Client }
type runwareClient struct{ c *Client }

// NewOpenAIImageClient builds the openai image-generation adapter.
func NewOpenAIImageClient(baseURL, apiKey string, width int, logger *slog.Logger) GenerateClient {
	return &openAIClient{c: NewClient("openai", baseURL, apiKey, width, 60*time.Second, logger)}
}

// NewPiAPIClient builds the piapi image-generation adapter.
func NewPiAPIClient(baseURL, apiKey string, width int, logger *slog.Logger) GenerateClient {
	return &piAPIClient{c: NewClient("piapi", baseURL, apiKey, width, 60*time.Second, logger)}
}

// NewRunwareClient builds the runware image-generation adapter.
func NewRunwareClient(baseURL, apiKey string, width int, logger *slog.Logger) GenerateClient {
	return &runwareClient{c: NewClient("runware", baseURL, apiKey, width, 60*time.Second, logger)}
}

func (p *openAIClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return doGenerate(ctx, p.c, "/v1/images/generations", req)
}
func (p *openAIClient) Download(ctx context.Context, url string, w io.Writer) error {
	return p.c.download(ctx, url, w)
}

func (p *piAPIClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return doGenerate(ctx, p.c, "/api/v1/generate", req)
}
func (p *piAPIClient) Download(ctx context.Context, url string, w io.Writer) error {
	return p.c.download(ctx, url, w)
}

func (p *runwareClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return doGenerate(ctx, p.c, "/v1/tasks", req)
}
func (p *runwareClient) Download(ctx context.Context, url string, w io.Writer) error {
	return p.c.download(ctx, url, w)
}

func doGenerate(ctx context.Context, c *Client, path string, req GenerateRequest) (GenerateResponse, error) {
	wireReq := generateWireRequest{
		Prompt:      req.Prompt,
		Seed:        req.Seed,
		Variations:  req.Variations,
		AspectRatio: req.AspectRatio,
		ProcessMode: req.ProcessMode,
		Model:       req.Model,
	}
	var wireResp generateWireResponse
	if err := c.doJSON(ctx, "generate", path, wireReq, &wireResp); err != nil {
		return GenerateResponse{}, err
	}
	urls := make([]string, 0, len(wireResp.Images))
	for _, img := range wireResp.Images {
		urls = append(urls, img.URL)
	}
	if len(urls) == 0 {
		return GenerateResponse{}, fmt.Errorf("generate: provider returned no images")
	}
	return GenerateResponse{URLs: urls}, nil
}
