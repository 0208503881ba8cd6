package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/ascensum/genimagefactory/internal/config"
)

// RemoveBgRequest carries the image bytes (base64) and desired output size.
type RemoveBgRequest struct {
	ImageBase64 string
	Size        config.RemoveBgSize
}

// RemoveBgResponse carries the provider's background-removed image.
type RemoveBgResponse struct {
	ImageBase64 string
}

// RemoveBgClient is the background-removal provider adapter (stage 4).
type RemoveBgClient interface {
	RemoveBackground(ctx context.Context, req RemoveBgRequest) (RemoveBgResponse, error)
}

type removeBgWireRequest struct {
	Image string `json:"image_file_b64"`
	Size  string `json:"size"`
}

type removeBgWireResponse struct {
	Data struct {
		ResultBase64 string `json:"result_b64"`
	} `json:"data"`
}

type removeBgClient struct{ c *Client }

// NewRemoveBgClient builds the background-removal adapter. timeout should be
// derived from pollingTimeout (§5); the caller applies the retry budget.
func NewRemoveBgClient(baseURL, apiKey string, width int, timeout time.Duration, logger *slog.Logger) RemoveBgClient {
	return &removeBgClient{c: NewClient("removebg", baseURL, apiKey, width, timeout, logger)}
}

func (p *removeBgClient) RemoveBackground(ctx context.Context, req RemoveBgRequest) (RemoveBgResponse, error) {
	wireReq := removeBgWireRequest{Image: req.ImageBase64, Size: string(req.Size)}
	var wireResp removeBgWireResponse
	if err := p.c.doJSON(ctx, "remove_background", "/v1.0/removebg", wireReq, &wireResp); err != nil {
		return RemoveBgResponse{}, err
	}
	return RemoveBgResponse{ImageBase64: wireResp.Data.ResultBase64}, nil
}
