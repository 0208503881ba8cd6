// Package providers holds thin HTTP clients for the external generation,
// background-removal, and LLM vision services the pipeline calls. Clients
// report failures as *resilience.ExternalServiceError; the pipeline stages
// wrap their calls in resilience.WithRetry. Each client's calls are
// rate-limited by a token bucket sized from the width it is given.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ascensum/genimagefactory/internal/resilience"
)

// Client is a small JSON-over-HTTP client shared by every provider adapter,
// grounded on the teacher's HTTPLLMClient shape.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a provider client whose JSON calls are rate-limited to
// width requests per second with a burst of width (internal/wiring passes
// Worker.MaxPoolSize). The number of requests in flight at once is not
// capped, and download calls are not rate-limited.
func NewClient(name, baseURL, apiKey string, width int, timeout time.Duration, logger *slog.Logger) *Client {
	if width < 1 {
		width = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(width), width),
		logger:  logger.With("component", "providers."+name),
	}
}

// doJSON issues a POST with a JSON body, decodes a JSON response, and
// translates non-2xx responses into *resilience.ExternalServiceError so
// callers can apply the retry policy uniformly.
func (c *Client) doJSON(ctx context.Context, op, path string, reqBody, respBody any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &resilience.ExternalServiceError{Provider: c.name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &resilience.ExternalServiceError{Provider: c.name, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &resilience.ExternalServiceError{
			Provider:   c.name,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(body)),
		}
	}

	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// download fetches a URL to w, honoring ctx cancellation; it does not
// retry internally (the pipeline's Download stage owns retry policy).
func (c *Client) download(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &resilience.ExternalServiceError{Provider: c.name, Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &resilience.ExternalServiceError{Provider: c.name, Op: "download", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
