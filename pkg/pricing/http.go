package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPEstimator delegates pricing to an external service that answers
// POST {url} with {atomic, usd, breakdown}.
type HTTPEstimator struct {
	url        string
	httpClient *http.Client
}

// NewHTTPEstimator creates an estimator posting to url.
func NewHTTPEstimator(url string, timeout time.Duration) *HTTPEstimator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEstimator{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (h *HTTPEstimator) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal estimate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("estimate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read estimate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("estimator returned %d: %s", resp.StatusCode, string(respBody))
	}

	var est Estimate
	if err := json.Unmarshal(respBody, &est); err != nil {
		return nil, fmt.Errorf("failed to decode estimate: %w", err)
	}
	return &est, nil
}
