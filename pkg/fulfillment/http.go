package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// HTTPWorker hands jobs to a worker service at POST {baseURL}/{sku}.
// The worker answers 200 with a JSON object of result fields.
type HTTPWorker struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPWorker creates a worker client. Jobs may run long; timeout bounds each call.
func NewHTTPWorker(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPWorker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWorker{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (w *HTTPWorker) Fulfill(ctx context.Context, job Job) (map[string]interface{}, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/"+string(job.SKU), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Workers may deduplicate on the paying transaction.
	req.Header.Set("Idempotency-Key", job.SettlementID)

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}

	w.logger.Debug("worker responded",
		zap.String("sku", string(job.SKU)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, truncate(respBody, 512))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
