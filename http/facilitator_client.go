package http

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

	x402 "github.com/vellumlabs/x402pay"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient communicates with a remote facilitator over HTTP.
// Implements x402.FacilitatorClient.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// BearerAuth sends the same bearer token to every endpoint.
type BearerAuth string

// GetAuthHeaders implements AuthProvider.
func (b BearerAuth) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	h := map[string]string{"Authorization": "Bearer " + string(b)}
	return AuthHeaders{Verify: h, Settle: h, Supported: h}, nil
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration
}

// DefaultFacilitatorURL is the default public facilitator
const DefaultFacilitatorURL = "https://facilitator.payai.network"

// getSupportedRetries is the number of attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
var getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
	}
}

// URL returns the facilitator base URL.
func (c *HTTPFacilitatorClient) URL() string {
	return c.url
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Verify asks the facilitator whether payload satisfies requirements.
// An invalid payment answered with 200 is returned as IsValid=false, not an error.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	resp, responseBody, err := c.post(ctx, "/verify", payload, requirements, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return nil, err
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, &x402.VerifyError{
			Reason: fmt.Sprintf("failed to unmarshal verify response: %s", err.Error()),
			Status: resp.StatusCode,
		}
	}

	// For non-200 responses, return an error with the details from the response
	if resp.StatusCode != http.StatusOK {
		reason := verifyResponse.InvalidReason
		if reason == "" {
			reason = string(responseBody)
		}
		return nil, &x402.VerifyError{
			Reason: reason,
			Payer:  verifyResponse.Payer,
			Status: resp.StatusCode,
		}
	}

	return &verifyResponse, nil
}

// Settle asks the facilitator to co-sign and submit the transaction.
// It is attempted exactly once; a second submission could move funds twice.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	resp, responseBody, err := c.post(ctx, "/settle", payload, requirements, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return nil, err
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return nil, &x402.SettleError{
			Reason: fmt.Sprintf("failed to unmarshal settle response: %s", string(responseBody)),
			Status: resp.StatusCode,
		}
	}

	if resp.StatusCode != http.StatusOK || !settleResponse.Success {
		reason := settleResponse.ErrorReason
		if reason == "" {
			reason = string(responseBody)
		}
		return nil, &x402.SettleError{
			Reason:      reason,
			Payer:       settleResponse.Payer,
			Network:     settleResponse.Network,
			Transaction: settleResponse.Transaction,
			Status:      resp.StatusCode,
		}
	}

	return &settleResponse, nil
}

// GetSupported gets supported payment kinds.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (*x402.SupportedResponse, error) {
	var lastErr error

	for attempt := 0; attempt < getSupportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		if err := c.addAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return nil, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return &supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		return nil, lastErr
	}

	return nil, lastErr
}

// SupportedNetworks lists the networks the facilitator settles.
func (c *HTTPFacilitatorClient) SupportedNetworks(ctx context.Context) ([]string, error) {
	supported, err := c.GetSupported(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(supported.Kinds))
	networks := make([]string, 0, len(supported.Kinds))
	for _, kind := range supported.Kinds {
		if !seen[kind.Network] {
			seen[kind.Network] = true
			networks = append(networks, kind.Network)
		}
	}
	return networks, nil
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) post(
	ctx context.Context,
	path string,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
	headers func(AuthHeaders) map[string]string,
) (*http.Response, []byte, error) {
	body, err := json.Marshal(x402.FacilitatorRequest{
		X402Version:         x402.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.addAuth(ctx, req, headers); err != nil {
		return nil, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, responseBody, nil
}

func (c *HTTPFacilitatorClient) addAuth(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}

var _ x402.FacilitatorClient = (*HTTPFacilitatorClient)(nil)
