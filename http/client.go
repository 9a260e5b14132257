package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/vellumlabs/x402pay"
)

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment wraps a standard HTTP client with x402 payment handling.
// A 402 answer is paid once and the request retried with the X-PAYMENT header.
func WrapHTTPClientWithPayment(client *http.Client, payer *x402.PayingClient) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	wrapped := *client

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	wrapped.Transport = &PaymentRoundTripper{
		Transport: originalTransport,
		payer:     payer,
	}

	return &wrapped
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	payer     *x402.PayingClient
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// The body is sent twice; buffer it unless the request can replay it.
	var body []byte
	if req.Body != nil && req.GetBody == nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(x402.HeaderPayment) != "" {
		return resp, nil
	}

	responseBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	var paymentRequired x402.PaymentRequired
	if err := json.Unmarshal(responseBody, &paymentRequired); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	ctx := req.Context()
	payload, _, err := t.payer.CreatePaymentForRequired(ctx, paymentRequired)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment requirements: %w", err)
	}

	header, err := x402.EncodePaymentHeader(payload)
	if err != nil {
		return nil, err
	}

	paymentReq := req.Clone(ctx)
	if req.GetBody != nil {
		paymentReq.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
	}
	paymentReq.Header.Set(x402.HeaderPayment, header)

	return t.Transport.RoundTrip(paymentReq)
}

// ============================================================================
// Convenience Methods
// ============================================================================

// PaidResponse is the outcome of a paid call.
type PaidResponse struct {
	StatusCode int
	Body       []byte
	// Payment is the decoded X-PAYMENT-RESPONSE header, nil when absent.
	Payment *x402.PaymentResponse
}

// DoWithPayment performs an HTTP request with automatic payment handling
func DoWithPayment(ctx context.Context, client *http.Client, payer *x402.PayingClient, req *http.Request) (*PaidResponse, error) {
	resp, err := WrapHTTPClientWithPayment(client, payer).Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &PaidResponse{StatusCode: resp.StatusCode, Body: body}
	if header := resp.Header.Get(x402.HeaderPaymentResponse); header != "" {
		payment, err := x402.DecodePaymentResponse(header)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header: %w", x402.HeaderPaymentResponse, err)
		}
		out.Payment = payment
	}
	return out, nil
}

// PostWithPayment POSTs a JSON body with automatic payment handling
func PostWithPayment(ctx context.Context, client *http.Client, payer *x402.PayingClient, url string, body []byte, idempotencyKey string) (*PaidResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(x402.HeaderIdempotencyKey, idempotencyKey)
	}
	return DoWithPayment(ctx, client, payer, req)
}
