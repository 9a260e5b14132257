// Package http provides the HTTP transports of x402pay: the facilitator
// client used by the server and the paying round tripper used by callers.
package http

import (
	"context"
	"net/http"

	x402 "github.com/vellumlabs/x402pay"
)

// NewFacilitatorClient creates a new HTTP facilitator client
func NewFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	return NewHTTPFacilitatorClient(config)
}

// WrapClient wraps a standard HTTP client with x402 payment handling
func WrapClient(client *http.Client, payer *x402.PayingClient) *http.Client {
	return WrapHTTPClientWithPayment(client, payer)
}

// Post performs a paid JSON POST
func Post(ctx context.Context, url string, body []byte, payer *x402.PayingClient) (*PaidResponse, error) {
	return PostWithPayment(ctx, nil, payer, url, body, "")
}
