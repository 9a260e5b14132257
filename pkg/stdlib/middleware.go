// Package stdlib serves the payment pipeline on a plain net/http mux, for
// callers that do not use gin.
package stdlib

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	x402 "github.com/vellumlabs/x402pay"
)

// PaymentHandlerOptions is the options for PaymentHandler.
type PaymentHandlerOptions struct {
	// SKU fixes the product for the route. When empty the "sku" query
	// parameter is used.
	SKU          string
	Model        string
	MaxBodyBytes int64
	AllowOrigin  string
	// Operation names the server span.
	Operation string
}

// Options is the type for the options for PaymentHandler.
type Options func(*PaymentHandlerOptions)

// WithSKU is an option for the PaymentHandler to sell a single SKU.
func WithSKU(sku string) Options {
	return func(options *PaymentHandlerOptions) {
		options.SKU = sku
	}
}

// WithModel is an option for the PaymentHandler to set the model used when
// the request names none.
func WithModel(model string) Options {
	return func(options *PaymentHandlerOptions) {
		options.Model = model
	}
}

// WithMaxBodyBytes is an option for the PaymentHandler to cap request bodies.
func WithMaxBodyBytes(n int64) Options {
	return func(options *PaymentHandlerOptions) {
		options.MaxBodyBytes = n
	}
}

// WithAllowOrigin is an option for the PaymentHandler to answer CORS requests.
func WithAllowOrigin(origin string) Options {
	return func(options *PaymentHandlerOptions) {
		options.AllowOrigin = origin
	}
}

func WithOperation(name string) Options {
	return func(options *PaymentHandlerOptions) {
		options.Operation = name
	}
}

// PaymentHandler answers paid requests with the orchestrator: a 402 offer
// without X-PAYMENT, the fulfilled result once the payment settles.
func PaymentHandler(o *x402.PaymentOrchestrator, opts ...Options) http.Handler {
	options := &PaymentHandlerOptions{
		MaxBodyBytes: 15 << 20,
		Operation:    "x402.pay",
	}
	for _, opt := range opts {
		opt(options)
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if options.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", options.AllowOrigin)
			w.Header().Set("Access-Control-Expose-Headers", x402.HeaderPaymentResponse)
		}
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+x402.HeaderPayment+", "+x402.HeaderIdempotencyKey)
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, options.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeErrorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			writeErrorResponse(w, http.StatusBadRequest, "Failed to read request body")
			return
		}

		query := r.URL.Query()
		sku := options.SKU
		if sku == "" {
			sku = query.Get("sku")
		}
		model := query.Get("model")
		if model == "" {
			model = options.Model
		}

		result := o.Handle(r.Context(), x402.PayRequest{
			SKU:            sku,
			Model:          model,
			QuoteID:        query.Get("quoteId"),
			IdempotencyKey: r.Header.Get(x402.HeaderIdempotencyKey),
			Body:           body,
			Header:         r.Header,
		})
		writeResult(w, result)
	})

	return otelhttp.NewHandler(h, options.Operation)
}

func writeResult(w http.ResponseWriter, result *x402.PayResult) {
	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if raw, ok := result.Body.(json.RawMessage); ok {
		w.WriteHeader(result.Status)
		w.Write(raw)
		return
	}
	w.WriteHeader(result.Status)
	json.NewEncoder(w).Encode(result.Body)
}

// writeErrorResponse writes an error response with the given status code and message.
func writeErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       errorMsg,
		"x402Version": x402.X402Version,
	})
}
