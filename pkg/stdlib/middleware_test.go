package stdlib

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	x402 "github.com/vellumlabs/x402pay"
	"github.com/vellumlabs/x402pay/pkg/catalog"
	"github.com/vellumlabs/x402pay/pkg/fulfillment"
	"github.com/vellumlabs/x402pay/test/mocks/cash"
)

func newHandler(t *testing.T, opts ...Options) (http.Handler, *cash.Facilitator) {
	t.Helper()
	facilitator := cash.NewFacilitator("solana-devnet")
	offers := x402.NewOfferBuilder(facilitator, x402.OfferConfig{
		Network: "solana-devnet",
		Asset:   "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		PayTo:   "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		BaseURL: "https://api.example.com",
	})
	fulfiller := fulfillment.FulfillerFunc(func(ctx context.Context, job fulfillment.Job) (map[string]interface{}, error) {
		return map[string]interface{}{"text": "extracted"}, nil
	})
	o := x402.NewPaymentOrchestrator(offers, facilitator, catalog.Default(), fulfiller)
	return PaymentHandler(o, opts...), facilitator
}

func TestPaymentHandlerOffer(t *testing.T) {
	h, _ := newHandler(t, WithSKU("pdf2txt"))

	req := httptest.NewRequest(http.MethodPost, "/pdf2txt", strings.NewReader(`{"pdfUrl":"https://example.com/a.pdf"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", w.Code)
	}
	var body x402.PaymentRequired
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid body: %v", err)
	}
	if len(body.Accepts) != 1 || body.Accepts[0].MaxAmountRequired != "40000" {
		t.Errorf("Unexpected offer %+v", body.Accepts)
	}
	if !strings.Contains(body.Accepts[0].Resource, "sku=pdf2txt") {
		t.Errorf("Expected resource for pdf2txt, got %s", body.Accepts[0].Resource)
	}
}

func TestPaymentHandlerPaid(t *testing.T) {
	h, facilitator := newHandler(t, WithSKU("pdf2txt"), WithAllowOrigin("*"))

	offer := httptest.NewRecorder()
	h.ServeHTTP(offer, httptest.NewRequest(http.MethodPost, "/pdf2txt", strings.NewReader(`{"pdfUrl":"https://example.com/a.pdf"}`)))
	var required x402.PaymentRequired
	json.Unmarshal(offer.Body.Bytes(), &required)

	payload, _ := cash.NewSchemeNetworkClient("carol", "solana-devnet").CreatePaymentPayload(context.Background(), required.Accepts[0])
	header, err := x402.EncodePaymentHeader(payload)
	if err != nil {
		t.Fatalf("Failed to encode payment: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pdf2txt", strings.NewReader(`{"pdfUrl":"https://example.com/a.pdf"}`))
	req.Header.Set(x402.HeaderPayment, header)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp, err := x402.DecodePaymentResponse(w.Header().Get(x402.HeaderPaymentResponse))
	if err != nil {
		t.Fatalf("Invalid payment response: %v", err)
	}
	if !resp.Success || resp.TxSig != "cash1" {
		t.Errorf("Unexpected payment response %+v", resp)
	}
	if w.Header().Get("Access-Control-Expose-Headers") != x402.HeaderPaymentResponse {
		t.Error("Expected payment response header to be exposed")
	}
	if facilitator.Settled() != 1 {
		t.Errorf("Expected one settlement, got %d", facilitator.Settled())
	}
}

func TestPaymentHandlerMethods(t *testing.T) {
	h, _ := newHandler(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pay?sku=urlsum", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/pay", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
}

func TestPaymentHandlerBodyLimit(t *testing.T) {
	h, _ := newHandler(t, WithMaxBodyBytes(8))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pay?sku=urlsum", strings.NewReader(`{"url":"https://example.com"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}
