package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	x402 "github.com/vellumlabs/x402pay"
)

type stubScheme struct {
	network string
	calls   int32
}

func (s *stubScheme) Scheme() string  { return "exact" }
func (s *stubScheme) Network() string { return s.network }

func (s *stubScheme) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	atomic.AddInt32(&s.calls, 1)
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     s.network,
		Payload:     x402.ExactSvmPayload{Transaction: "signed:" + requirements.MaxAmountRequired},
	}, nil
}

// paidServer answers 402 until a payment arrives, then echoes the request body.
func paidServer(t *testing.T, amount string) (*httptest.Server, *int32) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		body, _ := io.ReadAll(r.Body)

		header := r.Header.Get(x402.HeaderPayment)
		if header == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(x402.PaymentRequired{
				X402Version: 1,
				Accepts: []x402.PaymentRequirements{{
					Scheme:            "exact",
					Network:           "solana-devnet",
					MaxAmountRequired: amount,
					PayTo:             "recipient",
					Asset:             "mint",
					Extra:             &x402.RequirementsExtra{FeePayer: "fee"},
				}},
			})
			return
		}

		payload, err := x402.DecodePaymentHeader(header)
		if err != nil {
			t.Errorf("Invalid payment header: %v", err)
		}
		if payload.Payload.Transaction != "signed:"+amount {
			t.Errorf("Unexpected transaction %s", payload.Payload.Transaction)
		}
		if r.Header.Get(x402.HeaderIdempotencyKey) != "order-1" {
			t.Errorf("Expected idempotency key to be forwarded")
		}

		resp, _ := x402.EncodePaymentResponse(x402.PaymentResponse{Success: true, TxSig: "5sig"})
		w.Header().Set(x402.HeaderPaymentResponse, resp)
		w.Write(body)
	}))
	return server, &requests
}

func TestPostWithPayment(t *testing.T) {
	server, requests := paidServer(t, "30000")
	defer server.Close()

	scheme := &stubScheme{network: "solana-devnet"}
	payer := x402.NewPayingClient(x402.WithScheme(scheme))

	resp, err := PostWithPayment(context.Background(), nil, payer, server.URL, []byte(`{"url":"https://example.com"}`), "order-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"url":"https://example.com"}` {
		t.Errorf("Expected body to be replayed on the paid request, got %s", resp.Body)
	}
	if resp.Payment == nil || resp.Payment.TxSig != "5sig" {
		t.Errorf("Unexpected payment response %+v", resp.Payment)
	}
	if *requests != 2 {
		t.Errorf("Expected 2 requests, got %d", *requests)
	}
	if scheme.calls != 1 {
		t.Errorf("Expected one payment, got %d", scheme.calls)
	}
}

func TestPostWithPaymentOverLimit(t *testing.T) {
	server, requests := paidServer(t, "900000")
	defer server.Close()

	scheme := &stubScheme{network: "solana-devnet"}
	payer := x402.NewPayingClient(x402.WithScheme(scheme), x402.WithPaymentLimit("100000"))

	if _, err := PostWithPayment(context.Background(), nil, payer, server.URL, []byte(`{}`), "order-1"); err == nil {
		t.Fatal("Expected error above the payment limit")
	}
	if *requests != 1 {
		t.Errorf("Expected no paid retry, got %d requests", *requests)
	}
	if scheme.calls != 0 {
		t.Errorf("Expected nothing to be signed, got %d", scheme.calls)
	}
}

func TestRoundTripperPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("free"))
	}))
	defer server.Close()

	scheme := &stubScheme{network: "solana-devnet"}
	client := WrapClient(nil, x402.NewPayingClient(x402.WithScheme(scheme)))

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "free" {
		t.Errorf("Unexpected body %s", body)
	}
	if scheme.calls != 0 {
		t.Error("Expected no payment for a free resource")
	}
}
