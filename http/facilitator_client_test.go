package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	x402 "github.com/vellumlabs/x402pay"
)

func testPayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "solana-devnet",
		Payload:     x402.ExactSvmPayload{Transaction: "AQAB"},
	}
}

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "solana-devnet",
		MaxAmountRequired: "30000",
		Resource:          "https://api.example.com/x402/pay?sku=urlsum&model=openrouter%2Fauto",
		Description:       "URL Summarizer",
		MimeType:          "application/json",
		PayTo:             "recipient",
		MaxTimeoutSeconds: 600,
		Asset:             "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Extra:             &x402.RequirementsExtra{FeePayer: "feepayer"},
	}
}

func TestNewHTTPFacilitatorClient(t *testing.T) {
	client := NewHTTPFacilitatorClient(nil)
	if client == nil {
		t.Fatal("Expected client to be created")
	}
	if client.url != DefaultFacilitatorURL {
		t.Errorf("Expected default URL %s, got %s", DefaultFacilitatorURL, client.url)
	}

	client = NewHTTPFacilitatorClient(&FacilitatorConfig{URL: "https://custom.facilitator.com/"})
	if client.URL() != "https://custom.facilitator.com" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.URL())
	}
}

func TestHTTPFacilitatorClientVerify(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("Expected path /verify, got %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		var requestBody x402.FacilitatorRequest
		if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if requestBody.X402Version != 1 {
			t.Error("Expected version 1 in request")
		}
		if !x402.RequirementsEqual(requestBody.PaymentRequirements, testRequirements()) {
			t.Errorf("Expected requirements to arrive unchanged, got %+v", requestBody.PaymentRequirements)
		}
		if requestBody.PaymentPayload.Payload.Transaction != "AQAB" {
			t.Errorf("Unexpected payload %+v", requestBody.PaymentPayload)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true, Payer: "payerWallet"})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	response, err := client.Verify(ctx, testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !response.IsValid {
		t.Error("Expected valid response")
	}
	if response.Payer != "payerWallet" {
		t.Errorf("Expected payer payerWallet, got %s", response.Payer)
	}
}

func TestHTTPFacilitatorClientVerifyInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_exact_svm_payload_transaction"})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	response, err := client.Verify(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Expected invalid payment to be a response, got error %v", err)
	}
	if response.IsValid || response.InvalidReason != "invalid_exact_svm_payload_transaction" {
		t.Errorf("Unexpected response %+v", response)
	}
}

func TestHTTPFacilitatorClientSettle(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/settle" {
			t.Errorf("Expected path /settle, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(x402.SettleResponse{
			Success:     true,
			Transaction: "5settledSig",
			Payer:       "payerWallet",
			Network:     "solana-devnet",
		})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	response, err := client.Settle(context.Background(), testPayload(), testRequirements())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if response.Transaction != "5settledSig" {
		t.Errorf("Expected transaction 5settledSig, got %s", response.Transaction)
	}
	if calls != 1 {
		t.Errorf("Expected one settle call, got %d", calls)
	}
}

func TestHTTPFacilitatorClientSettleNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
	}{
		{"server error", http.StatusInternalServerError, map[string]string{"error": "boom"}},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"error": "slow down"}},
		{"unsuccessful", http.StatusOK, x402.SettleResponse{Success: false, ErrorReason: "transaction_simulation_failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

			_, err := client.Settle(context.Background(), testPayload(), testRequirements())
			var settleErr *x402.SettleError
			if !errors.As(err, &settleErr) {
				t.Fatalf("Expected SettleError, got %v", err)
			}
			if settleErr.Status != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, settleErr.Status)
			}
			if calls != 1 {
				t.Errorf("Expected settle to be attempted once, got %d", calls)
			}
		})
	}
}

func TestHTTPFacilitatorClientGetSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" {
			t.Errorf("Expected path /supported, got %s", r.URL.Path)
		}
		if r.Method != "GET" {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(x402.SupportedResponse{Kinds: []x402.SupportedKind{
			{X402Version: 1, Scheme: "exact", Network: "solana", Extra: map[string]interface{}{"feePayer": "fpMain"}},
			{X402Version: 1, Scheme: "exact", Network: "solana-devnet", Extra: map[string]interface{}{"feePayer": "fpDev"}},
			{X402Version: 1, Scheme: "exact", Network: "solana"},
		}})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	supported, err := client.GetSupported(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	feePayers := supported.FeePayers()
	if feePayers["solana"] != "fpMain" || feePayers["solana-devnet"] != "fpDev" {
		t.Errorf("Unexpected fee payers %v", feePayers)
	}

	networks, err := client.SupportedNetworks(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(networks) != 2 || networks[0] != "solana" || networks[1] != "solana-devnet" {
		t.Errorf("Unexpected networks %v", networks)
	}
}

func TestHTTPFacilitatorClientGetSupportedRetries(t *testing.T) {
	previous := getSupportedRetryBaseDelay
	getSupportedRetryBaseDelay = time.Millisecond
	defer func() { getSupportedRetryBaseDelay = previous }()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(x402.SupportedResponse{Kinds: []x402.SupportedKind{{X402Version: 1, Scheme: "exact", Network: "solana"}}})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	supported, err := client.GetSupported(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(supported.Kinds) != 1 {
		t.Errorf("Unexpected kinds %+v", supported.Kinds)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestHTTPFacilitatorClientGetSupportedGivesUp(t *testing.T) {
	previous := getSupportedRetryBaseDelay
	getSupportedRetryBaseDelay = time.Millisecond
	defer func() { getSupportedRetryBaseDelay = previous }()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	if _, err := client.GetSupported(context.Background()); err == nil {
		t.Error("Expected error after exhausting retries")
	}
	if calls != getSupportedRetries {
		t.Errorf("Expected %d attempts, got %d", getSupportedRetries, calls)
	}
}

func TestHTTPFacilitatorClientWithAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("Expected bearer auth on %s, got %q", r.URL.Path, got)
		}
		switch r.URL.Path {
		case "/verify":
			json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true})
		case "/supported":
			json.NewEncoder(w).Encode(x402.SupportedResponse{})
		}
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL:          server.URL,
		AuthProvider: BearerAuth("secret-key"),
	})

	if _, err := client.Verify(context.Background(), testPayload(), testRequirements()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := client.GetSupported(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestHTTPFacilitatorClientErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_network", Payer: "p"})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	_, err := client.Verify(context.Background(), testPayload(), testRequirements())
	var verifyErr *x402.VerifyError
	if !errors.As(err, &verifyErr) {
		t.Fatalf("Expected VerifyError, got %v", err)
	}
	if verifyErr.Reason != "invalid_network" || verifyErr.Status != http.StatusBadRequest {
		t.Errorf("Unexpected error %+v", verifyErr)
	}

	// Unreachable facilitator
	server.Close()
	if _, err := client.Verify(context.Background(), testPayload(), testRequirements()); err == nil {
		t.Error("Expected error for unreachable facilitator")
	}
}
