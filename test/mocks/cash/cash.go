// Package cash is an in-process payment rail for tests. Its "transactions"
// are readable strings instead of signed Solana messages, and its
// facilitator verifies and settles them without a network.
package cash

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	x402 "github.com/vellumlabs/x402pay"
	"github.com/vellumlabs/x402pay/mechanisms/svm"
)

// FeePayer is advertised by the facilitator for every network it supports.
const FeePayer = "CashFeePayer1111111111111111111111111111111"

// ============================================================================
// Cash Scheme Network Client
// ============================================================================

// SchemeNetworkClient pays requirements with cash transactions.
type SchemeNetworkClient struct {
	payer   string
	network string
}

// NewSchemeNetworkClient creates a new cash scheme client
func NewSchemeNetworkClient(payer, network string) *SchemeNetworkClient {
	return &SchemeNetworkClient{
		payer:   payer,
		network: network,
	}
}

func (c *SchemeNetworkClient) Scheme() string {
	return x402.SchemeExact
}

func (c *SchemeNetworkClient) Network() string {
	return c.network
}

// CreatePaymentPayload creates a payment payload for the cash scheme
func (c *SchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	validUntil := time.Now().Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix()

	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     c.network,
		Payload: x402.ExactSvmPayload{
			Transaction: Transaction(c.payer, requirements.PayTo, requirements.MaxAmountRequired, validUntil),
		},
	}, nil
}

// Transaction encodes a cash transfer.
func Transaction(payer, payTo, amount string, validUntil int64) string {
	raw := strings.Join([]string{"~" + payer, payTo, amount, strconv.FormatInt(validUntil, 10)}, "|")
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

type transfer struct {
	signature  string
	payer      string
	payTo      string
	amount     string
	validUntil int64
}

func parseTransaction(encoded string) (*transfer, string) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "invalid_transaction"
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return nil, "invalid_transaction"
	}
	validUntil, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, "invalid_validUntil"
	}
	return &transfer{
		signature:  parts[0],
		payer:      strings.TrimPrefix(parts[0], "~"),
		payTo:      parts[1],
		amount:     parts[2],
		validUntil: validUntil,
	}, ""
}

// ============================================================================
// Cash Facilitator
// ============================================================================

// Facilitator implements x402.FacilitatorClient for cash transactions.
// A transaction settles at most once.
type Facilitator struct {
	networks []string

	mu      sync.Mutex
	settled map[string]string

	seq         int64
	VerifyCalls int32
	SettleCalls int32
}

// NewFacilitator creates a facilitator supporting the given v1 networks.
func NewFacilitator(networks ...string) *Facilitator {
	if len(networks) == 0 {
		networks = []string{"solana-devnet"}
	}
	return &Facilitator{
		networks: networks,
		settled:  make(map[string]string),
	}
}

// Verify verifies a payment payload against requirements
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	atomic.AddInt32(&f.VerifyCalls, 1)
	return f.verify(payload, requirements), nil
}

func (f *Facilitator) verify(payload x402.PaymentPayload, requirements x402.PaymentRequirements) *x402.VerifyResponse {
	t, reason := parseTransaction(payload.Payload.Transaction)
	if reason != "" {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: reason}
	}

	if t.signature != "~"+t.payer || t.payer == "" {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}
	}
	if t.payTo != requirements.PayTo {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "recipient_mismatch", Payer: t.payer}
	}
	if cmp, err := svm.CompareAtomic(t.amount, requirements.MaxAmountRequired); err != nil || cmp < 0 {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_amount", Payer: t.payer}
	}
	if t.validUntil < time.Now().Unix() {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "expired_signature", Payer: t.payer}
	}

	f.mu.Lock()
	_, spent := f.settled[payload.Payload.Transaction]
	f.mu.Unlock()
	if spent {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "duplicate_transaction", Payer: t.payer}
	}

	return &x402.VerifyResponse{IsValid: true, Payer: t.payer}
}

// Settle settles a payment based on the payload and requirements
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	atomic.AddInt32(&f.SettleCalls, 1)

	verifyResponse := f.verify(payload, requirements)
	if !verifyResponse.IsValid {
		return nil, &x402.SettleError{
			Status: 400,
			Reason: verifyResponse.InvalidReason,
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, spent := f.settled[payload.Payload.Transaction]; spent {
		return nil, &x402.SettleError{Status: 400, Reason: "duplicate_transaction"}
	}
	sig := fmt.Sprintf("cash%d", atomic.AddInt64(&f.seq, 1))
	f.settled[payload.Payload.Transaction] = sig

	return &x402.SettleResponse{
		Success:     true,
		Transaction: sig,
		Network:     requirements.Network,
		Payer:       verifyResponse.Payer,
	}, nil
}

// GetSupported lists the cash networks with the shared fee payer.
func (f *Facilitator) GetSupported(ctx context.Context) (*x402.SupportedResponse, error) {
	kinds := make([]x402.SupportedKind, 0, len(f.networks))
	for _, network := range f.networks {
		kinds = append(kinds, x402.SupportedKind{
			X402Version: x402.X402Version,
			Scheme:      x402.SchemeExact,
			Network:     network,
			Extra:       map[string]interface{}{"feePayer": FeePayer},
		})
	}
	return &x402.SupportedResponse{Kinds: kinds}, nil
}

// Settled reports how many distinct transactions were settled.
func (f *Facilitator) Settled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.settled)
}

// Handler serves the facilitator's HTTP API: GET /supported, POST /verify
// and POST /settle.
func (f *Facilitator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/supported", func(w http.ResponseWriter, r *http.Request) {
		supported, _ := f.GetSupported(r.Context())
		writeJSON(w, http.StatusOK, supported)
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		var req x402.FacilitatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, x402.VerifyResponse{InvalidReason: "invalid_request"})
			return
		}
		resp, _ := f.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("/settle", func(w http.ResponseWriter, r *http.Request) {
		var req x402.FacilitatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, x402.SettleResponse{ErrorReason: "invalid_request"})
			return
		}
		resp, err := f.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
		var settleErr *x402.SettleError
		if errors.As(err, &settleErr) {
			writeJSON(w, settleErr.Status, x402.SettleResponse{
				Success:     false,
				ErrorReason: settleErr.Reason,
				Network:     req.PaymentRequirements.Network,
			})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var _ x402.FacilitatorClient = (*Facilitator)(nil)
var _ x402.SchemeNetworkClient = (*SchemeNetworkClient)(nil)
