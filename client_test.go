package x402

import (
	"context"
	"errors"
	"testing"
)

// Mock scheme client for testing
type mockSchemeNetworkClient struct {
	scheme  string
	network string
	calls   int
	err     error
}

func (m *mockSchemeNetworkClient) Scheme() string {
	return m.scheme
}

func (m *mockSchemeNetworkClient) Network() string {
	return m.network
}

func (m *mockSchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error) {
	m.calls++
	if m.err != nil {
		return PaymentPayload{}, m.err
	}
	return PaymentPayload{
		X402Version: X402Version,
		Scheme:      m.scheme,
		Network:     m.network,
		Payload:     ExactSvmPayload{Transaction: "signed-" + requirements.MaxAmountRequired},
	}, nil
}

func requirementFor(network, amount string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           network,
		MaxAmountRequired: amount,
		PayTo:             testPayTo,
		Asset:             testMint,
		MaxTimeoutSeconds: 600,
		Extra:             &RequirementsExtra{FeePayer: testFeePayer},
	}
}

func TestNewPayingClient(t *testing.T) {
	client := NewPayingClient()
	if client == nil {
		t.Fatal("Expected client to be created")
	}
	if client.schemes == nil {
		t.Fatal("Expected schemes map to be initialized")
	}
	if client.CanPay([]PaymentRequirements{requirementFor("solana", "1")}) {
		t.Error("Expected empty client to pay nothing")
	}
}

func TestClientSelectPaymentRequirements(t *testing.T) {
	devnet := &mockSchemeNetworkClient{scheme: "exact", network: "solana-devnet"}
	client := NewPayingClient(WithScheme(devnet))

	selected, err := client.SelectPaymentRequirements([]PaymentRequirements{
		requirementFor("solana", "1000"),
		requirementFor("solana-devnet", "2000"),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Network != "solana-devnet" {
		t.Errorf("Expected devnet requirement, got %s", selected.Network)
	}

	_, err = client.SelectPaymentRequirements([]PaymentRequirements{requirementFor("solana", "1000")})
	if !errors.Is(err, ErrUnsupportedRequirement) {
		t.Errorf("Expected ErrUnsupportedRequirement, got %v", err)
	}

	_, err = client.SelectPaymentRequirements(nil)
	if !errors.Is(err, ErrNoRequirements) {
		t.Errorf("Expected ErrNoRequirements, got %v", err)
	}
}

func TestClientSelectWithCustomSelector(t *testing.T) {
	mech := &mockSchemeNetworkClient{scheme: "exact", network: "solana"}
	client := NewPayingClient(
		WithScheme(mech),
		WithPaymentSelector(func(reqs []PaymentRequirements) PaymentRequirements {
			return reqs[len(reqs)-1]
		}),
	)

	selected, err := client.SelectPaymentRequirements([]PaymentRequirements{
		requirementFor("solana", "1"),
		requirementFor("solana", "2"),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.MaxAmountRequired != "2" {
		t.Errorf("Expected custom selector to pick the last, got %s", selected.MaxAmountRequired)
	}
}

func TestClientPaymentLimit(t *testing.T) {
	mech := &mockSchemeNetworkClient{scheme: "exact", network: "solana"}
	client := NewPayingClient(WithScheme(mech), WithPaymentLimit("50000"))

	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{"below", "30000", nil},
		{"equal", "50000", nil},
		{"above", "50001", ErrAmountExceedsLimit},
		{"not a number", "abc", ErrAmountExceedsLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CreatePaymentPayload(context.Background(), requirementFor("solana", tt.amount))
			if tt.wantErr == nil && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	_, err := client.SelectPaymentRequirements([]PaymentRequirements{requirementFor("solana", "90000")})
	if !errors.Is(err, ErrAmountExceedsLimit) {
		t.Errorf("Expected selection to report the limit, got %v", err)
	}
}

func TestClientCreatePaymentForRequired(t *testing.T) {
	mech := &mockSchemeNetworkClient{scheme: "exact", network: "solana"}
	client := NewPayingClient(WithScheme(mech))

	payload, selected, err := client.CreatePaymentForRequired(context.Background(), PaymentRequired{
		X402Version: 1,
		Accepts:     []PaymentRequirements{requirementFor("solana", "30000")},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if payload.Payload.Transaction != "signed-30000" {
		t.Errorf("Unexpected payload %+v", payload)
	}
	if selected.MaxAmountRequired != "30000" {
		t.Errorf("Unexpected selection %+v", selected)
	}

	_, _, err = client.CreatePaymentForRequired(context.Background(), PaymentRequired{X402Version: 2})
	if err == nil {
		t.Error("Expected error for unsupported version")
	}
}

func TestClientMechanismError(t *testing.T) {
	mech := &mockSchemeNetworkClient{scheme: "exact", network: "solana", err: ErrUninitializedAccount}
	client := NewPayingClient(WithScheme(mech))

	_, err := client.CreatePaymentPayload(context.Background(), requirementFor("solana", "1"))
	if !errors.Is(err, ErrUninitializedAccount) {
		t.Errorf("Expected mechanism error, got %v", err)
	}
	if mech.calls != 1 {
		t.Errorf("Expected one call, got %d", mech.calls)
	}
}
