package x402

import (
	"context"
)

// FacilitatorClient talks to the external service that verifies and settles payments.
//
// Verify reports facilitator-side invalidity through VerifyResponse.IsValid;
// an error means the facilitator could not be asked. Settle returns an error
// for any response that did not move funds and must never be retried blindly.
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
	GetSupported(ctx context.Context) (*SupportedResponse, error)
}

// SchemeNetworkClient builds payment proofs on the caller side.
type SchemeNetworkClient interface {
	Scheme() string
	Network() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error)
}
