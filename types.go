package x402

import (
	"bytes"
	"encoding/json"
)

// X402Version is the protocol version spoken on the wire.
const X402Version = 1

// SchemeExact is the only payment scheme supported: transfer exactly the required amount.
const SchemeExact = "exact"

// Header names used by the payment handshake.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderIdempotencyKey  = "Idempotency-Key"
)

// DefaultMaxTimeoutSeconds bounds how long an offer may take to be paid.
const DefaultMaxTimeoutSeconds = 600

// RequirementsExtra carries scheme specific data attached to a requirement.
type RequirementsExtra struct {
	TokenSymbol string `json:"tokenSymbol,omitempty"`
	TokenName   string `json:"tokenName,omitempty"`
	// FeePayer is the facilitator account that co-signs and pays network fees.
	FeePayer string `json:"feePayer,omitempty"`
}

// PaymentRequirements describes the one payment that satisfies a request.
// The JSON field order is the canonical form sent to the facilitator and
// must be reproduced exactly between the 402 offer and verify/settle.
type PaymentRequirements struct {
	Scheme            string             `json:"scheme"`
	Network           string             `json:"network"`
	MaxAmountRequired string             `json:"maxAmountRequired"`
	Resource          string             `json:"resource"`
	Description       string             `json:"description"`
	MimeType          string             `json:"mimeType"`
	PayTo             string             `json:"payTo"`
	MaxTimeoutSeconds int                `json:"maxTimeoutSeconds"`
	Asset             string             `json:"asset"`
	Extra             *RequirementsExtra `json:"extra,omitempty"`
}

// FeePayer returns extra.feePayer or the empty string.
func (r PaymentRequirements) FeePayer() string {
	if r.Extra == nil {
		return ""
	}
	return r.Extra.FeePayer
}

// ExactSvmPayload is the scheme payload of an exact Solana payment.
type ExactSvmPayload struct {
	// Transaction is the base64 encoded, partially signed transaction.
	Transaction string `json:"transaction"`
}

// PaymentPayload is the proof carried in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactSvmPayload `json:"payload"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// FacilitatorRequest is the body sent to the facilitator's /verify and /settle.
type FacilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to /settle.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	// Transaction is the settlement identifier, the on-chain signature.
	Transaction string `json:"transaction"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind is one entry of the facilitator's /supported response.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists the payment kinds a facilitator accepts.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// FeePayers maps network to the fee payer advertised for it.
// Kinds without a string feePayer are skipped.
func (s SupportedResponse) FeePayers() map[string]string {
	out := make(map[string]string, len(s.Kinds))
	for _, kind := range s.Kinds {
		if kind.Extra == nil {
			continue
		}
		if feePayer, ok := kind.Extra["feePayer"].(string); ok && feePayer != "" {
			out[kind.Network] = feePayer
		}
	}
	return out
}

// PaymentResponse is the decoded X-PAYMENT-RESPONSE header.
type PaymentResponse struct {
	Success bool `json:"success"`
	// TxSig is the settlement identifier.
	TxSig     string `json:"txSig"`
	SignedURL string `json:"signedUrl,omitempty"`
}

// RequirementsEqual reports whether two requirements serialize to the same bytes.
func RequirementsEqual(a, b PaymentRequirements) bool {
	aBytes, errA := json.Marshal(a)
	bBytes, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aBytes, bBytes)
}
