package x402

import (
	"errors"
	"fmt"
	"net/http"
)

// Caller side errors raised while building a payment.
var (
	ErrMissingFeePayer        = errors.New("x402: feePayer is required in paymentRequirements.extra")
	ErrNetworkMismatch        = errors.New("x402: requirement network does not match client network")
	ErrUninitializedAccount   = errors.New("x402: source token account does not exist")
	ErrInvalidAmount          = errors.New("x402: invalid amount")
	ErrAmountExceedsLimit     = errors.New("x402: amount exceeds payment limit")
	ErrNoRequirements         = errors.New("x402: 402 response carried no payment requirements")
	ErrUnsupportedRequirement = errors.New("x402: no mechanism registered for requirement")
)

// ErrorKind classifies failures surfaced by the orchestrator.
type ErrorKind string

const (
	KindMalformedProof      ErrorKind = "malformed_proof"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindUnknownSKU          ErrorKind = "unknown_sku"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindRequirementMismatch ErrorKind = "requirement_mismatch"
	KindQuoteNotFound       ErrorKind = "quote_not_found"
	KindQuoteExpired        ErrorKind = "quote_expired"
	KindVerifyFailed        ErrorKind = "verify_failed"
	KindSettleFailed        ErrorKind = "settle_failed"
	KindFulfillError        ErrorKind = "fulfill_error"
	// KindInternal is a server failure before any funds moved.
	KindInternal            ErrorKind = "internal_error"
)

// PaymentError is a classified failure of a paid request.
type PaymentError struct {
	Kind    ErrorKind
	Message string
	Details interface{}
	// SettlementID is set once funds have moved.
	SettlementID string
	Err          error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a response status.
func (e *PaymentError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindUnknownSKU, KindInvalidInput, KindRequirementMismatch, KindMalformedProof:
		return http.StatusBadRequest
	case KindQuoteNotFound:
		return http.StatusNotFound
	case KindQuoteExpired:
		return http.StatusGone
	case KindVerifyFailed, KindSettleFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string      `json:"error"`
	Code    ErrorKind   `json:"code"`
	Details interface{} `json:"details,omitempty"`
	TxSig   string      `json:"txSig,omitempty"`
}

// Body renders the error for a response.
func (e *PaymentError) Body() ErrorBody {
	return ErrorBody{
		Error:   e.Message,
		Code:    e.Kind,
		Details: e.Details,
		TxSig:   e.SettlementID,
	}
}

// NewPaymentError creates a new payment error
func NewPaymentError(kind ErrorKind, message string, err error) *PaymentError {
	return &PaymentError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// VerifyError is returned by a facilitator that rejected /verify with a non 200 status.
type VerifyError struct {
	Reason string
	Payer  string
	Status int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("facilitator verify failed (%d): %s", e.Status, e.Reason)
}

// SettleError is returned when /settle did not move funds.
type SettleError struct {
	Reason      string
	Payer       string
	Network     string
	Transaction string
	Status      int
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("facilitator settle failed (%d): %s", e.Status, e.Reason)
}
