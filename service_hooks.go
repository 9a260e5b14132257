package x402

import (
	"time"
)

// ============================================================================
// Orchestrator Hook Context Types
// ============================================================================

// OfferContext describes a 402 offer that was issued.
type OfferContext struct {
	SKU         string
	Model       string
	QuoteID     string
	Requirement PaymentRequirements
	Duration    time.Duration
}

// VerifyResultContext describes a finished /verify call.
// Err is set when the facilitator could not be asked.
type VerifyResultContext struct {
	SKU      string
	Result   *VerifyResponse
	Err      error
	Duration time.Duration
}

// SettleResultContext describes a finished /settle call.
type SettleResultContext struct {
	SKU      string
	Amount   string
	Result   *SettleResponse
	Err      error
	Duration time.Duration
}

// FulfillResultContext describes a fulfillment attempt after settlement.
type FulfillResultContext struct {
	SKU          string
	SettlementID string
	Err          error
	Duration     time.Duration
}

// ReplaySource says which index satisfied a replayed request.
type ReplaySource string

const (
	ReplayProof          ReplaySource = "proof"
	ReplaySettlement     ReplaySource = "settlement"
	ReplayIdempotencyKey ReplaySource = "idempotency_key"
)

// ReplayContext describes a request answered without redoing work.
type ReplayContext struct {
	SKU          string
	SettlementID string
	Source       ReplaySource
}

// ============================================================================
// Hook Function Types
// ============================================================================

type OfferHook func(OfferContext)

type VerifyHook func(VerifyResultContext)

type SettleHook func(SettleResultContext)

type FulfillHook func(FulfillResultContext)

type ReplayHook func(ReplayContext)

// Hooks groups observers of orchestrator transitions.
// Hooks run synchronously on the request goroutine and must not block.
type Hooks struct {
	Offer   []OfferHook
	Verify  []VerifyHook
	Settle  []SettleHook
	Fulfill []FulfillHook
	Replay  []ReplayHook
}

func (h *Hooks) offer(ctx OfferContext) {
	for _, hook := range h.Offer {
		hook(ctx)
	}
}

func (h *Hooks) verify(ctx VerifyResultContext) {
	for _, hook := range h.Verify {
		hook(ctx)
	}
}

func (h *Hooks) settle(ctx SettleResultContext) {
	for _, hook := range h.Settle {
		hook(ctx)
	}
}

func (h *Hooks) fulfill(ctx FulfillResultContext) {
	for _, hook := range h.Fulfill {
		hook(ctx)
	}
}

func (h *Hooks) replay(ctx ReplayContext) {
	for _, hook := range h.Replay {
		hook(ctx)
	}
}
