package x402

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vellumlabs/x402pay/extensions/idempotency"
	"github.com/vellumlabs/x402pay/extensions/quote"
	"github.com/vellumlabs/x402pay/mechanisms/svm"
	"github.com/vellumlabs/x402pay/pkg/catalog"
	"github.com/vellumlabs/x402pay/pkg/fulfillment"
	"github.com/vellumlabs/x402pay/pkg/pricing"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "openrouter/auto"

	// DefaultFulfillTimeout bounds the work done after funds moved.
	DefaultFulfillTimeout = 2 * time.Minute

	tracerName = "github.com/vellumlabs/x402pay"
)

// State is where a paid request ended.
type State string

const (
	StateRejected      State = "REJECTED"
	StateOffered       State = "OFFERED"
	StateVerifyFailed  State = "VERIFY_FAILED"
	StateSettleFailed  State = "SETTLE_FAILED"
	StateInputRejected State = "INPUT_REJECTED"
	StateFulfilled     State = "FULFILLED"
	StateFulfillError  State = "FULFILL_ERROR"
	StateReplayed      State = "REPLAYED"
)

// PayRequest is one call to the paid endpoint.
type PayRequest struct {
	SKU            string
	Model          string
	QuoteID        string
	IdempotencyKey string
	Body           []byte
	Header         http.Header
}

// PayResult is the response to send.
// Body is json.RawMessage for fulfilled and replayed requests so that a
// replay is byte-identical to the original.
type PayResult struct {
	Status       int
	Body         interface{}
	Headers      map[string]string
	State        State
	SettlementID string
}

// PaymentOrchestrator runs the 402 handshake for one request:
// price, offer, verify, settle, fulfill exactly once per settlement.
type PaymentOrchestrator struct {
	offers      *OfferBuilder
	facilitator FacilitatorClient
	catalog     *catalog.Catalog
	estimator   pricing.Estimator
	fulfiller   fulfillment.Fulfiller
	quotes      quote.Store
	records     idempotency.Store
	settlements *SettlementCache
	fulfills    singleflight.Group

	hooks          Hooks
	logger         *zap.Logger
	tracer         trace.Tracer
	fulfillTimeout time.Duration
	defaultModel   string
	now            func() time.Time
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*PaymentOrchestrator)

// WithLogger sets the event logger.
func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		o.logger = logger
	}
}

// WithTracer sets the tracer. Default is the global provider's.
func WithTracer(tracer trace.Tracer) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		o.tracer = tracer
	}
}

// WithEstimator sets the pricing collaborator.
func WithEstimator(estimator pricing.Estimator) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		o.estimator = estimator
	}
}

// WithQuoteStore sets the quote store.
func WithQuoteStore(store quote.Store) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		o.quotes = store
	}
}

// WithIdempotencyStore sets where fulfilled responses are recorded.
func WithIdempotencyStore(store idempotency.Store) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		o.records = store
	}
}

// WithSettlementCache shares a settlement cache.
func WithSettlementCache(cache *SettlementCache) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		o.settlements = cache
	}
}

// WithFulfillTimeout bounds fulfillment after settlement.
func WithFulfillTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		if timeout > 0 {
			o.fulfillTimeout = timeout
		}
	}
}

// WithDefaultModel replaces DefaultModel.
func WithDefaultModel(model string) OrchestratorOption {
	return func(o *PaymentOrchestrator) {
		if model != "" {
			o.defaultModel = model
		}
	}
}

// NewPaymentOrchestrator wires the collaborators. Stores default to in-memory ones.
func NewPaymentOrchestrator(
	offers *OfferBuilder,
	facilitator FacilitatorClient,
	c *catalog.Catalog,
	fulfiller fulfillment.Fulfiller,
	opts ...OrchestratorOption,
) *PaymentOrchestrator {
	o := &PaymentOrchestrator{
		offers:         offers,
		facilitator:    facilitator,
		catalog:        c,
		fulfiller:      fulfiller,
		logger:         zap.NewNop(),
		fulfillTimeout: DefaultFulfillTimeout,
		defaultModel:   DefaultModel,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.estimator == nil {
		o.estimator = pricing.NewStaticEstimator(c)
	}
	if o.quotes == nil {
		o.quotes = quote.NewMemoryStore(quote.DefaultTTL)
	}
	if o.records == nil {
		o.records = idempotency.NewInMemoryStore()
	}
	if o.settlements == nil {
		o.settlements = NewSettlementCache(DefaultSettlementTTL)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// ============================================================================
// Hook Registration
// ============================================================================

// OnOfferIssued registers a hook called for every 402 offer.
func (o *PaymentOrchestrator) OnOfferIssued(hook OfferHook) *PaymentOrchestrator {
	o.hooks.Offer = append(o.hooks.Offer, hook)
	return o
}

// OnVerify registers a hook called after every /verify call.
func (o *PaymentOrchestrator) OnVerify(hook VerifyHook) *PaymentOrchestrator {
	o.hooks.Verify = append(o.hooks.Verify, hook)
	return o
}

// OnSettle registers a hook called after every /settle call.
func (o *PaymentOrchestrator) OnSettle(hook SettleHook) *PaymentOrchestrator {
	o.hooks.Settle = append(o.hooks.Settle, hook)
	return o
}

// OnFulfill registers a hook called after every fulfillment attempt.
func (o *PaymentOrchestrator) OnFulfill(hook FulfillHook) *PaymentOrchestrator {
	o.hooks.Fulfill = append(o.hooks.Fulfill, hook)
	return o
}

// OnReplay registers a hook called when a request is answered from a record.
func (o *PaymentOrchestrator) OnReplay(hook ReplayHook) *PaymentOrchestrator {
	o.hooks.Replay = append(o.hooks.Replay, hook)
	return o
}

// Catalog returns the product catalog.
func (o *PaymentOrchestrator) Catalog() *catalog.Catalog {
	return o.catalog
}

// ============================================================================
// Paid Request Pipeline
// ============================================================================

// Handle runs the paid request. It never returns nil.
func (o *PaymentOrchestrator) Handle(ctx context.Context, req PayRequest) *PayResult {
	ctx, span := o.tracer.Start(ctx, "x402.pay", trace.WithAttributes(
		attribute.String("x402.sku", req.SKU),
	))
	defer span.End()
	start := o.now()

	if req.Model == "" {
		req.Model = o.defaultModel
	}
	span.SetAttributes(attribute.String("x402.model", req.Model))

	if req.SKU == "" {
		return o.reject(span, NewPaymentError(KindInvalidRequest, "SKU parameter required", nil), StateRejected)
	}
	product, err := o.catalog.Lookup(req.SKU)
	if err != nil {
		return o.reject(span, NewPaymentError(KindUnknownSKU, "Invalid SKU", err), StateRejected)
	}

	amount, perr := o.resolveAmount(ctx, product, req)
	if perr != nil {
		return o.reject(span, perr, StateRejected)
	}
	span.SetAttributes(attribute.String("x402.amount_atomic", amount))

	requirement := o.offers.BuildRequirement(ctx, amount, product.Description,
		o.offers.ResourceURL(req.SKU, req.Model, req.QuoteID))

	proof, proofErr := ParsePayment(req.Header)
	if proof == nil {
		return o.offer(span, req, requirement, proofErr, start)
	}
	span.SetAttributes(attribute.Bool("x402.proof", true))

	settlement, reused, perr := o.settle(ctx, req, proof, requirement)
	if perr != nil {
		state := StateVerifyFailed
		if perr.Kind == KindSettleFailed {
			state = StateSettleFailed
		}
		return o.reject(span, perr, state)
	}
	span.SetAttributes(attribute.String("x402.tx_sig", settlement.Transaction))

	// Funds moved. The caller going away must not stop the work it paid for.
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.fulfillTimeout)
	defer cancel()

	source := ReplaySettlement
	if reused {
		source = ReplayProof
	}
	// Requests sharing a settlement wait for one fulfillment and share its result.
	result, _, _ := o.fulfills.Do(settlement.Transaction, func() (interface{}, error) {
		return o.fulfill(workCtx, span, product, req, settlement.Transaction, source, start), nil
	})
	return result.(*PayResult)
}

// offer answers 402. A malformed proof is reported in the body and otherwise
// treated as no proof.
func (o *PaymentOrchestrator) offer(span trace.Span, req PayRequest, requirement PaymentRequirements, proofErr error, start time.Time) *PayResult {
	body := PaymentRequired{
		X402Version: X402Version,
		Accepts:     []PaymentRequirements{requirement},
	}
	if proofErr != nil {
		body.Error = "Invalid X-PAYMENT header: " + proofErr.Error()
		o.logger.Info("verify_fail",
			zap.String("sku", req.SKU),
			zap.String("reason", proofErr.Error()))
	}

	duration := o.now().Sub(start)
	o.logger.Info("402_issued",
		zap.String("sku", req.SKU),
		zap.String("model", req.Model),
		zap.String("amountAtomic", requirement.MaxAmountRequired),
		zap.String("quoteId", req.QuoteID),
		zap.Duration("duration", duration))
	o.hooks.offer(OfferContext{
		SKU:         req.SKU,
		Model:       req.Model,
		QuoteID:     req.QuoteID,
		Requirement: requirement,
		Duration:    duration,
	})
	span.SetAttributes(attribute.String("x402.state", string(StateOffered)))

	return &PayResult{
		Status: http.StatusPaymentRequired,
		Body:   body,
		State:  StateOffered,
	}
}

// resolveAmount is a pure function of (sku, model, quoteId, body) so the
// unpaid and paid requests agree on the requirement.
func (o *PaymentOrchestrator) resolveAmount(ctx context.Context, product *catalog.Product, req PayRequest) (string, *PaymentError) {
	if req.QuoteID != "" {
		q, err := o.quotes.Get(ctx, req.QuoteID)
		switch {
		case errors.Is(err, quote.ErrExpired):
			return "", NewPaymentError(KindQuoteExpired, "Quote expired", err)
		case err != nil:
			return "", NewPaymentError(KindInvalidRequest, "Invalid quoteId", err)
		}
		if q.SKU != string(product.ID) || q.Model != req.Model {
			return "", &PaymentError{
				Kind:    KindRequirementMismatch,
				Message: "Quote mismatch",
				Details: map[string]string{"quoteSku": q.SKU, "quoteModel": q.Model},
			}
		}
		return q.AmountAtomic, nil
	}

	est, err := o.estimator.Estimate(ctx, pricing.Request{
		SKU:   product.ID,
		Model: req.Model,
		Input: json.RawMessage(req.Body),
	})
	if err != nil || est == nil {
		o.logger.Warn("pricing failed, using static price",
			zap.String("sku", string(product.ID)), zap.Error(err))
		return product.PriceAtomic, nil
	}
	if cmp, err := svm.CompareAtomic(est.Atomic, "0"); err != nil || cmp <= 0 {
		o.logger.Warn("estimator returned an unusable amount, using static price",
			zap.String("sku", string(product.ID)), zap.String("amountAtomic", est.Atomic))
		return product.PriceAtomic, nil
	}
	return est.Atomic, nil
}

// settle turns a proof into a settlement, at most once per proof.
// The bool reports whether an earlier request already settled the proof.
func (o *PaymentOrchestrator) settle(ctx context.Context, req PayRequest, proof *PaymentPayload, requirement PaymentRequirements) (*SettleResponse, bool, *PaymentError) {
	key := ProofKey(proof)

	status, settled, flight := o.settlements.Begin(key)
	switch status {
	case StatusSettled:
		o.logger.Debug("proof already settled", zap.String("sku", req.SKU), zap.String("txSig", settled.Response.Transaction))
		return o.reuse(req, settled, requirement)
	case StatusInFlight:
		waited, err := o.settlements.Wait(ctx, flight)
		if err != nil {
			return nil, false, NewPaymentError(KindSettleFailed, "Payment settlement failed", err)
		}
		if waited == nil {
			return nil, false, NewPaymentError(KindVerifyFailed, "Payment verification failed",
				errors.New("concurrent attempt with the same proof failed"))
		}
		return o.reuse(req, waited, requirement)
	}

	resp, perr := o.verifyAndSettle(ctx, req, proof, requirement)
	if perr != nil {
		o.settlements.Abort(flight)
		return nil, false, perr
	}
	o.settlements.Complete(flight, Settlement{Response: *resp, Requirement: requirement})
	return resp, false, nil
}

// reuse accepts an earlier settlement of the same proof only for the
// requirement it was verified against. Any other sku, model, quote or amount
// needs a payment of its own.
func (o *PaymentOrchestrator) reuse(req PayRequest, settled *Settlement, requirement PaymentRequirements) (*SettleResponse, bool, *PaymentError) {
	if RequirementsEqual(settled.Requirement, requirement) {
		resp := settled.Response
		return &resp, true, nil
	}
	o.logger.Info("verify_fail",
		zap.String("sku", req.SKU),
		zap.String("reason", "proof settled for another requirement"),
		zap.String("txSig", settled.Response.Transaction),
		zap.String("settledResource", settled.Requirement.Resource),
		zap.String("settledAmountAtomic", settled.Requirement.MaxAmountRequired))
	return nil, false, &PaymentError{
		Kind:    KindVerifyFailed,
		Message: "Invalid payment",
		Details: "requirement_mismatch",
	}
}

func (o *PaymentOrchestrator) verifyAndSettle(ctx context.Context, req PayRequest, proof *PaymentPayload, requirement PaymentRequirements) (*SettleResponse, *PaymentError) {
	if proof.Scheme != requirement.Scheme || proof.Network != requirement.Network {
		o.logger.Info("verify_fail",
			zap.String("sku", req.SKU),
			zap.String("reason", "scheme or network mismatch"),
			zap.String("network", proof.Network))
		return nil, &PaymentError{
			Kind:    KindVerifyFailed,
			Message: "Invalid payment",
			Details: "payment is for " + proof.Scheme + " on " + proof.Network,
		}
	}

	deadline := time.Duration(requirement.MaxTimeoutSeconds) * time.Second
	if deadline <= 0 {
		deadline = DefaultMaxTimeoutSeconds * time.Second
	}

	verifyCtx, verifySpan := o.tracer.Start(ctx, "x402.verify")
	verifyCtx, cancel := context.WithTimeout(verifyCtx, deadline)
	start := o.now()
	verified, err := o.facilitator.Verify(verifyCtx, *proof, requirement)
	cancel()
	duration := o.now().Sub(start)
	o.hooks.verify(VerifyResultContext{SKU: req.SKU, Result: verified, Err: err, Duration: duration})

	if err != nil {
		verifySpan.RecordError(err)
		verifySpan.SetStatus(codes.Error, "verify failed")
		verifySpan.End()
		o.logger.Warn("error",
			zap.String("stage", "verify"),
			zap.String("sku", req.SKU),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, NewPaymentError(KindVerifyFailed, "Payment verification failed", err)
	}
	if !verified.IsValid {
		verifySpan.SetStatus(codes.Error, verified.InvalidReason)
		verifySpan.End()
		o.logger.Info("verify_fail",
			zap.String("sku", req.SKU),
			zap.String("reason", verified.InvalidReason),
			zap.String("payer", verified.Payer),
			zap.Duration("duration", duration))
		perr := NewPaymentError(KindVerifyFailed, "Invalid payment", nil)
		if verified.InvalidReason != "" {
			perr.Details = verified.InvalidReason
		}
		return nil, perr
	}
	verifySpan.End()
	o.logger.Info("verify_ok",
		zap.String("sku", req.SKU),
		zap.String("payer", verified.Payer),
		zap.Duration("duration", duration))

	// Settlement is never retried and cannot be taken back, so a caller that
	// disconnects mid-call must not abandon it.
	settleCtx, settleSpan := o.tracer.Start(context.WithoutCancel(ctx), "x402.settle")
	settleCtx, cancel = context.WithTimeout(settleCtx, deadline)
	start = o.now()
	settled, err := o.facilitator.Settle(settleCtx, *proof, requirement)
	cancel()
	duration = o.now().Sub(start)
	if err == nil && (settled == nil || !settled.Success || settled.Transaction == "") {
		reason := "settlement returned no transaction"
		if settled != nil && settled.ErrorReason != "" {
			reason = settled.ErrorReason
		}
		err = &SettleError{Reason: reason}
	}
	o.hooks.settle(SettleResultContext{
		SKU:      req.SKU,
		Amount:   requirement.MaxAmountRequired,
		Result:   settled,
		Err:      err,
		Duration: duration,
	})

	if err != nil {
		settleSpan.RecordError(err)
		settleSpan.SetStatus(codes.Error, "settle failed")
		settleSpan.End()
		o.logger.Warn("settle_fail",
			zap.String("sku", req.SKU),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, NewPaymentError(KindSettleFailed, "Payment settlement failed", err)
	}
	settleSpan.SetAttributes(attribute.String("x402.tx_sig", settled.Transaction))
	settleSpan.End()
	o.logger.Info("settle_ok",
		zap.String("sku", req.SKU),
		zap.String("txSig", settled.Transaction),
		zap.String("amountAtomic", requirement.MaxAmountRequired),
		zap.Duration("duration", duration))

	return settled, nil
}

func (o *PaymentOrchestrator) fulfill(ctx context.Context, span trace.Span, product *catalog.Product, req PayRequest, settlementID string, source ReplaySource, start time.Time) *PayResult {
	if rec := o.lookupRecord(ctx, idempotency.SettlementKey(settlementID)); rec != nil {
		return o.replay(span, req, rec, source)
	}
	if req.IdempotencyKey != "" {
		if rec := o.lookupRecord(ctx, idempotency.RequestKey(req.IdempotencyKey)); rec != nil {
			return o.replay(span, req, rec, ReplayIdempotencyKey)
		}
	}

	input, err := product.Validate(req.Body)
	if err != nil {
		perr := &PaymentError{
			Kind:         KindInvalidInput,
			Message:      err.Error(),
			SettlementID: settlementID,
			Err:          err,
		}
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			perr.Message = verr.Message
			if len(verr.Fields) > 0 {
				perr.Details = verr.Fields
			}
		}
		o.logger.Warn("error",
			zap.String("stage", "validate"),
			zap.String("sku", req.SKU),
			zap.String("txSig", settlementID),
			zap.Error(err))
		return o.reject(span, perr, StateInputRejected)
	}

	fulfillCtx, fulfillSpan := o.tracer.Start(ctx, "x402.fulfill")
	fulfillStart := o.now()
	result, err := o.fulfiller.Fulfill(fulfillCtx, fulfillment.Job{
		SKU:          product.ID,
		Model:        req.Model,
		Input:        input,
		SettlementID: settlementID,
	})
	duration := o.now().Sub(fulfillStart)
	o.hooks.fulfill(FulfillResultContext{SKU: req.SKU, SettlementID: settlementID, Err: err, Duration: duration})

	if err != nil {
		fulfillSpan.RecordError(err)
		fulfillSpan.SetStatus(codes.Error, "fulfill failed")
		fulfillSpan.End()
		o.logger.Error("error",
			zap.String("stage", "fulfill"),
			zap.String("sku", req.SKU),
			zap.String("txSig", settlementID),
			zap.Duration("duration", o.now().Sub(start)),
			zap.Error(err))
		return o.reject(span, &PaymentError{
			Kind:         KindFulfillError,
			Message:      "Internal server error",
			SettlementID: settlementID,
			Err:          err,
		}, StateFulfillError)
	}
	fulfillSpan.End()

	rec, err := o.buildRecord(settlementID, result)
	if err != nil {
		o.logger.Error("error",
			zap.String("stage", "encode"),
			zap.String("sku", req.SKU),
			zap.String("txSig", settlementID),
			zap.Error(err))
		return o.reject(span, &PaymentError{
			Kind:         KindFulfillError,
			Message:      "Internal server error",
			SettlementID: settlementID,
			Err:          err,
		}, StateFulfillError)
	}

	rec = o.storeRecord(ctx, idempotency.SettlementKey(settlementID), rec)
	if req.IdempotencyKey != "" {
		o.storeRecord(ctx, idempotency.RequestKey(req.IdempotencyKey), rec)
	}

	o.logger.Info("fulfilled",
		zap.String("sku", req.SKU),
		zap.String("txSig", settlementID),
		zap.Duration("fulfillDuration", duration),
		zap.Duration("duration", o.now().Sub(start)))
	span.SetAttributes(attribute.String("x402.state", string(StateFulfilled)))

	return &PayResult{
		Status:       rec.StatusCode,
		Body:         rec.Body,
		Headers:      rec.Headers,
		State:        StateFulfilled,
		SettlementID: settlementID,
	}
}

// buildRecord renders {success:true, txSig, ...result} and the X-PAYMENT-RESPONSE header.
func (o *PaymentOrchestrator) buildRecord(settlementID string, result map[string]interface{}) (*idempotency.Record, error) {
	body := make(map[string]interface{}, len(result)+2)
	for k, v := range result {
		body[k] = v
	}
	body["success"] = true
	body["txSig"] = settlementID

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	signedURL, _ := result["signedUrl"].(string)
	header, err := EncodePaymentResponse(PaymentResponse{
		Success:   true,
		TxSig:     settlementID,
		SignedURL: signedURL,
	})
	if err != nil {
		return nil, err
	}

	return &idempotency.Record{
		SettlementID: settlementID,
		StatusCode:   http.StatusOK,
		Body:         raw,
		Headers:      map[string]string{HeaderPaymentResponse: header},
		CreatedAt:    o.now(),
	}, nil
}

// storeRecord saves rec under key. If another request stored first, that
// record is returned so every response for the settlement is identical.
func (o *PaymentOrchestrator) storeRecord(ctx context.Context, key string, rec *idempotency.Record) *idempotency.Record {
	stored, err := o.records.PutIfAbsent(ctx, key, rec)
	if err != nil {
		o.logger.Error("failed to store idempotency record", zap.String("key", key), zap.Error(err))
		return rec
	}
	if stored {
		return rec
	}
	if existing := o.lookupRecord(ctx, key); existing != nil {
		return existing
	}
	return rec
}

func (o *PaymentOrchestrator) lookupRecord(ctx context.Context, key string) *idempotency.Record {
	rec, err := o.records.Get(ctx, key)
	if err != nil {
		o.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return rec
}

func (o *PaymentOrchestrator) replay(span trace.Span, req PayRequest, rec *idempotency.Record, source ReplaySource) *PayResult {
	o.logger.Info("fulfilled",
		zap.String("sku", req.SKU),
		zap.String("txSig", rec.SettlementID),
		zap.String("replay", string(source)))
	o.hooks.replay(ReplayContext{SKU: req.SKU, SettlementID: rec.SettlementID, Source: source})
	span.SetAttributes(
		attribute.String("x402.state", string(StateReplayed)),
		attribute.String("x402.replay_source", string(source)),
	)

	return &PayResult{
		Status:       rec.StatusCode,
		Body:         rec.Body,
		Headers:      rec.Headers,
		State:        StateReplayed,
		SettlementID: rec.SettlementID,
	}
}

func (o *PaymentOrchestrator) reject(span trace.Span, perr *PaymentError, state State) *PayResult {
	span.SetStatus(codes.Error, perr.Message)
	span.SetAttributes(
		attribute.String("x402.state", string(state)),
		attribute.String("x402.error_kind", string(perr.Kind)),
	)
	if perr.Err != nil {
		span.RecordError(perr.Err)
	}
	return &PayResult{
		Status:       perr.HTTPStatus(),
		Body:         perr.Body(),
		State:        state,
		SettlementID: perr.SettlementID,
	}
}

// ============================================================================
// Quotes and Estimates
// ============================================================================

// QuoteRequest asks for a price to be fixed.
type QuoteRequest struct {
	SKU    string                 `json:"sku"`
	Model  string                 `json:"model"`
	Input  json.RawMessage        `json:"input,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Estimate prices a request without fixing the price.
func (o *PaymentOrchestrator) Estimate(ctx context.Context, req QuoteRequest) (*pricing.Estimate, error) {
	if req.SKU == "" || req.Model == "" {
		return nil, NewPaymentError(KindInvalidRequest, "sku and model are required", nil)
	}
	product, err := o.catalog.Lookup(req.SKU)
	if err != nil {
		return nil, NewPaymentError(KindUnknownSKU, "Invalid SKU", err)
	}
	est, err := o.estimator.Estimate(ctx, pricing.Request{
		SKU:    product.ID,
		Model:  req.Model,
		Input:  req.Input,
		Params: req.Params,
	})
	if err != nil {
		return nil, NewPaymentError(KindInternal, "Failed to estimate pricing", err)
	}
	return est, nil
}

// CreateQuote prices a request and fixes the amount for the quote TTL.
func (o *PaymentOrchestrator) CreateQuote(ctx context.Context, req QuoteRequest) (*quote.Quote, error) {
	est, err := o.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}

	q := &quote.Quote{
		SKU:          req.SKU,
		Model:        req.Model,
		AmountAtomic: est.Atomic,
		USD:          est.USD,
		Breakdown:    est.Breakdown,
		Params:       req.Params,
		InputHash:    quote.HashInput(req.Input),
	}
	if _, err := o.quotes.Save(ctx, q); err != nil {
		return nil, NewPaymentError(KindInternal, "Failed to create quote", err)
	}

	o.logger.Info("quote_issued",
		zap.String("sku", q.SKU),
		zap.String("model", q.Model),
		zap.String("amountAtomic", q.AmountAtomic),
		zap.Time("expiresAt", q.ExpiresAt))
	return q, nil
}

// GetQuote returns a live quote.
func (o *PaymentOrchestrator) GetQuote(ctx context.Context, id string) (*quote.Quote, error) {
	q, err := o.quotes.Get(ctx, id)
	switch {
	case errors.Is(err, quote.ErrExpired):
		return nil, NewPaymentError(KindQuoteExpired, "Quote expired", err)
	case err != nil:
		return nil, NewPaymentError(KindQuoteNotFound, "Quote not found", err)
	}
	return q, nil
}
