package x402

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vellumlabs/x402pay/mechanisms/svm"
)

// PayingClient manages payment mechanisms and creates payment payloads.
// This is used by applications that need to make payments (have wallets/signers).
type PayingClient struct {
	mu sync.RWMutex

	// network -> scheme -> client implementation
	schemes map[string]map[string]SchemeNetworkClient

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector

	// maxAmount is the largest atomic amount the client pays. Empty means no limit.
	maxAmount string
	logger    *zap.Logger
}

// PaymentRequirementsSelector chooses which payment option to use
type PaymentRequirementsSelector func(requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client
type ClientOption func(*PayingClient)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *PayingClient) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(client SchemeNetworkClient) ClientOption {
	return func(c *PayingClient) {
		c.RegisterScheme(client)
	}
}

// WithPaymentLimit refuses requirements above limit atomic units.
func WithPaymentLimit(limit string) ClientOption {
	return func(c *PayingClient) {
		c.maxAmount = limit
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *PayingClient) {
		c.logger = logger
	}
}

// NewPayingClient creates a new paying client
func NewPayingClient(opts ...ClientOption) *PayingClient {
	c := &PayingClient{
		schemes:              make(map[string]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
		logger:               zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option
func defaultPaymentSelector(requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for its network
func (c *PayingClient) RegisterScheme(client SchemeNetworkClient) *PayingClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[client.Network()] == nil {
		c.schemes[client.Network()] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[client.Network()][client.Scheme()] = client

	return c
}

// SelectPaymentRequirements chooses which payment requirements to use.
// Only requirements with a registered mechanism and within the payment
// limit are considered.
func (c *PayingClient) SelectPaymentRequirements(requirements []PaymentRequirements) (PaymentRequirements, error) {
	if len(requirements) == 0 {
		return PaymentRequirements{}, ErrNoRequirements
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []PaymentRequirements
	overLimit := false
	for _, req := range requirements {
		if _, ok := c.schemes[req.Network][req.Scheme]; !ok {
			continue
		}
		if !c.withinLimit(req.MaxAmountRequired) {
			overLimit = true
			continue
		}
		supported = append(supported, req)
	}

	if len(supported) == 0 {
		if overLimit {
			return PaymentRequirements{}, ErrAmountExceedsLimit
		}
		return PaymentRequirements{}, fmt.Errorf("%w: no registered scheme for %s on %s",
			ErrUnsupportedRequirement, requirements[0].Scheme, requirements[0].Network)
	}

	return c.requirementsSelector(supported), nil
}

func (c *PayingClient) withinLimit(amount string) bool {
	if c.maxAmount == "" {
		return true
	}
	cmp, err := svm.CompareAtomic(amount, c.maxAmount)
	if err != nil {
		return false
	}
	return cmp <= 0
}

// CreatePaymentPayload creates a signed payment payload for requirements
func (c *PayingClient) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error) {
	c.mu.RLock()
	client, ok := c.schemes[requirements.Network][requirements.Scheme]
	c.mu.RUnlock()

	if !ok {
		return PaymentPayload{}, fmt.Errorf("%w: no registered scheme for %s on %s",
			ErrUnsupportedRequirement, requirements.Scheme, requirements.Network)
	}
	if !c.withinLimit(requirements.MaxAmountRequired) {
		return PaymentPayload{}, fmt.Errorf("%w: %s > %s", ErrAmountExceedsLimit, requirements.MaxAmountRequired, c.maxAmount)
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return PaymentPayload{}, err
	}
	c.logger.Debug("created payment payload",
		zap.String("network", requirements.Network),
		zap.String("amountAtomic", requirements.MaxAmountRequired),
		zap.String("payTo", requirements.PayTo))
	return payload, nil
}

// CanPay reports whether any of the requirements can be paid
func (c *PayingClient) CanPay(requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(requirements)
	return err == nil
}

// CreatePaymentForRequired selects a requirement from a 402 body and pays it
func (c *PayingClient) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, PaymentRequirements, error) {
	if required.X402Version != X402Version {
		return PaymentPayload{}, PaymentRequirements{}, fmt.Errorf("unsupported x402 version %d", required.X402Version)
	}

	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return PaymentPayload{}, PaymentRequirements{}, err
	}

	payload, err := c.CreatePaymentPayload(ctx, selected)
	if err != nil {
		return PaymentPayload{}, PaymentRequirements{}, err
	}
	return payload, selected, nil
}
