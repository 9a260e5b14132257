package x402

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultFeePayerTTL is how long facilitator fee payers are cached.
const DefaultFeePayerTTL = 5 * time.Minute

// FeePayerCache caches the fee payer the facilitator advertises per network.
// Reads are concurrent; a stale cache is refreshed by at most one in-flight
// /supported call, other readers share its result.
type FeePayerCache struct {
	facilitator FacilitatorClient
	ttl         time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu        sync.RWMutex
	feePayers map[string]string
	expiry    time.Time

	group singleflight.Group
}

// NewFeePayerCache creates a cache backed by the facilitator's /supported endpoint.
func NewFeePayerCache(facilitator FacilitatorClient, ttl time.Duration, logger *zap.Logger) *FeePayerCache {
	if ttl <= 0 {
		ttl = DefaultFeePayerTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeePayerCache{
		facilitator: facilitator,
		ttl:         ttl,
		now:         time.Now,
		logger:      logger,
	}
}

// Get returns the fee payer for network, refreshing the cache when stale.
// It returns false when the facilitator is unreachable or does not list the network.
func (c *FeePayerCache) Get(ctx context.Context, network string) (string, bool) {
	c.mu.RLock()
	if c.feePayers != nil && c.now().Before(c.expiry) {
		feePayer, ok := c.feePayers[network]
		c.mu.RUnlock()
		return feePayer, ok
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do("supported", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		c.logger.Warn("failed to fetch facilitator fee payer",
			zap.String("network", network), zap.Error(err))
		return "", false
	}

	feePayer, ok := result.(map[string]string)[network]
	if !ok {
		c.logger.Warn("network not advertised by facilitator", zap.String("network", network))
	}
	return feePayer, ok
}

// Networks returns a copy of the cached network to fee payer map, refreshing if stale.
func (c *FeePayerCache) Networks(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	if c.feePayers != nil && c.now().Before(c.expiry) {
		out := make(map[string]string, len(c.feePayers))
		for k, v := range c.feePayers {
			out[k] = v
		}
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do("supported", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	src := result.(map[string]string)
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

// Clear drops the cached data.
func (c *FeePayerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.feePayers = nil
	c.expiry = time.Time{}
}

func (c *FeePayerCache) refresh(ctx context.Context) (map[string]string, error) {
	supported, err := c.facilitator.GetSupported(ctx)
	if err != nil {
		return nil, err
	}
	feePayers := supported.FeePayers()

	c.mu.Lock()
	c.feePayers = feePayers
	c.expiry = c.now().Add(c.ttl)
	c.mu.Unlock()

	return feePayers, nil
}

// OfferConfig holds the values every requirement shares.
type OfferConfig struct {
	// Network is the v1 network name, e.g. "solana".
	Network string
	// Asset is the stablecoin mint.
	Asset string
	// PayTo is the recipient wallet. Never the token account.
	PayTo string
	// BaseURL is the public URL resources are built from.
	BaseURL           string
	MaxTimeoutSeconds int
	TokenSymbol       string
	TokenName         string
}

// OfferBuilder produces canonical payment requirements.
type OfferBuilder struct {
	config    OfferConfig
	feePayers *FeePayerCache
	logger    *zap.Logger
}

// OfferOption configures an OfferBuilder.
type OfferOption func(*OfferBuilder)

// WithOfferLogger sets the logger.
func WithOfferLogger(logger *zap.Logger) OfferOption {
	return func(b *OfferBuilder) {
		b.logger = logger
	}
}

// WithFeePayerCache shares an existing fee payer cache.
func WithFeePayerCache(cache *FeePayerCache) OfferOption {
	return func(b *OfferBuilder) {
		b.feePayers = cache
	}
}

// NewOfferBuilder creates an offer builder fetching fee payers from facilitator.
func NewOfferBuilder(facilitator FacilitatorClient, config OfferConfig, opts ...OfferOption) *OfferBuilder {
	if config.MaxTimeoutSeconds == 0 {
		config.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	if config.TokenSymbol == "" {
		config.TokenSymbol = "USDC"
	}
	if config.TokenName == "" {
		config.TokenName = "USD Coin"
	}

	b := &OfferBuilder{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.feePayers == nil {
		b.feePayers = NewFeePayerCache(facilitator, DefaultFeePayerTTL, b.logger)
	}
	return b
}

// Network returns the network offers are made on.
func (b *OfferBuilder) Network() string {
	return b.config.Network
}

// BuildRequirement returns the requirement for amount atomic units.
// A missing fee payer is logged and left out; the caller fails on it later.
func (b *OfferBuilder) BuildRequirement(ctx context.Context, amount, description, resource string) PaymentRequirements {
	extra := &RequirementsExtra{
		TokenSymbol: b.config.TokenSymbol,
		TokenName:   b.config.TokenName,
	}
	if feePayer, ok := b.feePayers.Get(ctx, b.config.Network); ok {
		extra.FeePayer = feePayer
	} else {
		b.logger.Warn("building requirement without fee payer", zap.String("network", b.config.Network))
	}

	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           b.config.Network,
		MaxAmountRequired: amount,
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             b.config.PayTo,
		MaxTimeoutSeconds: b.config.MaxTimeoutSeconds,
		Asset:             b.config.Asset,
		Extra:             extra,
	}
}

// Build402Response wraps the requirement in a 402 body.
func (b *OfferBuilder) Build402Response(ctx context.Context, amount, description, resource string) (int, PaymentRequired) {
	return 402, PaymentRequired{
		X402Version: X402Version,
		Accepts:     []PaymentRequirements{b.BuildRequirement(ctx, amount, description, resource)},
	}
}

// ResourceURL is the canonical URL a payment for sku/model/quoteID authorizes.
func (b *OfferBuilder) ResourceURL(sku, model, quoteID string) string {
	base := strings.TrimRight(b.config.BaseURL, "/")
	base = strings.TrimSuffix(base, "/x402/pay")

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("/x402/pay?sku=")
	sb.WriteString(url.QueryEscape(sku))
	sb.WriteString("&model=")
	sb.WriteString(url.QueryEscape(model))
	if quoteID != "" {
		sb.WriteString("&quoteId=")
		sb.WriteString(url.QueryEscape(quoteID))
	}
	return sb.String()
}
