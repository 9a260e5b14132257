// Package pricing resolves the atomic USDC amount a request costs.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vellumlabs/x402pay/mechanisms/svm"
	"github.com/vellumlabs/x402pay/pkg/catalog"
)

// Request is what a price is estimated for.
type Request struct {
	SKU    catalog.SKU            `json:"sku"`
	Model  string                 `json:"model"`
	Input  json.RawMessage        `json:"input,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Estimate is a priced request.
type Estimate struct {
	Atomic    string                 `json:"atomic"`
	USD       float64                `json:"usd"`
	Breakdown map[string]interface{} `json:"breakdown,omitempty"`
}

// Estimator prices a request.
type Estimator interface {
	Estimate(ctx context.Context, req Request) (*Estimate, error)
}

// StaticEstimator prices every request at its catalog price.
type StaticEstimator struct {
	catalog *catalog.Catalog
}

func NewStaticEstimator(c *catalog.Catalog) *StaticEstimator {
	return &StaticEstimator{catalog: c}
}

func (s *StaticEstimator) Estimate(_ context.Context, req Request) (*Estimate, error) {
	product, err := s.catalog.Lookup(string(req.SKU))
	if err != nil {
		return nil, err
	}
	return staticEstimate(product)
}

func staticEstimate(product *catalog.Product) (*Estimate, error) {
	usd, err := svm.FromAtomic(product.PriceAtomic)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		Atomic:    product.PriceAtomic,
		USD:       usd,
		Breakdown: map[string]interface{}{"source": "static"},
	}, nil
}

// DynamicEstimator asks a primary estimator for SKUs with dynamic pricing
// and falls back to the catalog price when it fails or returns garbage.
type DynamicEstimator struct {
	catalog *catalog.Catalog
	primary Estimator
	logger  *zap.Logger
}

// NewDynamicEstimator wraps primary. A nil primary prices everything statically.
func NewDynamicEstimator(c *catalog.Catalog, primary Estimator, logger *zap.Logger) *DynamicEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamicEstimator{catalog: c, primary: primary, logger: logger}
}

func (d *DynamicEstimator) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	product, err := d.catalog.Lookup(string(req.SKU))
	if err != nil {
		return nil, err
	}
	if !product.DynamicPricing || d.primary == nil {
		return staticEstimate(product)
	}

	est, err := d.primary.Estimate(ctx, req)
	if err == nil {
		err = validate(est)
	}
	if err != nil {
		d.logger.Warn("dynamic pricing failed, using static price",
			zap.String("sku", string(req.SKU)),
			zap.String("model", req.Model),
			zap.Error(err))
		return staticEstimate(product)
	}
	return est, nil
}

func validate(est *Estimate) error {
	if est == nil {
		return fmt.Errorf("empty estimate")
	}
	if !svm.IsValidAtomic(est.Atomic) || est.Atomic == "0" {
		return fmt.Errorf("invalid estimate amount %q", est.Atomic)
	}
	if est.USD == 0 {
		usd, err := svm.FromAtomic(est.Atomic)
		if err != nil {
			return err
		}
		est.USD = usd
	}
	return nil
}
