// Package fulfillment runs the paid work once a payment has settled.
package fulfillment

import (
	"context"
	"fmt"

	"github.com/vellumlabs/x402pay/pkg/catalog"
)

// Job is one unit of paid work.
type Job struct {
	SKU   catalog.SKU            `json:"sku"`
	Model string                 `json:"model"`
	Input map[string]interface{} `json:"input"`
	// SettlementID is the transaction signature that paid for the job.
	SettlementID string `json:"txSig"`
}

// Fulfiller performs a job and returns the fields merged into the response body.
// A "signedUrl" string field is echoed in X-PAYMENT-RESPONSE.
type Fulfiller interface {
	Fulfill(ctx context.Context, job Job) (map[string]interface{}, error)
}

// FulfillerFunc adapts a function to Fulfiller.
type FulfillerFunc func(ctx context.Context, job Job) (map[string]interface{}, error)

func (f FulfillerFunc) Fulfill(ctx context.Context, job Job) (map[string]interface{}, error) {
	return f(ctx, job)
}

// Dispatcher routes jobs to the fulfiller registered for their SKU.
// Every catalog SKU must have one; the table is fixed at construction.
type Dispatcher struct {
	handlers map[catalog.SKU]Fulfiller
}

// NewDispatcher checks handlers covers the whole catalog.
func NewDispatcher(c *catalog.Catalog, handlers map[catalog.SKU]Fulfiller) (*Dispatcher, error) {
	table := make(map[catalog.SKU]Fulfiller, len(handlers))
	for _, p := range c.Products() {
		h, ok := handlers[p.ID]
		if !ok || h == nil {
			return nil, fmt.Errorf("no fulfiller registered for %s", p.ID)
		}
		table[p.ID] = h
	}
	for sku := range handlers {
		if _, err := c.Lookup(string(sku)); err != nil {
			return nil, fmt.Errorf("fulfiller registered for %w", err)
		}
	}
	return &Dispatcher{handlers: table}, nil
}

// Uniform registers the same fulfiller for every SKU of c.
func Uniform(c *catalog.Catalog, f Fulfiller) map[catalog.SKU]Fulfiller {
	out := make(map[catalog.SKU]Fulfiller, len(catalog.All))
	for _, p := range c.Products() {
		out[p.ID] = f
	}
	return out
}

func (d *Dispatcher) Fulfill(ctx context.Context, job Job) (map[string]interface{}, error) {
	h, ok := d.handlers[job.SKU]
	if !ok {
		return nil, fmt.Errorf("%w: %q", catalog.ErrUnknownSKU, job.SKU)
	}
	return h.Fulfill(ctx, job)
}
