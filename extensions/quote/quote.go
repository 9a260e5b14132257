// Package quote holds price quotes: an amount fixed for a short window so
// that the 402 offer and the paid retry agree on what is owed.
package quote

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a quote can be redeemed.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound is returned for unknown, garbled or tampered quote ids.
	ErrNotFound = errors.New("quote not found")
	// ErrExpired is returned for quotes past their expiry.
	ErrExpired = errors.New("quote expired")
)

// Quote is a priced (sku, model, input) triple.
type Quote struct {
	ID           string                 `json:"quoteId"`
	SKU          string                 `json:"sku"`
	Model        string                 `json:"model"`
	AmountAtomic string                 `json:"amountAtomic"`
	USD          float64                `json:"usd"`
	Breakdown    map[string]interface{} `json:"breakdown,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	InputHash    string                 `json:"inputHash"`
	CreatedAt    time.Time              `json:"createdAt"`
	ExpiresAt    time.Time              `json:"expiresAt"`
}

// Expired reports whether the quote is past its expiry at now.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Store keeps quotes.
type Store interface {
	// Save assigns the quote its id, creation and expiry times, and returns the id.
	Save(ctx context.Context, q *Quote) (string, error)
	// Get returns the quote, ErrNotFound or ErrExpired.
	Get(ctx context.Context, id string) (*Quote, error)
}

// HashInput fingerprints a request input: the first 16 hex chars of its SHA-256.
func HashInput(input json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, input); err != nil {
		compact.Reset()
		compact.Write(input)
	}
	sum := sha256.Sum256(compact.Bytes())
	return hex.EncodeToString(sum[:])[:16]
}

// NewID returns "q_" followed by 12 random hex chars.
func NewID() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "q_" + hex.EncodeToString(b[:]), nil
}
