package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL is how long records are kept.
const DefaultTTL = 24 * time.Hour

// Record is a response that was sent for a fulfilled payment.
type Record struct {
	// SettlementID is the transaction signature that paid for the response.
	SettlementID string            `json:"txSig"`
	StatusCode   int               `json:"statusCode"`
	Body         json.RawMessage   `json:"body"`
	Headers      map[string]string `json:"headers,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Store persists records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the live record for key, or nil when there is none.
	Get(ctx context.Context, key string) (*Record, error)

	// PutIfAbsent stores rec unless a live record already exists for key.
	// It reports whether rec was stored.
	PutIfAbsent(ctx context.Context, key string, rec *Record) (bool, error)
}

// SettlementKey is the record key of a settlement id.
func SettlementKey(settlementID string) string {
	return "tx:" + settlementID
}

// RequestKey is the record key of a caller supplied Idempotency-Key.
func RequestKey(idempotencyKey string) string {
	return "key:" + idempotencyKey
}
