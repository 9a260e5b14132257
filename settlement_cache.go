package x402

import (
	"context"
	"sync"
	"time"
)

// DefaultSettlementTTL matches the idempotency window.
const DefaultSettlementTTL = 24 * time.Hour

// SettlementStatus is the outcome of SettlementCache.Begin.
type SettlementStatus int

const (
	// StatusNotFound means the caller now owns the settlement of this proof.
	StatusNotFound SettlementStatus = iota
	// StatusSettled means the proof already settled; the response is returned.
	StatusSettled
	// StatusInFlight means another request is settling the same proof.
	StatusInFlight
)

// Settlement is a finished settlement together with the requirement the
// proof was verified against. A reused proof only pays for that requirement.
type Settlement struct {
	Response    SettleResponse
	Requirement PaymentRequirements
}

type settledEntry struct {
	settlement Settlement
	expiresAt  time.Time
}

// Flight is an in-progress settlement owned by one request.
type Flight struct {
	key  string
	done chan struct{}
}

// SettlementCache remembers which proofs were settled and under which
// settlement id, and serializes concurrent requests carrying the same proof.
// A replayed X-PAYMENT header therefore resolves to its original settlement
// instead of being submitted to the facilitator a second time.
type SettlementCache struct {
	mu       sync.Mutex
	settled  map[string]settledEntry
	inFlight map[string]*Flight
	ttl      time.Duration
	now      func() time.Time
}

// NewSettlementCache creates a cache that remembers settlements for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	if ttl <= 0 {
		ttl = DefaultSettlementTTL
	}
	return &SettlementCache{
		settled:  make(map[string]settledEntry),
		inFlight: make(map[string]*Flight),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Begin checks key and, if it is neither settled nor in flight, marks it in flight.
// With StatusNotFound the caller must finish the returned Flight with Complete or Abort.
// With StatusInFlight the caller should Wait on the returned Flight.
func (c *SettlementCache) Begin(key string) (SettlementStatus, *Settlement, *Flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.settled[key]; ok {
		if c.now().Before(entry.expiresAt) {
			settlement := entry.settlement
			return StatusSettled, &settlement, nil
		}
		delete(c.settled, key)
	}

	if flight, ok := c.inFlight[key]; ok {
		return StatusInFlight, nil, flight
	}

	flight := &Flight{key: key, done: make(chan struct{})}
	c.inFlight[key] = flight
	return StatusNotFound, nil, flight
}

// Wait blocks until flight finishes and returns its settlement, or nil if it was aborted.
func (c *SettlementCache) Wait(ctx context.Context, flight *Flight) (*Settlement, error) {
	select {
	case <-flight.done:
		return c.Lookup(flight.key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns the settlement recorded for key, or nil.
func (c *SettlementCache) Lookup(key string) *Settlement {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.settled[key]
	if !ok {
		return nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.settled, key)
		return nil
	}
	settlement := entry.settlement
	return &settlement
}

// Complete records the settlement and releases waiters.
func (c *SettlementCache) Complete(flight *Flight, settlement Settlement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.settled[flight.key] = settledEntry{settlement: settlement, expiresAt: now.Add(c.ttl)}
	delete(c.inFlight, flight.key)
	close(flight.done)

	for key, entry := range c.settled {
		if !now.Before(entry.expiresAt) {
			delete(c.settled, key)
		}
	}
}

// Abort releases waiters without recording anything; the proof may be tried again.
func (c *SettlementCache) Abort(flight *Flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, flight.key)
	close(flight.done)
}
