package quote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps quotes in process memory.
// Expired quotes answer ErrExpired for one more TTL, then are dropped.
type MemoryStore struct {
	mu     sync.Mutex
	quotes map[string]Quote
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStore creates a store whose quotes live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		quotes: make(map[string]Quote),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, q *Quote) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", fmt.Errorf("failed to generate quote id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	q.ID = id
	q.CreatedAt = now
	q.ExpiresAt = now.Add(s.ttl)
	s.quotes[id] = *q

	for key, stored := range s.quotes {
		if now.After(stored.ExpiresAt.Add(s.ttl)) {
			delete(s.quotes, key)
		}
	}
	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if q.Expired(s.now()) {
		return nil, ErrExpired
	}
	return &q, nil
}

var _ Store = (*MemoryStore)(nil)
