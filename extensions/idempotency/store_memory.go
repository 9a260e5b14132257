package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// InMemoryStore provides an in-memory implementation of Store.
//
// This implementation is suitable for single-instance deployments where
// records don't need to be shared across processes. Expired entries are
// removed lazily on writes.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore creates a new in-memory record store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	c := newConfig(opts)
	return &InMemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     c.ttl,
		now:     c.now,
	}
}

// Get returns a copy of the live record for key.
func (s *InMemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	rec := cloneRecord(entry.record)
	return &rec, nil
}

// PutIfAbsent stores rec unless a live record exists for key.
func (s *InMemoryStore) PutIfAbsent(_ context.Context, key string, rec *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}

	stored := cloneRecord(*rec)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	s.entries[key] = memoryEntry{record: stored, expiresAt: now.Add(s.ttl)}

	s.cleanupExpiredLocked(now)
	return true, nil
}

// Len returns the number of entries, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryStore) cleanupExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

func cloneRecord(r Record) Record {
	out := r
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Ensure InMemoryStore implements Store
var _ Store = (*InMemoryStore)(nil)
