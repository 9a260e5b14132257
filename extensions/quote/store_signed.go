package quote

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// SignedStore keeps no state: the quote id is the quote itself, signed with
// HMAC-SHA256. Any instance holding the secret can redeem it.
type SignedStore struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedStore creates a stateless store.
func NewSignedStore(secret []byte, ttl time.Duration) (*SignedStore, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("quote signing secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SignedStore{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Save returns base64url(quote) "." base64url(mac) as the id.
func (s *SignedStore) Save(_ context.Context, q *Quote) (string, error) {
	nonce, err := NewID()
	if err != nil {
		return "", fmt.Errorf("failed to generate quote id: %w", err)
	}

	now := s.now()
	q.ID = nonce
	q.CreatedAt = now
	q.ExpiresAt = now.Add(s.ttl)

	payload, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode quote: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	token := encoded + "." + base64.RawURLEncoding.EncodeToString(s.sign(encoded))
	q.ID = token
	return token, nil
}

func (s *SignedStore) Get(_ context.Context, id string) (*Quote, error) {
	encoded, sig, ok := strings.Cut(id, ".")
	if !ok {
		return nil, ErrNotFound
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(mac, s.sign(encoded)) {
		return nil, ErrNotFound
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrNotFound
	}
	var q Quote
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, ErrNotFound
	}
	if q.Expired(s.now()) {
		return nil, ErrExpired
	}
	q.ID = id
	return &q, nil
}

func (s *SignedStore) sign(encoded string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(encoded))
	return h.Sum(nil)
}

var _ Store = (*SignedStore)(nil)
