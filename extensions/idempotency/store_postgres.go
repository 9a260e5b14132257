package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the part of *pgxpool.Pool, *pgx.Conn and pgx.Tx the store uses.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the records table. Migrate runs it.
const Schema = `
CREATE TABLE IF NOT EXISTS x402_idempotency (
	key           TEXT PRIMARY KEY,
	settlement_id TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	body          BYTEA NOT NULL,
	headers       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS x402_idempotency_expires_at_idx ON x402_idempotency (expires_at);
`

// The body is stored as bytea so replays are byte-identical; jsonb would
// normalize it.
const (
	getRecordQuery = `
		SELECT settlement_id, status_code, body, headers, created_at
		FROM x402_idempotency
		WHERE key = $1 AND expires_at > now()
	`

	putRecordQuery = `
		INSERT INTO x402_idempotency (key, settlement_id, status_code, body, headers, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, now(), now() + make_interval(secs => $6))
		ON CONFLICT (key) DO UPDATE SET
			settlement_id = EXCLUDED.settlement_id,
			status_code   = EXCLUDED.status_code,
			body          = EXCLUDED.body,
			headers       = EXCLUDED.headers,
			created_at    = EXCLUDED.created_at,
			expires_at    = EXCLUDED.expires_at
		WHERE x402_idempotency.expires_at <= now()
	`

	deleteExpiredQuery = `DELETE FROM x402_idempotency WHERE expires_at <= now()`
)

// PostgresStore keeps records in PostgreSQL so every instance sees them.
type PostgresStore struct {
	db  Executor
	ttl time.Duration
}

// NewPostgresStore creates a store on db. WithClock is ignored.
func NewPostgresStore(db Executor, opts ...Option) *PostgresStore {
	c := newConfig(opts)
	return &PostgresStore{db: db, ttl: c.ttl}
}

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate idempotency table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	var (
		rec     Record
		body    []byte
		headers map[string]string
	)
	err := s.db.QueryRow(ctx, getRecordQuery, key).Scan(
		&rec.SettlementID,
		&rec.StatusCode,
		&body,
		&headers,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	rec.Body = body
	rec.Headers = headers
	return &rec, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string, rec *Record) (bool, error) {
	headers := rec.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	tag, err := s.db.Exec(ctx, putRecordQuery,
		key,
		rec.SettlementID,
		rec.StatusCode,
		[]byte(rec.Body),
		headers,
		s.ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes expired records and returns how many were removed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
