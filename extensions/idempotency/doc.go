// Package idempotency remembers the response of every fulfilled payment so
// that a retried request is answered from the record instead of running the
// paid work again.
//
// # Overview
//
// After a payment settles, the orchestrator stores the response it sent
// under two keys:
//   - the settlement id (the transaction signature), see SettlementKey
//   - the caller's Idempotency-Key header when present, see RequestKey
//
// A later request that resolves to either key is answered with the stored
// status, body and headers, byte for byte. Fulfillment is skipped.
//
// # Backends
//
// InMemoryStore serves single-instance deployments:
//
//	store := idempotency.NewInMemoryStore(idempotency.WithTTL(24 * time.Hour))
//
// PostgresStore shares records across instances behind a load balancer:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	store := idempotency.NewPostgresStore(pool)
//	if err := store.Migrate(ctx); err != nil { ... }
//
// # Expiry
//
// Records live for the configured TTL, 24 hours by default. An expired key
// is treated as never seen: PutIfAbsent overwrites it and Get misses.
package idempotency
