// Command x402pay serves the paid API: 402 offers, Solana USDC settlement
// through a facilitator, and fulfillment of the paid work.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	x402 "github.com/vellumlabs/x402pay"
	"github.com/vellumlabs/x402pay/extensions/idempotency"
	"github.com/vellumlabs/x402pay/extensions/quote"
	x402http "github.com/vellumlabs/x402pay/http"
	"github.com/vellumlabs/x402pay/mechanisms/svm"
	"github.com/vellumlabs/x402pay/pkg/catalog"
	"github.com/vellumlabs/x402pay/pkg/config"
	"github.com/vellumlabs/x402pay/pkg/fulfillment"
	x402gin "github.com/vellumlabs/x402pay/pkg/gin"
	"github.com/vellumlabs/x402pay/pkg/logging"
	"github.com/vellumlabs/x402pay/pkg/metrics"
	"github.com/vellumlabs/x402pay/pkg/pricing"
	"github.com/vellumlabs/x402pay/pkg/tracing"
)

const sweepInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	tp, shutdownTracing, err := tracing.Init(ctx, cfg.App.Name, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	network, err := svm.NetworkFromCluster(cfg.Solana.Cluster)
	if err != nil {
		return err
	}
	mint := cfg.Solana.Mint
	if mint == "" {
		if mint, err = svm.USDCMint(network); err != nil {
			return err
		}
	}
	if !svm.ValidateSolanaAddress(cfg.Solana.PayTo) {
		return fmt.Errorf("solana.pay_to is not a valid address: %s", cfg.Solana.PayTo)
	}

	prices := make(map[catalog.SKU]string, len(cfg.Pricing.Prices))
	for sku, price := range cfg.Pricing.Prices {
		prices[catalog.SKU(sku)] = price
	}
	products, err := catalog.New(prices)
	if err != nil {
		return err
	}

	var auth x402http.AuthProvider
	if cfg.Facilitator.APIKey != "" {
		auth = x402http.BearerAuth(cfg.Facilitator.APIKey)
	}
	facilitator := x402http.NewFacilitatorClient(&x402http.FacilitatorConfig{
		URL:          cfg.Facilitator.URL,
		Timeout:      cfg.Facilitator.Timeout,
		AuthProvider: auth,
	})

	offers := x402.NewOfferBuilder(facilitator, x402.OfferConfig{
		Network:           network,
		Asset:             mint,
		PayTo:             cfg.Solana.PayTo,
		BaseURL:           cfg.App.PublicURL,
		MaxTimeoutSeconds: cfg.Facilitator.MaxTimeoutSeconds,
	},
		x402.WithOfferLogger(logger),
		x402.WithFeePayerCache(x402.NewFeePayerCache(facilitator, cfg.Facilitator.FeePayerTTL, logger)),
	)

	fulfiller, err := newFulfiller(cfg, products, logger)
	if err != nil {
		return err
	}

	quotes, err := newQuoteStore(cfg)
	if err != nil {
		return err
	}

	opts := []x402.OrchestratorOption{
		x402.WithLogger(logger),
		x402.WithTracer(tp.Tracer("github.com/vellumlabs/x402pay")),
		x402.WithQuoteStore(quotes),
		x402.WithFulfillTimeout(cfg.Fulfillment.Timeout),
		x402.WithDefaultModel(cfg.App.DefaultModel),
	}
	if cfg.Pricing.EstimatorURL != "" {
		primary := pricing.NewHTTPEstimator(cfg.Pricing.EstimatorURL, cfg.Pricing.Timeout)
		opts = append(opts, x402.WithEstimator(pricing.NewDynamicEstimator(products, primary, logger)))
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()

	switch cfg.Idempotency.Backend {
	case "postgres":
		pool, err := connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := idempotency.NewPostgresStore(pool, idempotency.WithTTL(cfg.Idempotency.TTL))
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate idempotency store: %w", err)
		}
		go sweep(sweepCtx, store, logger)
		opts = append(opts, x402.WithIdempotencyStore(store))
	default:
		opts = append(opts, x402.WithIdempotencyStore(idempotency.NewInMemoryStore(idempotency.WithTTL(cfg.Idempotency.TTL))))
	}

	orchestrator := x402.NewPaymentOrchestrator(offers, facilitator, products, fulfiller, opts...)

	m := metrics.New()
	m.Observe(orchestrator)

	router := x402gin.NewRouter(orchestrator,
		x402gin.WithAppName(cfg.App.Name),
		x402gin.WithAllowOrigin(cfg.Server.AllowOrigin),
		x402gin.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		x402gin.WithLogger(logger),
		x402gin.WithMetrics(m),
	)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("network", network),
			zap.String("facilitator", facilitator.URL()),
			zap.String("idempotency", cfg.Idempotency.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

func newFulfiller(cfg *config.Config, products *catalog.Catalog, logger *zap.Logger) (fulfillment.Fulfiller, error) {
	var worker fulfillment.Fulfiller
	if cfg.Fulfillment.WorkerURL != "" {
		worker = fulfillment.NewHTTPWorker(cfg.Fulfillment.WorkerURL, cfg.Fulfillment.Timeout, logger)
	} else {
		logger.Warn("no fulfillment worker configured, paid jobs will fail")
		worker = fulfillment.FulfillerFunc(func(ctx context.Context, job fulfillment.Job) (map[string]interface{}, error) {
			return nil, fmt.Errorf("no fulfillment worker configured for %s", job.SKU)
		})
	}
	return fulfillment.NewDispatcher(products, fulfillment.Uniform(products, worker))
}

func newQuoteStore(cfg *config.Config) (quote.Store, error) {
	if cfg.Quote.Secret != "" {
		return quote.NewSignedStore([]byte(cfg.Quote.Secret), cfg.Quote.TTL)
	}
	return quote.NewMemoryStore(cfg.Quote.TTL), nil
}

func connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// sweep deletes expired idempotency records until ctx is done.
func sweep(ctx context.Context, store *idempotency.PostgresStore, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("failed to sweep idempotency records", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("swept idempotency records", zap.Int64("deleted", n))
			}
		}
	}
}
