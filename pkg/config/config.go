// Package config loads the server configuration from defaults, an optional
// .env file and X402PAY_ prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
)

// EnvPrefix prefixes every environment variable. A double underscore nests:
// X402PAY_SERVER__PORT sets server.port.
const EnvPrefix = "X402PAY_"

type Config struct {
	App         AppConfig         `koanf:"app"`
	Server      ServerConfig      `koanf:"server"`
	Solana      SolanaConfig      `koanf:"solana"`
	Facilitator FacilitatorConfig `koanf:"facilitator"`
	Quote       QuoteConfig       `koanf:"quote"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Database    DatabaseConfig    `koanf:"database"`
	Pricing     PricingConfig     `koanf:"pricing"`
	Fulfillment FulfillmentConfig `koanf:"fulfillment"`
	Logger      LoggerConfig      `koanf:"logger"`
	Tracing     TracingConfig     `koanf:"tracing"`
}

type AppConfig struct {
	Name string `koanf:"name" validate:"required"`
	// PublicURL is the base of every payment resource URL.
	PublicURL string `koanf:"public_url" validate:"required"`
	// DefaultModel is used when a request names none.
	DefaultModel string `koanf:"default_model" validate:"required"`
}

type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"required"`
	AllowOrigin     string        `koanf:"allow_origin" validate:"required"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"required"`
}

type SolanaConfig struct {
	// Cluster is mainnet-beta, devnet or testnet.
	Cluster string `koanf:"cluster" validate:"required"`
	// PayTo is the wallet that receives payments.
	PayTo string `koanf:"pay_to" validate:"required"`
	// Mint overrides the network's USDC mint.
	Mint   string `koanf:"mint"`
	RPCURL string `koanf:"rpc_url"`
}

type FacilitatorConfig struct {
	URL     string        `koanf:"url" validate:"required"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout" validate:"required"`
	// FeePayerTTL is how long /supported answers are cached.
	FeePayerTTL       time.Duration `koanf:"fee_payer_ttl" validate:"required"`
	MaxTimeoutSeconds int           `koanf:"max_timeout_seconds" validate:"required"`
}

type QuoteConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"required"`
	// Secret switches to stateless signed quotes when set.
	Secret string `koanf:"secret"`
}

type IdempotencyConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"required"`
	// Backend is memory or postgres.
	Backend string `koanf:"backend" validate:"required"`
}

type DatabaseConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

type PricingConfig struct {
	// EstimatorURL enables dynamic pricing for dynamic SKUs.
	EstimatorURL string        `koanf:"estimator_url"`
	Timeout      time.Duration `koanf:"timeout"`
	// Prices overrides static prices per SKU in atomic units.
	Prices map[string]string `koanf:"prices"`
}

type FulfillmentConfig struct {
	// WorkerURL is the base URL jobs are POSTed to.
	WorkerURL string        `koanf:"worker_url"`
	Timeout   time.Duration `koanf:"timeout" validate:"required"`
}

type LoggerConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector. Empty disables export.
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
}

// Defaults are applied before the environment.
var Defaults = map[string]interface{}{
	"app.name":                        "x402pay",
	"app.public_url":                  "http://localhost:8080",
	"app.default_model":               "openrouter/auto",
	"server.port":                     "8080",
	"server.read_timeout":             "15s",
	"server.write_timeout":            "150s",
	"server.idle_timeout":             "60s",
	"server.shutdown_timeout":         "30s",
	"server.allow_origin":             "*",
	"server.max_body_bytes":           15 << 20,
	"solana.cluster":                  "devnet",
	"facilitator.url":                 "https://facilitator.payai.network",
	"facilitator.timeout":             "30s",
	"facilitator.fee_payer_ttl":       "5m",
	"facilitator.max_timeout_seconds": 600,
	"quote.ttl":                       "5m",
	"idempotency.ttl":                 "24h",
	"idempotency.backend":             "memory",
	"database.max_conns":              10,
	"pricing.timeout":                 "5s",
	"fulfillment.timeout":             "2m",
	"logger.level":                    "info",
	"logger.format":                   "json",
}

// Load reads defaults then the environment and validates the result.
func Load() (*Config, error) {
	return load(env.Provider(EnvPrefix, ".", envKey))
}

func envKey(s string) string {
	return strings.ReplaceAll(
		strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
		"__",
		".",
	)
}

func load(provider koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) check() error {
	switch c.Idempotency.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config validation failed: database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config validation failed: unknown idempotency backend %q", c.Idempotency.Backend)
	}
	if c.Quote.Secret != "" && len(c.Quote.Secret) < 32 {
		return fmt.Errorf("config validation failed: quote.secret must be at least 32 bytes")
	}
	return nil
}
