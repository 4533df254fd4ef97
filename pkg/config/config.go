// Package config reads refund engine settings from the environment, with an
// optional YAML deployment profile underneath.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPGVector = "pgvector"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL    string
	SQLitePath     string
	RedisAddr      string
	MongoURI       string
	LedgerBackend  string
	LedgerSeedDemo bool

	PolicyBackend    string
	PolicyCorpusPath string

	LLMServiceURL  string
	LLMAPIKey      string
	LLMModel       string
	EmbeddingURL   string
	EmbeddingModel string

	GatewayURL      string
	GatewayAPIKey   string
	TransferTimeout time.Duration
	BonusMultiplier decimal.Decimal

	RateLimitRPS       float64
	RateLimitBurst     int
	IdempotencyBackend string
	IdempotencyTTL     time.Duration

	OTelEnabled  bool
	OTelEndpoint string
}

// Default returns the configuration used when nothing is set: everything in
// memory, a simulated gateway and template reasoning.
func Default() *Config {
	return &Config{
		Port:               "8080",
		LogLevel:           "INFO",
		DatabaseURL:        "postgres://refunds@localhost:5432/refunds?sslmode=disable",
		SQLitePath:         "refunds.db",
		RedisAddr:          "localhost:6379",
		LedgerBackend:      BackendMemory,
		PolicyBackend:      BackendMemory,
		LLMModel:           "gpt-4o-mini",
		EmbeddingModel:     "text-embedding-3-small",
		TransferTimeout:    30 * time.Second,
		BonusMultiplier:    decimal.RequireFromString("1.5"),
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		IdempotencyBackend: BackendMemory,
		IdempotencyTTL:     24 * time.Hour,
		OTelEndpoint:       "localhost:4317",
	}
}

// Load builds the configuration: defaults, then the profile named by
// REFUNDD_PROFILE (looked up in REFUNDD_PROFILE_DIR, default "profiles"),
// then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if name := os.Getenv("REFUNDD_PROFILE"); name != "" {
		dir := os.Getenv("REFUNDD_PROFILE_DIR")
		if dir == "" {
			dir = "profiles"
		}
		p, err := LoadProfile(dir, name)
		if err != nil {
			return nil, err
		}
		if err := p.Apply(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("DATABASE_URL", &c.DatabaseURL)
	str("SQLITE_PATH", &c.SQLitePath)
	str("REDIS_ADDR", &c.RedisAddr)
	str("MONGODB_URI", &c.MongoURI)
	str("LEDGER_BACKEND", &c.LedgerBackend)
	str("POLICY_BACKEND", &c.PolicyBackend)
	str("POLICY_CORPUS_PATH", &c.PolicyCorpusPath)
	str("LLM_SERVICE_URL", &c.LLMServiceURL)
	str("LLM_API_KEY", &c.LLMAPIKey)
	str("LLM_MODEL", &c.LLMModel)
	str("EMBEDDING_URL", &c.EmbeddingURL)
	str("EMBEDDING_MODEL", &c.EmbeddingModel)
	str("GATEWAY_URL", &c.GatewayURL)
	str("GATEWAY_API_KEY", &c.GatewayAPIKey)
	str("IDEMPOTENCY_BACKEND", &c.IdempotencyBackend)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTelEndpoint)

	if v := os.Getenv("LEDGER_SEED_DEMO"); v != "" {
		c.LedgerSeedDemo = v == "true"
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.OTelEnabled = v == "true"
	}

	var err error
	if v := os.Getenv("SETTLEMENT_TRANSFER_TIMEOUT"); v != "" {
		if c.TransferTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: SETTLEMENT_TRANSFER_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		if c.IdempotencyTTL, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: IDEMPOTENCY_TTL: %w", err)
		}
	}
	if v := os.Getenv("CREDIT_BONUS_MULTIPLIER"); v != "" {
		if c.BonusMultiplier, err = decimal.NewFromString(v); err != nil {
			return fmt.Errorf("config: CREDIT_BONUS_MULTIPLIER: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if c.RateLimitRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("config: RATE_LIMIT_RPS: %w", err)
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if c.RateLimitBurst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("config: RATE_LIMIT_BURST: %w", err)
		}
	}
	return nil
}

// Validate rejects unknown backends and nonsensical limits.
func (c *Config) Validate() error {
	c.LedgerBackend = strings.ToLower(c.LedgerBackend)
	c.PolicyBackend = strings.ToLower(c.PolicyBackend)
	c.IdempotencyBackend = strings.ToLower(c.IdempotencyBackend)

	switch c.LedgerBackend {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("config: unknown ledger backend %q", c.LedgerBackend)
	}
	switch c.PolicyBackend {
	case BackendMemory, BackendPGVector:
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("config: policy backend mongo requires MONGODB_URI")
		}
	default:
		return fmt.Errorf("config: unknown policy backend %q", c.PolicyBackend)
	}
	switch c.IdempotencyBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("config: unknown idempotency backend %q", c.IdempotencyBackend)
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("config: transfer timeout must be positive")
	}
	if !c.BonusMultiplier.IsPositive() {
		return fmt.Errorf("config: credit bonus multiplier must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	return nil
}
