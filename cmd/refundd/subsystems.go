package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AbhayRathi/AgenticRefunds/pkg/config"
	"github.com/AbhayRathi/AgenticRefunds/pkg/evaluator"
	"github.com/AbhayRathi/AgenticRefunds/pkg/gateway"
	"github.com/AbhayRathi/AgenticRefunds/pkg/ledger"
	"github.com/AbhayRathi/AgenticRefunds/pkg/llm"
	"github.com/AbhayRathi/AgenticRefunds/pkg/policy"
	"github.com/AbhayRathi/AgenticRefunds/pkg/policyloader"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const corpusSyncTimeout = 30 * time.Second

// subsystems holds the backends chosen by configuration.
type subsystems struct {
	ledger   ledger.Store
	receipts store.ReceiptStore
	policies store.PolicyStore
	embedder store.Embedder
	redis    *redis.Client
	closers  []func() error

	// corpus is nil when policies come from the built-in set.
	corpus     *policyloader.Loader
	corpusFile string
}

func (s *subsystems) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (s *subsystems) redisClient(cfg *config.Config) *redis.Client {
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.closers = append(s.closers, s.redis.Close)
	}
	return s.redis
}

func openDB(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// setupLedger opens the credit ledger and the receipt journal. SQLite keeps
// both in one file; other backends journal in memory.
func (s *subsystems) setupLedger(ctx context.Context, cfg *config.Config) error {
	s.receipts = store.NewMemoryReceiptStore()

	switch cfg.LedgerBackend {
	case config.BackendMemory:
		s.ledger = ledger.NewMemoryStore()
	case config.BackendPostgres:
		db, err := openDB("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db.Close)
		sqlStore := ledger.NewSQLStore(db, ledger.Postgres)
		if err := sqlStore.Init(ctx); err != nil {
			return err
		}
		s.ledger = sqlStore
	case config.BackendSQLite:
		db, err := openDB("sqlite", cfg.SQLitePath)
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(1)
		s.closers = append(s.closers, db.Close)
		sqlStore := ledger.NewSQLStore(db, ledger.SQLite)
		if err := sqlStore.Init(ctx); err != nil {
			return err
		}
		receipts, err := store.NewSQLiteReceiptStore(db)
		if err != nil {
			return err
		}
		s.ledger, s.receipts = sqlStore, receipts
	case config.BackendRedis:
		client := s.redisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		s.ledger = ledger.NewRedisStore(client)
	}

	if cfg.LedgerSeedDemo {
		if err := ledger.SeedDemo(ctx, s.ledger); err != nil {
			return err
		}
		slog.InfoContext(ctx, "demo account seeded", "user_id", ledger.DemoUserID)
	}
	return nil
}

// setupEmbedder uses the remote embedding service when configured and the
// local hashing embedder otherwise.
func (s *subsystems) setupEmbedder(cfg *config.Config) {
	if cfg.EmbeddingURL != "" {
		s.embedder = llm.NewOpenAIEmbedder(cfg.EmbeddingURL, cfg.LLMAPIKey, cfg.EmbeddingModel, llm.DefaultEmbeddingDimensions)
		return
	}
	s.embedder = llm.NewHashEmbedder(llm.DefaultEmbeddingDimensions)
}

// setupPolicies opens the policy store and seeds it with the corpus when
// empty.
func (s *subsystems) setupPolicies(ctx context.Context, cfg *config.Config) error {
	switch cfg.PolicyBackend {
	case config.BackendMemory:
		s.policies = store.NewMemoryPolicyStore()
	case config.BackendPGVector:
		db, err := openDB("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db.Close)
		pg := store.NewPGVectorPolicyStore(db)
		if err := pg.Init(ctx); err != nil {
			return err
		}
		s.policies = pg
	case config.BackendMongo:
		client, coll, err := store.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() error { return client.Disconnect(context.Background()) })
		s.policies = store.NewMongoPolicyStore(coll, store.DefaultVectorIndex)
	}

	loader, file, err := openCorpus(cfg.PolicyCorpusPath)
	if err != nil {
		return err
	}
	corpus := policy.DefaultPolicies()
	if loader != nil {
		if corpus, err = readCorpus(loader, file); err != nil {
			return err
		}
	}
	n, err := store.SeedIfEmpty(ctx, s.policies, s.embedder, corpus)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.InfoContext(ctx, "policy store seeded", "backend", cfg.PolicyBackend, "policies", n)
	}

	if loader != nil {
		s.corpus, s.corpusFile = loader, file
		loader.OnReload(s.syncCorpus)
	}
	return nil
}

// syncCorpus writes a reloaded corpus through to the policy store.
func (s *subsystems) syncCorpus(c *policyloader.Corpus) {
	ctx, cancel := context.WithTimeout(context.Background(), corpusSyncTimeout)
	defer cancel()
	n, err := store.SyncPolicies(ctx, s.policies, s.embedder, c.Policies)
	if err != nil {
		slog.ErrorContext(ctx, "policy corpus sync failed", "corpus", c.Name, "version", c.Version, "error", err)
		return
	}
	slog.InfoContext(ctx, "policy corpus reloaded", "corpus", c.Name, "version", c.Version, "policies", n)
}

// reloadCorpus rereads the configured corpus. Each corpus that parses is
// upserted into the policy store; policies missing from the new files are
// kept.
func (s *subsystems) reloadCorpus() error {
	if s.corpus == nil {
		return nil
	}
	_, err := readCorpus(s.corpus, s.corpusFile)
	return err
}

// loadCorpus reads a corpus file or directory. An empty path selects the
// built-in policies.
func loadCorpus(path string) ([]policy.RefundPolicy, error) {
	loader, file, err := openCorpus(path)
	if err != nil {
		return nil, err
	}
	if loader == nil {
		return policy.DefaultPolicies(), nil
	}
	return readCorpus(loader, file)
}

// openCorpus returns a loader for path and, when path is a single file, its
// name. An empty path returns a nil loader.
func openCorpus(path string) (*policyloader.Loader, string, error) {
	if path == "" {
		return nil, "", nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("policy corpus: %w", err)
	}
	if info.IsDir() {
		loader, err := policyloader.NewLoader(path, nil)
		return loader, "", err
	}
	loader, err := policyloader.NewLoader("", nil)
	return loader, path, err
}

func readCorpus(loader *policyloader.Loader, file string) ([]policy.RefundPolicy, error) {
	if file != "" {
		c, err := loader.LoadFile(file)
		if err != nil {
			return nil, err
		}
		return c.Policies, nil
	}
	if err := loader.LoadAll(); err != nil {
		return nil, err
	}
	return loader.Policies(), nil
}

func newGateway(cfg *config.Config) gateway.Gateway {
	if cfg.GatewayURL == "" {
		slog.Warn("GATEWAY_URL not set, using simulated transfers")
		return gateway.NewSimulated()
	}
	return gateway.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayAPIKey)
}

func newExplainer(cfg *config.Config) evaluator.Explainer {
	if cfg.LLMServiceURL == "" && cfg.LLMAPIKey == "" {
		return nil
	}
	return evaluator.NewLLMExplainer(llm.NewOpenAIClient(cfg.LLMServiceURL, cfg.LLMAPIKey, cfg.LLMModel))
}
