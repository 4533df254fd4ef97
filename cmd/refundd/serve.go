package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AbhayRathi/AgenticRefunds/pkg/api"
	"github.com/AbhayRathi/AgenticRefunds/pkg/config"
	"github.com/AbhayRathi/AgenticRefunds/pkg/evaluator"
	"github.com/AbhayRathi/AgenticRefunds/pkg/llm"
	"github.com/AbhayRathi/AgenticRefunds/pkg/observability"
	"github.com/AbhayRathi/AgenticRefunds/pkg/settlement"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the refund HTTP API",
		Long: `Run the refund HTTP API until SIGINT or SIGTERM. SIGHUP rereads
POLICY_CORPUS_PATH into the policy store.

Backends are chosen by environment, for example:
  LEDGER_BACKEND=sqlite LEDGER_SEED_DEMO=true refundd serve
  REFUNDD_PROFILE=shared refundd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// buildServer wires every component for cfg. The returned subsystems must be
// closed by the caller.
func buildServer(ctx context.Context, cfg *config.Config, obs *observability.Provider) (*api.RefundServer, *subsystems, error) {
	subs := &subsystems{}
	subs.setupEmbedder(cfg)
	if err := subs.setupLedger(ctx, cfg); err != nil {
		_ = subs.Close()
		return nil, nil, fmt.Errorf("ledger: %w", err)
	}
	if err := subs.setupPolicies(ctx, cfg); err != nil {
		_ = subs.Close()
		return nil, nil, fmt.Errorf("policies: %w", err)
	}

	ev := evaluator.New(subs.embedder, store.NewFallbackRetriever(subs.policies),
		evaluator.WithExplainer(newExplainer(cfg)),
		evaluator.WithDimensions(llm.DefaultEmbeddingDimensions),
		evaluator.WithObservability(obs),
	)
	resolver := settlement.NewResolver(subs.ledger, newGateway(cfg),
		settlement.Config{BonusMultiplier: cfg.BonusMultiplier, TransferTimeout: cfg.TransferTimeout},
		settlement.WithJournal(subs.receipts),
		settlement.WithObservability(obs),
	)
	srv, err := api.NewRefundServer(ev, resolver, subs.ledger, api.WithReceipts(subs.receipts))
	if err != nil {
		_ = subs.Close()
		return nil, nil, err
	}
	return srv, subs, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = Version
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = true
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	srv, subs, err := buildServer(ctx, cfg, obs)
	if err != nil {
		return err
	}
	defer func() {
		if err := subs.Close(); err != nil {
			logger.Warn("closing backends", "error", err)
		}
	}()

	var idem api.IdempotencyStore
	if cfg.IdempotencyBackend == config.BackendRedis {
		idem = api.NewRedisIdempotencyStore(subs.redisClient(cfg), cfg.IdempotencyTTL)
	} else {
		idem = api.NewMemoryIdempotencyStore(ctx, cfg.IdempotencyTTL)
	}

	handler := srv.Handler(
		api.RequestID,
		api.AccessLog(logger.With("component", "http")),
		api.NewGlobalRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware,
		api.LimitBody,
		api.NewIdempotency(idem).Middleware,
	)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("refund API listening",
			"addr", httpServer.Addr,
			"ledger", cfg.LedgerBackend,
			"policies", cfg.PolicyBackend,
			"idempotency", cfg.IdempotencyBackend)
		errCh <- httpServer.ListenAndServe()
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

serving:
	for {
		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-hup:
			if err := subs.reloadCorpus(); err != nil {
				logger.Error("policy corpus reload failed", "error", err)
			}
		case <-ctx.Done():
			break serving
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
