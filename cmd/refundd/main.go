// Command refundd runs the delivery refund engine: the HTTP API, offline
// evaluation, ledger inspection and policy corpus checks.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AbhayRathi/AgenticRefunds/pkg/config"
)

var Version = "dev"

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "refundd",
		Short:         "Delivery refund decision and settlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(serveCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(ledgerCmd())
	root.AddCommand(policiesCmd())
	root.AddCommand(profilesCmd())
	return root
}

// loadConfig reads the configuration and installs a JSON logger at the
// configured level on stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger.With("service", "refundd"))
	return cfg, nil
}
