package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AbhayRathi/AgenticRefunds/pkg/api"
	"github.com/AbhayRathi/AgenticRefunds/pkg/evaluator"
	"github.com/AbhayRathi/AgenticRefunds/pkg/llm"
	"github.com/AbhayRathi/AgenticRefunds/pkg/store"
)

func evaluateCmd() *cobra.Command {
	var incidentPath, corpusPath string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate an incident file offline and print the decision",
		Long: `Evaluate an incident against the policy corpus without touching any
ledger or gateway. The incident file has the shape of an evaluate request:

  {"orderId": "...", "systemLogs": [...], "deliveryOrder": {...}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if corpusPath == "" {
				corpusPath = cfg.PolicyCorpusPath
			}

			data, err := os.ReadFile(incidentPath)
			if err != nil {
				return fmt.Errorf("read incident: %w", err)
			}
			var req api.EvaluateRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("parse incident: %w", err)
			}

			corpus, err := loadCorpus(corpusPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			embedder := llm.NewHashEmbedder(0)
			policies := store.NewMemoryPolicyStore()
			if _, err := store.SeedIfEmpty(ctx, policies, embedder, corpus); err != nil {
				return err
			}

			ev := evaluator.New(embedder, store.NewFallbackRetriever(policies))
			d, err := ev.Evaluate(ctx, req.OrderID, req.SystemLogs, req.DeliveryOrder)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}

	cmd.Flags().StringVarP(&incidentPath, "incident", "i", "", "incident JSON file")
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "policy corpus file or directory (default: POLICY_CORPUS_PATH or built-in)")
	_ = cmd.MarkFlagRequired("incident")
	return cmd
}
