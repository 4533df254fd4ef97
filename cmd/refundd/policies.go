package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AbhayRathi/AgenticRefunds/pkg/policyloader"
)

func policiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Work with refund policy corpora",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a corpus file's version, ids and admission rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := policyloader.NewLoader("", nil)
			if err != nil {
				return err
			}
			c, err := loader.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s: corpus %q v%s, %d policies OK\n", args[0], c.Name, c.Version, len(c.Policies))
			for _, p := range c.Policies {
				_, _ = fmt.Fprintf(out, "  %-12s %5.1f%%  %s\n", p.ID, p.RefundPercentage, p.Title)
			}
			return nil
		},
	})
	return cmd
}
