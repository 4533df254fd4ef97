package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AbhayRathi/AgenticRefunds/pkg/finance"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect store credit accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "balance <user>",
		Short: "Print a user's store credit balance and wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			subs := &subsystems{}
			defer func() { _ = subs.Close() }()
			if err := subs.setupLedger(ctx, cfg); err != nil {
				return err
			}

			acct, _, err := subs.ledger.Account(ctx, args[0])
			if err != nil {
				return err
			}
			wallet := acct.WalletAddress
			if wallet == "" {
				wallet = "Not set"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "user:    %s\nbalance: %s %s\nwallet:  %s\n",
				args[0], finance.Format(acct.Balance), finance.Currency, wallet)
			return err
		},
	})
	return cmd
}
