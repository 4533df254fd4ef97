package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AbhayRathi/AgenticRefunds/pkg/config"
)

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect deployment profiles",
	}
	var dir string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the profiles REFUNDD_PROFILE can name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := config.LoadAllProfiles(dir)
			if err != nil {
				return err
			}
			codes := make([]string, 0, len(profiles))
			for code := range profiles {
				codes = append(codes, code)
			}
			sort.Strings(codes)

			out := cmd.OutOrStdout()
			if len(codes) == 0 {
				_, _ = fmt.Fprintf(out, "no profiles in %s\n", dir)
				return nil
			}
			for _, code := range codes {
				p := profiles[code]
				_, _ = fmt.Fprintf(out, "%-10s %-12s ledger=%s policies=%s\n",
					code, p.Name, orDefault(p.Ledger.Backend), orDefault(p.Policies.Backend))
			}
			return nil
		},
	}
	list.Flags().StringVar(&dir, "dir", profileDir(), "profiles directory")
	cmd.AddCommand(list)
	return cmd
}

func profileDir() string {
	if dir := os.Getenv("REFUNDD_PROFILE_DIR"); dir != "" {
		return dir
	}
	return "profiles"
}

func orDefault(backend string) string {
	if backend == "" {
		return "default"
	}
	return backend
}
