package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the instance database and seed it with every graph",
		Long: "Enumerate the graphs of the configured instance (n, k, weights, generator)\n" +
			"and insert them into its database. Existing rows are kept, so init can be\n" +
			"rerun safely.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.openExclusive()
			if err != nil {
				return err
			}
			defer st.Close()

			inst := cfg.Instance
			added, err := st.Seed(cmd.Context(), inst.Generator, inst.N, inst.K)
			if err != nil {
				return fmt.Errorf("seed %s: %w", cfg.InstanceName(), err)
			}
			total, err := st.Total(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", st.Path())
			fmt.Fprintf(out, "Seeded %s new graphs (%s total)\n", humanize.Comma(int64(added)), humanize.Comma(int64(total)))
			return nil
		},
	}
}
