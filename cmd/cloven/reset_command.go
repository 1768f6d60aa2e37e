package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cloven/internal/calc"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the results of one stage so it recomputes on the next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := calc.ParseKind(stageFlag)
			if err != nil {
				return err
			}
			st, err := ctx.openExclusive()
			if err != nil {
				return err
			}
			defer st.Close()

			cleared, err := st.Reset(cmd.Context(), kind)
			if err != nil {
				return fmt.Errorf("reset %s: %w", kind, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s results for stage %s\n", humanize.Comma(cleared), kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Stage kind to reset (canon, certificate, subt_extr, gap)")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}
