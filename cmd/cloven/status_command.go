package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cloven/internal/store"
	"cloven/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many graphs have each property computed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			total, err := st.Total(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Instance: %s (%s graphs)\n", cfg.InstanceName(), humanize.Comma(int64(total)))
			fmt.Fprintf(out, "Database: %s\n", st.Path())
			if total == 0 {
				fmt.Fprintln(out, "Database is empty; run `cloven init` to seed it.")
				return nil
			}

			counts, err := st.FieldCounts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderFieldCounts(counts))

			stats, err := st.GapStats(cmd.Context())
			if err != nil {
				return err
			}
			if len(stats) > 0 {
				fmt.Fprintln(out, renderGapStats(stats))
			}

			history, err := workflow.ReadRunHistory(cfg.RunInfoPath())
			if err != nil {
				return err
			}
			if len(history) > 0 {
				printLastRun(out, history[len(history)-1])
			}
			return nil
		},
	}
}

func renderFieldCounts(counts []store.FieldCount) string {
	rows := make([][]string, 0, len(counts))
	for _, fc := range counts {
		trueCol, falseCol, distinct := "-", "-", "-"
		if fc.Bool {
			trueCol = humanize.Comma(int64(fc.True))
			falseCol = humanize.Comma(int64(fc.False))
		} else {
			distinct = humanize.Comma(int64(fc.Distinct))
		}
		rows = append(rows, []string{
			fc.Field,
			humanize.Comma(int64(fc.Null)),
			humanize.Comma(int64(fc.Set)),
			trueCol,
			falseCol,
			distinct,
		})
	}
	columns := []column{left("Field"), right("Null"), right("Set"), right("True"), right("False"), right("Distinct")}
	return renderTable("", columns, rows)
}

func renderGapStats(stats map[string]int) string {
	rows := make([][]string, 0, len(stats))
	for _, status := range slices.Sorted(maps.Keys(stats)) {
		label := status
		if label == "" {
			label = "(none)"
		}
		rows = append(rows, []string{label, humanize.Comma(int64(stats[status]))})
	}
	return renderTable("Gap solver status", []column{left("Status"), right("Graphs")}, rows)
}

func printLastRun(out io.Writer, run workflow.RunInfo) {
	fmt.Fprintf(out, "Last run: strategy %s, %s %s (%s, %s)\n",
		run.Strategy,
		run.Outcome,
		humanize.Time(run.Started),
		(time.Duration(run.WallSeconds * float64(time.Second))).Round(time.Second),
		run.Calculators,
	)
}
