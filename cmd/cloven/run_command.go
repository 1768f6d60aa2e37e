package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"cloven/internal/config"
	"cloven/internal/logging"
	"cloven/internal/pipeline"
	"cloven/internal/telemetry"
	"cloven/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var strategyCode string
	var inProcess bool
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a strategy over the pending graphs",
		Long: "Run the stages of a strategy in order. Each stage computes its property for\n" +
			"every graph its selection matches and commits results periodically, so an\n" +
			"interrupted run resumes where it left off.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("in-process") {
				cfg.Parallel.InProcess = inProcess
			}
			if workers > 0 {
				cfg.Parallel.Workers = workers
			}
			code := strings.TrimSpace(strategyCode)
			if code == "" {
				code = cfg.Instance.Strategy
			}
			strategy, err := pipeline.Lookup(code)
			if err != nil {
				return err
			}

			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			st, err := ctx.openExclusive()
			if err != nil {
				return err
			}
			defer st.Close()

			total, err := st.Total(cmd.Context())
			if err != nil {
				return err
			}
			if total == 0 {
				return fmt.Errorf("database %s is empty; run `cloven init` first", st.Path())
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			metrics := telemetry.NewMetrics()
			if bind := strings.TrimSpace(cfg.Telemetry.MetricsBind); bind != "" {
				go func() {
					if err := metrics.Serve(signalCtx, bind, logger); err != nil {
						logging.WarnWithContext(logger, "metrics endpoint stopped", "metrics_serve_failed",
							logging.Error(err),
							logging.String(logging.FieldImpact, "Prometheus scrapes will fail for this run"),
						)
					}
				}()
			}
			opts := []workflow.ManagerOption{workflow.WithMetrics(metrics)}
			if progressEnabled(cfg) {
				opts = append(opts, workflow.WithProgressOutput(cmd.ErrOrStderr()))
			}

			manager, err := workflow.NewManager(cfg, st, logger, opts...)
			if err != nil {
				return err
			}
			report, runErr := manager.RunStrategy(signalCtx, strategy)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderRunReport(report))
			switch {
			case errors.Is(runErr, workflow.ErrInterrupted):
				fmt.Fprintln(out, "Interrupted; committed results are kept. Rerun to resume.")
			case errors.Is(runErr, workflow.ErrIncomplete):
				fmt.Fprintln(out, "Some graphs were quarantined after repeated failures; they stay pending for the next run.")
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&strategyCode, "strategy", "s", "", "Strategy code (see `cloven strategies`)")
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "Run calculators in goroutines instead of worker processes")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Override the number of workers")
	return cmd
}

func progressEnabled(cfg *config.Config) bool {
	switch cfg.Telemetry.Progress {
	case "on":
		return true
	case "off":
		return false
	default:
		return isatty.IsTerminal(os.Stderr.Fd())
	}
}

func renderRunReport(report workflow.Report) string {
	rows := make([][]string, 0, len(report.Stages))
	for _, stage := range report.Stages {
		rows = append(rows, []string{
			stage.Stage,
			stage.Variant,
			humanize.Comma(int64(stage.Total)),
			humanize.Comma(int64(stage.Committed)),
			humanize.Comma(int64(len(stage.Quarantined))),
			fmt.Sprintf("%d", stage.Restarts),
			stage.Elapsed.Round(10 * time.Millisecond).String(),
			string(stage.Outcome),
		})
	}
	title := fmt.Sprintf("Strategy %s (%s) | %s | %s in %s",
		report.Strategy.Code, report.Strategy.Name, report.Calculators, report.Outcome, report.Elapsed.Round(time.Second))
	columns := []column{
		left("Stage"), left("Variant"), right("Pending"), right("Committed"),
		right("Quarantined"), right("Restarts"), right("Elapsed"), left("Outcome"),
	}
	return renderTable(title, columns, rows)
}
