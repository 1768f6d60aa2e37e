package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"cloven/internal/calc"
	"cloven/internal/logging"
	"cloven/internal/pipeline"
)

// RunStrategy executes the stages of strategy in order. A stage that ends
// with quarantined keys does not stop the run; the returned error then wraps
// ErrIncomplete. Interruption and fatal errors stop at the current stage.
// Every run appends an entry to the run history, whatever its outcome.
func (m *Manager) RunStrategy(ctx context.Context, strategy pipeline.Strategy) (Report, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger, logPath := m.runLogger(runID)

	run := *m
	run.logger = logger
	variants := m.Variants()
	strategy = strategy.WithVariants(variants)

	report := Report{
		RunID:       runID,
		Strategy:    strategy,
		Calculators: calc.Tag(variants),
	}
	started := time.Now()
	runLogger := logging.WithContext(ctx, logger)
	runLogger.Info("run started",
		logging.String("strategy", strategy.Code),
		logging.String("strategy_name", strategy.Name),
		logging.String("sequence", strategy.Sequence()),
		logging.String("calculators", report.Calculators),
		logging.String("instance", m.cfg.InstanceName()),
		logging.Int("workers", m.cfg.Parallel.Workers),
		logging.String("run_log", logPath),
		logging.String(logging.FieldEventType, "run_start"),
	)

	var (
		runErr     error
		incomplete []error
	)
	for _, stage := range strategy.Stages {
		stageReport, err := run.RunStage(ctx, stage)
		report.Stages = append(report.Stages, stageReport)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrIncomplete) {
			incomplete = append(incomplete, err)
			continue
		}
		runErr = err
		break
	}

	switch {
	case errors.Is(runErr, ErrInterrupted):
		report.Outcome = OutcomeInterrupted
	case runErr != nil:
		report.Outcome = OutcomeFailed
	case len(incomplete) > 0:
		report.Outcome = OutcomeIncomplete
		runErr = errors.Join(incomplete...)
	default:
		report.Outcome = OutcomeCompleted
	}
	report.Elapsed = time.Since(started)

	if err := appendRunHistory(m.cfg.RunInfoPath(), run.runInfo(report, started, logPath)); err != nil {
		logging.WarnWithContext(runLogger, "run history not updated", "run_info_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run is missing from the run history"),
		)
	}

	runLogger.Info("run finished",
		logging.String("outcome", string(report.Outcome)),
		logging.Int("stages", len(report.Stages)),
		logging.Duration("elapsed", report.Elapsed),
		logging.String(logging.FieldEventType, "run_complete"),
	)
	return report, runErr
}
