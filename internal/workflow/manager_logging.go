package workflow

import (
	"context"
	"log/slog"

	"cloven/internal/logging"
	"cloven/internal/pipeline"
)

// stageLogger decorates the manager logger with the context fields and the
// level override configured for the stage.
func (m *Manager) stageLogger(ctx context.Context, stage pipeline.Stage) *slog.Logger {
	logger := logging.WithContext(ctx, m.logger)
	if m.cfg == nil {
		return logger
	}
	logger = logging.ForStage(logger, m.cfg.Logging.StageOverrides, stage.Name)
	return logger.With(logging.String("kind", string(stage.Kind)))
}

// runLogger tees the manager logger into a per-run JSON log file.
func (m *Manager) runLogger(runID string) (*slog.Logger, string) {
	handler, path, err := logging.NewRunFileHandler(m.cfg, runID)
	if err != nil {
		logging.WarnWithContext(m.logger, "run log unavailable", "run_log_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run is only logged to the main output"),
		)
		return m.logger, ""
	}
	if handler == nil {
		return m.logger, ""
	}
	return logging.TeeLogger(m.logger, handler), path
}
