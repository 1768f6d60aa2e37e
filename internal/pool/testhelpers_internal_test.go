package pool

import (
	"log/slog"

	"cloven/internal/logging"
)

func newTestLogger() *slog.Logger { return logging.NewNop() }
