// Package logging assembles structured slog loggers and formatting helpers used
// across cloven.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so the driver, pool, and commit
// code tag log lines with the run, stage, and worker they concern. Per-stage
// level overrides and run log files are layered on top of a base logger with
// WithMinLevel and TeeLogger. A no-op logger is provided for tests.
//
// Loggers are always passed explicitly; there is no package-level default.
package logging
