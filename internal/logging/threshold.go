package logging

import (
	"context"
	"log/slog"
	"strings"
)

// thresholdHandler drops records below min before they reach next. The
// wrapped handler has to be at least as verbose as any threshold stacked on
// it.
type thresholdHandler struct {
	next slog.Handler
	min  slog.Level
}

func (h *thresholdHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h *thresholdHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.min {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *thresholdHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &thresholdHandler{next: h.next.WithAttrs(attrs), min: h.min}
}

func (h *thresholdHandler) WithGroup(name string) slog.Handler {
	return &thresholdHandler{next: h.next.WithGroup(name), min: h.min}
}

// WithMinLevel returns a logger that drops records below level. Applied to a
// logger that already has a threshold, it replaces that threshold, so a stage
// override can also lower the level below the global one.
func WithMinLevel(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return slog.New(NoopHandler{})
	}
	next := logger.Handler()
	if th, ok := next.(*thresholdHandler); ok {
		next = th.next
	}
	return slog.New(&thresholdHandler{next: next, min: level})
}

// ForStage applies the configured level for stage, if logging.stage_overrides
// names one.
func ForStage(logger *slog.Logger, overrides map[string]string, stage string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	level, ok := overrides[strings.ToLower(stage)]
	if !ok {
		return logger
	}
	return WithMinLevel(logger, ParseLevel(level))
}

// verboseFloor is the lowest level any stage may log at.
func verboseFloor(base slog.Level, overrides map[string]string) slog.Level {
	floor := base
	for _, level := range overrides {
		floor = min(floor, ParseLevel(level))
	}
	return floor
}
