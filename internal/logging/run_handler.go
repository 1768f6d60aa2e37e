package logging

import (
	"context"
	"log/slog"
)

// runIDHandler injects the run identifier into every record so a run log
// file can be correlated with the run-info history. Loggers that already
// carry run_id through With are left alone.
type runIDHandler struct {
	base   slog.Handler
	runID  string
	tagged bool
}

func newRunIDHandler(base slog.Handler, runID string) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	return &runIDHandler{base: base, runID: runID}
}

func (h *runIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *runIDHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.tagged {
		record.AddAttrs(slog.String(FieldRunID, h.runID))
	}
	return h.base.Handle(ctx, record)
}

func (h *runIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	tagged := h.tagged
	for _, attr := range attrs {
		if attr.Key == FieldRunID {
			tagged = true
		}
	}
	return &runIDHandler{base: h.base.WithAttrs(attrs), runID: h.runID, tagged: tagged}
}

func (h *runIDHandler) WithGroup(name string) slog.Handler {
	return &runIDHandler{base: h.base.WithGroup(name), runID: h.runID, tagged: h.tagged}
}
