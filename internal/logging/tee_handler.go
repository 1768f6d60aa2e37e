package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler sends each record to every sink that accepts its level.
type teeHandler struct {
	sinks []slog.Handler
}

func newTeeHandler(sinks ...slog.Handler) slog.Handler {
	live := sinks[:0:0]
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if _, noop := sink.(NoopHandler); !noop {
			live = append(live, sink)
		}
	}
	switch len(live) {
	case 0:
		return NoopHandler{}
	case 1:
		return live[0]
	}
	return &teeHandler{sinks: live}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range h.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps writing after a sink fails; a broken run log must not silence
// the console.
func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	last := len(h.sinks) - 1
	for i, sink := range h.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		rec := record
		if i != last {
			rec = record.Clone()
		}
		if err := sink.Handle(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(sink slog.Handler) slog.Handler { return sink.WithAttrs(attrs) })
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return h.each(func(sink slog.Handler) slog.Handler { return sink.WithGroup(name) })
}

func (h *teeHandler) each(fn func(slog.Handler) slog.Handler) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, sink := range h.sinks {
		sinks[i] = fn(sink)
	}
	return &teeHandler{sinks: sinks}
}

// TeeLogger returns a logger writing to base and every extra handler. Runs use
// it to mirror their output into a per-run file.
func TeeLogger(base *slog.Logger, extra ...slog.Handler) *slog.Logger {
	if base != nil {
		extra = append([]slog.Handler{base.Handler()}, extra...)
	}
	return slog.New(newTeeHandler(extra...))
}
