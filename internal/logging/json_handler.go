package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				attr.Key = "level"
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "msg"
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	}
	return &lastWinsHandler{next: slog.NewJSONHandler(w, &opts)}
}

// lastWinsHandler keeps one value per key in each JSON object. Loggers are
// layered (workflow, then pool or commit) and each layer may set component or
// stage again; the innermost value wins, in the position the key first
// appeared.
type lastWinsHandler struct {
	next  slog.Handler
	attrs []slog.Attr
}

func (h *lastWinsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *lastWinsHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+record.NumAttrs())
	attrs = append(attrs, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	out.AddAttrs(lastWins(attrs)...)
	return h.next.Handle(ctx, out)
}

func (h *lastWinsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lastWinsHandler{next: h.next, attrs: append(slices.Clip(h.attrs), attrs...)}
}

// WithGroup hands the pending attributes to the JSON handler before the
// group opens; keys inside the group are tracked separately.
func (h *lastWinsHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &lastWinsHandler{next: h.next.WithAttrs(lastWins(h.attrs)).WithGroup(name)}
}

func lastWins(attrs []slog.Attr) []slog.Attr {
	if len(attrs) < 2 {
		return attrs
	}
	positions := make(map[string]int, len(attrs))
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" {
			out = append(out, attr)
			continue
		}
		if pos, ok := positions[attr.Key]; ok {
			out[pos] = attr
			continue
		}
		positions[attr.Key] = len(out)
		out = append(out, attr)
	}
	return out
}
