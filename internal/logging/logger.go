package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"cloven/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	handler, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}

// NewHandler builds the handler behind New so callers can tee it.
func NewHandler(opts Options) (slog.Handler, error) {
	level := ParseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	outputWriter, err := openWriters(defaultSlice(opts.OutputPaths, []string{"stdout"}))
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	switch format {
	case "json":
		return newJSONHandler(outputWriter, levelVar, addSource), nil
	case "console":
		return newPrettyHandler(outputWriter, levelVar, addSource), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger using application config defaults. Console
// output is used on terminals; JSON is used when stdout is redirected and the
// configured format is "auto". Outputs default to stdout.
func NewFromConfig(cfg *config.Config, outputs ...string) (*slog.Logger, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	if cfg == nil {
		return New(Options{Level: "info", Format: "console", OutputPaths: outputs})
	}

	format := cfg.Logging.Format
	if format == "" || format == "auto" {
		format = "console"
		stream := os.Stdout
		if outputs[0] == "stderr" {
			stream = os.Stderr
		}
		if !isatty.IsTerminal(stream.Fd()) {
			format = "json"
		}
	}

	base := ParseLevel(cfg.Logging.Level)
	verbose := verboseFloor(base, cfg.Logging.StageOverrides)
	logger, err := New(Options{
		Level:       verbose.String(),
		Format:      format,
		OutputPaths: outputs,
	})
	if err != nil {
		return nil, err
	}
	if verbose < base {
		logger = WithMinLevel(logger, base)
	}
	return logger, nil
}

// NewRunFileHandler opens a JSON handler writing to a per-run log file inside
// the configured log directory.
func NewRunFileHandler(cfg *config.Config, runID string) (slog.Handler, string, error) {
	if cfg == nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return nil, "", nil
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure log directory: %w", err)
	}
	path := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("%s-%s.log", cfg.InstanceName(), runID))
	handler, err := NewHandler(Options{Level: "debug", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		return nil, "", err
	}
	return newRunIDHandler(handler, runID), path, nil
}

// ParseLevel maps a textual level to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		return append([]string(nil), fallback...)
	}
	return append([]string(nil), value...)
}

func openWriters(outputPaths []string) (io.Writer, error) {
	seen := map[string]struct{}{}
	var writers []io.Writer

	for _, path := range outputPaths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		switch trimmed {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := ensureLogDir(trimmed); err != nil {
				return nil, err
			}
			file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", trimmed, err)
			}
			writers = append(writers, file)
		}
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
