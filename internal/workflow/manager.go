package workflow

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloven/internal/calc"
	"cloven/internal/config"
	"cloven/internal/logging"
	"cloven/internal/pool"
	"cloven/internal/telemetry"
)

// Manager runs strategies and stages against one store.
type Manager struct {
	cfg      *config.Config
	store    Store
	logger   *slog.Logger
	registry *calc.Registry
	launcher pool.Launcher
	metrics  *telemetry.Metrics
	progress io.Writer
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithRegistry replaces the calculator registry used to probe calculators
// and, for in-process runs, to build them.
func WithRegistry(registry *calc.Registry) ManagerOption {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithLauncher replaces the worker launcher chosen from configuration.
func WithLauncher(launcher pool.Launcher) ManagerOption {
	return func(m *Manager) {
		m.launcher = launcher
	}
}

// WithMetrics shares a metrics registry across stages, e.g. one that is
// being served over HTTP.
func WithMetrics(metrics *telemetry.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithProgressOutput enables the progress bar on w.
func WithProgressOutput(w io.Writer) ManagerOption {
	return func(m *Manager) {
		m.progress = w
	}
}

// NewManager constructs a workflow manager. Workers are re-executions of the
// current binary unless parallel.in_process is set or a launcher is given.
func NewManager(cfg *config.Config, store Store, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil || store == nil {
		return nil, fmt.Errorf("workflow manager requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "workflow"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = calc.NewRegistry()
	}
	if m.metrics == nil {
		m.metrics = telemetry.NewMetrics()
	}
	if m.launcher == nil {
		if cfg.Parallel.InProcess {
			m.launcher = pool.NewInProcessLauncher(m.registry, logger)
		} else {
			launcher, err := pool.NewExecLauncher(logger)
			if err != nil {
				return nil, err
			}
			m.launcher = launcher
		}
	}
	return m, nil
}

// Variants returns the configured calculator variant per stage kind.
func (m *Manager) Variants() map[calc.Kind]string {
	c := m.cfg.Calculators
	return map[calc.Kind]string{
		calc.KindCanon:       c.Canon,
		calc.KindCertificate: c.Certificate,
		calc.KindSubtExtr:    c.SubtExtr,
		calc.KindGap:         c.Gap,
	}
}

func (m *Manager) params() calc.Params {
	return calc.Params{N: m.cfg.Instance.N, K: m.cfg.Instance.K, Weights: m.cfg.Instance.Weights}
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}
