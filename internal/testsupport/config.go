package testsupport

import (
	"path/filepath"
	"testing"

	"cloven/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Pacing is shortened so pool and driver tests finish in milliseconds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Instance.N = 5
	cfgVal.Instance.Weights = []int{1, 1}
	cfgVal.Parallel.Workers = 2
	cfgVal.Parallel.InitialWaitSeconds = 0
	cfgVal.Parallel.RestartDelaySeconds = 0.001
	cfgVal.Parallel.MaxRestartDelaySeconds = 0.005
	cfgVal.Parallel.TickIntervalMS = 2
	cfgVal.Parallel.ShutdownGraceSeconds = 1
	cfgVal.Parallel.Niceness = 0
	cfgVal.Parallel.InProcess = true
	cfgVal.Commit.IntervalSeconds = 0.01
	cfgVal.Telemetry.Progress = "off"
	cfgVal.Telemetry.SampleIntervalMS = 5
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithInstance sets the node count and generator.
func WithInstance(n int, generator string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Instance.N = n
		b.cfg.Instance.Generator = generator
	}
}

// WithWorkers overrides the worker count.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Parallel.Workers = workers
	}
}

// WithParallel edits the parallel section in place.
func WithParallel(edit func(*config.Parallel)) ConfigOption {
	return func(b *configBuilder) {
		edit(&b.cfg.Parallel)
	}
}

// WithVariant selects the calculator variant for one stage kind.
func WithVariant(kind, variant string) ConfigOption {
	return func(b *configBuilder) {
		switch kind {
		case "canon":
			b.cfg.Calculators.Canon = variant
		case "certificate":
			b.cfg.Calculators.Certificate = variant
		case "subt_extr":
			b.cfg.Calculators.SubtExtr = variant
		case "gap":
			b.cfg.Calculators.Gap = variant
		default:
			b.t.Fatalf("unknown stage kind %q", kind)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
