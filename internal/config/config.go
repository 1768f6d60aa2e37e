package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Instance selects which family of graphs is enumerated and processed.
type Instance struct {
	N         int    `toml:"n"`
	K         int    `toml:"k"`
	Weights   []int  `toml:"weights"`
	Generator string `toml:"generator"`
	Strategy  string `toml:"strategy"`
}

// Calculators selects the implementation variant used for each stage kind.
type Calculators struct {
	Canon       string `toml:"canon"`
	Certificate string `toml:"certificate"`
	SubtExtr    string `toml:"subt_extr"`
	Gap         string `toml:"gap"`
}

// Parallel contains worker pool and dispatch tuning. Every field can be
// overridden from the environment with the CLOVEN_PARALLEL_ prefix, e.g.
// CLOVEN_PARALLEL_WORKERS=4.
type Parallel struct {
	Workers                int     `toml:"workers" split_words:"true"`
	ChunkSeconds           float64 `toml:"chunk_seconds" split_words:"true"`
	MinChunksPerWorker     int     `toml:"min_chunks_per_worker" split_words:"true"`
	MaxChunkSize           int     `toml:"max_chunk_size" split_words:"true"`
	ChunksPerBatch         int     `toml:"chunks_per_batch" split_words:"true"`
	PreloadedBatches       int     `toml:"preloaded_batches" split_words:"true"`
	InitialWaitSeconds     float64 `toml:"initial_wait_seconds" split_words:"true"`
	RestartDelaySeconds    float64 `toml:"restart_delay_seconds" split_words:"true"`
	MaxRestartDelaySeconds float64 `toml:"max_restart_delay_seconds" split_words:"true"`
	MaxChunkAttempts       int     `toml:"max_chunk_attempts" split_words:"true"`
	Niceness               int     `toml:"niceness" split_words:"true"`
	TickIntervalMS         int     `toml:"tick_interval_ms" envconfig:"TICK_INTERVAL_MS"`
	ShutdownGraceSeconds   int     `toml:"shutdown_grace_seconds" split_words:"true"`
	InProcess              bool    `toml:"in_process" split_words:"true"`
}

// Commit controls how often buffered results are flushed to the database.
type Commit struct {
	IntervalSeconds float64 `toml:"interval_seconds"`
	MaxCache        int     `toml:"max_cache"`
}

// Coefficients parameterise the per-item time model a*exp(b*n) in seconds.
type Coefficients struct {
	A float64 `toml:"a"`
	B float64 `toml:"b"`
}

// Telemetry contains resource monitoring and progress reporting settings.
type Telemetry struct {
	MetricsBind      string `toml:"metrics_bind"`
	Progress         string `toml:"progress"`
	SampleIntervalMS int    `toml:"sample_interval_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for cloven.
//
// Configuration sections:
//   - Paths: data and log directories
//   - Instance: graph family (n, k, weights, generator) and default strategy
//   - Calculators: implementation variant per stage kind
//   - Parallel: worker pool, chunking and dispatch pacing
//   - Commit: result flush policy
//   - Estimator: per-stage time model coefficients
//   - Telemetry: resource sampling, metrics endpoint and progress bar
//   - Logging: log format, level, and per-stage overrides
type Config struct {
	Paths       Paths                   `toml:"paths"`
	Instance    Instance                `toml:"instance"`
	Calculators Calculators             `toml:"calculators"`
	Parallel    Parallel                `toml:"parallel"`
	Commit      Commit                  `toml:"commit"`
	Estimator   map[string]Coefficients `toml:"estimator"`
	Telemetry   Telemetry               `toml:"telemetry"`
	Logging     Logging                 `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cloven/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides for the parallel section are applied after the file is decoded.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnv() error {
	if err := envconfig.Process("cloven_parallel", &c.Parallel); err != nil {
		return fmt.Errorf("parallel environment overrides: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cloven.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// InstanceName identifies the configured graph family, e.g. "k2_n7_w11_f".
func (c *Config) InstanceName() string {
	var weights strings.Builder
	for _, w := range c.Instance.Weights {
		fmt.Fprintf(&weights, "%d", w)
	}
	return fmt.Sprintf("k%d_n%d_w%s_%s", c.Instance.K, c.Instance.N, weights.String(), c.Instance.Generator)
}

// DatabasePath returns the SQLite file holding the configured instance.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, c.InstanceName()+".db")
}

// RunInfoPath returns the JSON file that records run history next to the database.
func (c *Config) RunInfoPath() string {
	return filepath.Join(c.Paths.DataDir, c.InstanceName()+".run.json")
}

// Model returns the estimator coefficients for a stage kind, falling back to
// a flat one-millisecond-per-item model when none are configured.
func (c *Config) Model(kind string) Coefficients {
	if coeff, ok := c.Estimator[kind]; ok {
		return coeff
	}
	return Coefficients{A: 0.001, B: 0}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
