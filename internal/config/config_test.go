package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cloven/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cloven", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Instance.Strategy != "B" {
		t.Fatalf("expected default strategy B, got %q", cfg.Instance.Strategy)
	}
	if cfg.Parallel.Workers <= 0 {
		t.Fatalf("expected positive worker default, got %d", cfg.Parallel.Workers)
	}
	if cfg.Parallel.MaxChunkAttempts != 2 {
		t.Fatalf("expected one automatic retry by default, got %d attempts", cfg.Parallel.MaxChunkAttempts)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_dir = "~/graphs"

[instance]
n = 8
generator = "H"
strategy = "e"

[parallel]
workers = 3
max_chunk_size = 500

[estimator.gap]
a = 0.5
b = 0.1

[logging]
format = "JSON"

[logging.stage_overrides]
Gap = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "graphs") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Instance.Generator != "h" || cfg.Instance.Strategy != "E" {
		t.Fatalf("expected normalized generator/strategy, got %q/%q", cfg.Instance.Generator, cfg.Instance.Strategy)
	}
	if cfg.Parallel.Workers != 3 || cfg.Parallel.MaxChunkSize != 500 {
		t.Fatalf("unexpected parallel section: %+v", cfg.Parallel)
	}
	if got := cfg.Model("gap"); got.A != 0.5 || got.B != 0.1 {
		t.Fatalf("unexpected gap model: %+v", got)
	}
	if got := cfg.Model("canon"); got.A <= 0 {
		t.Fatalf("expected default canon model to survive partial estimator table, got %+v", got)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.StageOverrides["gap"] != "debug" {
		t.Fatalf("expected normalized stage override, got %v", cfg.Logging.StageOverrides)
	}
	if !strings.HasSuffix(cfg.DatabasePath(), "k2_n8_w11_h.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestParallelEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLOVEN_PARALLEL_WORKERS", "5")
	t.Setenv("CLOVEN_PARALLEL_MAX_CHUNK_ATTEMPTS", "0")
	t.Setenv("CLOVEN_PARALLEL_IN_PROCESS", "true")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[parallel]\nworkers = 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Parallel.Workers != 5 {
		t.Fatalf("expected env to override workers, got %d", cfg.Parallel.Workers)
	}
	if cfg.Parallel.MaxChunkAttempts != 0 {
		t.Fatalf("expected unlimited attempts from env, got %d", cfg.Parallel.MaxChunkAttempts)
	}
	if !cfg.Parallel.InProcess {
		t.Fatal("expected in_process from env")
	}
	if cfg.Parallel.ChunkSeconds <= 0 {
		t.Fatalf("expected untouched fields to keep defaults, got %v", cfg.Parallel.ChunkSeconds)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero workers", func(c *config.Config) { c.Parallel.Workers = 0 }, "parallel.workers"},
		{"unsupported k", func(c *config.Config) { c.Instance.K = 3; c.Instance.Weights = []int{1, 1, 1} }, "instance.k"},
		{"bad generator", func(c *config.Config) { c.Instance.Generator = "x" }, "instance.generator"},
		{"restart delays", func(c *config.Config) { c.Parallel.MaxRestartDelaySeconds = 0.5 }, "max_restart_delay_seconds"},
		{"negative attempts", func(c *config.Config) { c.Parallel.MaxChunkAttempts = -1 }, "max_chunk_attempts"},
		{"progress mode", func(c *config.Config) { c.Telemetry.Progress = "sometimes" }, "telemetry.progress"},
		{"override level", func(c *config.Config) { c.Logging.StageOverrides = map[string]string{"gap": "loud"} }, "stage_overrides"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	if decoded.Instance.Strategy != "B" {
		t.Fatalf("unexpected sample strategy %q", decoded.Instance.Strategy)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load(sample) returned error: %v", err)
	}
}
