package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateInstance(); err != nil {
		return err
	}
	if err := c.validateParallel(); err != nil {
		return err
	}
	if err := c.validateCommit(); err != nil {
		return err
	}
	if err := c.validateTelemetry(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateInstance() error {
	if c.Instance.N < 4 {
		return errors.New("instance.n must be at least 4")
	}
	if c.Instance.N > 16 {
		return errors.New("instance.n must be at most 16 (codings use one hex digit per node)")
	}
	if c.Instance.K != 2 {
		return fmt.Errorf("instance.k: only k = 2 is supported, got %d", c.Instance.K)
	}
	if len(c.Instance.Weights) != c.Instance.K {
		return fmt.Errorf("instance.weights must have %d entries", c.Instance.K)
	}
	for _, w := range c.Instance.Weights {
		if w <= 0 {
			return errors.New("instance.weights must be positive")
		}
	}
	switch c.Instance.Generator {
	case "f", "h":
	default:
		return fmt.Errorf("instance.generator must be \"f\" or \"h\", got %q", c.Instance.Generator)
	}
	return nil
}

func (c *Config) validateParallel() error {
	p := c.Parallel
	if err := ensurePositiveMap(map[string]int{
		"parallel.workers":                p.Workers,
		"parallel.min_chunks_per_worker":  p.MinChunksPerWorker,
		"parallel.max_chunk_size":         p.MaxChunkSize,
		"parallel.chunks_per_batch":       p.ChunksPerBatch,
		"parallel.preloaded_batches":      p.PreloadedBatches,
		"parallel.tick_interval_ms":       p.TickIntervalMS,
		"parallel.shutdown_grace_seconds": p.ShutdownGraceSeconds,
	}); err != nil {
		return err
	}
	if p.ChunkSeconds <= 0 {
		return errors.New("parallel.chunk_seconds must be positive")
	}
	if p.InitialWaitSeconds < 0 {
		return errors.New("parallel.initial_wait_seconds must be >= 0")
	}
	if p.RestartDelaySeconds < 0 {
		return errors.New("parallel.restart_delay_seconds must be >= 0")
	}
	if p.MaxRestartDelaySeconds < p.RestartDelaySeconds {
		return errors.New("parallel.max_restart_delay_seconds must be >= parallel.restart_delay_seconds")
	}
	if p.MaxChunkAttempts < 0 {
		return errors.New("parallel.max_chunk_attempts must be >= 0 (0 disables the limit)")
	}
	if p.Niceness < 0 || p.Niceness > 19 {
		return errors.New("parallel.niceness must be between 0 and 19")
	}
	return nil
}

func (c *Config) validateCommit() error {
	if c.Commit.IntervalSeconds <= 0 {
		return errors.New("commit.interval_seconds must be positive")
	}
	if c.Commit.MaxCache <= 0 {
		return errors.New("commit.max_cache must be positive")
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	switch c.Telemetry.Progress {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("telemetry.progress must be auto, on or off, got %q", c.Telemetry.Progress)
	}
	if c.Telemetry.SampleIntervalMS <= 0 {
		return errors.New("telemetry.sample_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	for stage, level := range c.Logging.StageOverrides {
		if !validLevel(level) {
			return fmt.Errorf("logging.stage_overrides.%s: unknown level %q", stage, level)
		}
	}
	if !validLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
