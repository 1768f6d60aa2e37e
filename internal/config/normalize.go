package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeInstance()
	c.normalizeCalculators()
	c.normalizeTelemetry()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeInstance() {
	c.Instance.Generator = strings.ToLower(strings.TrimSpace(c.Instance.Generator))
	if c.Instance.Generator == "" {
		c.Instance.Generator = defaultGenerator
	}
	c.Instance.Strategy = strings.ToUpper(strings.TrimSpace(c.Instance.Strategy))
	if c.Instance.Strategy == "" {
		c.Instance.Strategy = defaultStrategy
	}
	if len(c.Instance.Weights) == 0 && c.Instance.K > 0 {
		c.Instance.Weights = make([]int, c.Instance.K)
		for i := range c.Instance.Weights {
			c.Instance.Weights[i] = 1
		}
	}
}

func (c *Config) normalizeCalculators() {
	c.Calculators.Canon = normalizeVariant(c.Calculators.Canon, defaultCanonVariant)
	c.Calculators.Certificate = normalizeVariant(c.Calculators.Certificate, defaultCertificateVariant)
	c.Calculators.SubtExtr = normalizeVariant(c.Calculators.SubtExtr, defaultSubtExtrVariant)
	c.Calculators.Gap = normalizeVariant(c.Calculators.Gap, defaultGapVariant)
}

func normalizeVariant(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.MetricsBind = strings.TrimSpace(c.Telemetry.MetricsBind)
	c.Telemetry.Progress = strings.ToLower(strings.TrimSpace(c.Telemetry.Progress))
	if c.Telemetry.Progress == "" {
		c.Telemetry.Progress = defaultProgressMode
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.StageOverrides) == 0 {
		return
	}
	overrides := make(map[string]string, len(c.Logging.StageOverrides))
	for stage, level := range c.Logging.StageOverrides {
		key := strings.ToLower(strings.TrimSpace(stage))
		if key == "" {
			continue
		}
		overrides[key] = strings.ToLower(strings.TrimSpace(level))
	}
	c.Logging.StageOverrides = overrides
}
