package config

import "runtime"

const (
	defaultDataDir                = "~/.local/share/cloven/data"
	defaultLogDir                 = "~/.local/share/cloven/logs"
	defaultN                      = 7
	defaultK                      = 2
	defaultGenerator              = "f"
	defaultStrategy               = "B"
	defaultCanonVariant           = "smart"
	defaultCertificateVariant     = "sha"
	defaultSubtExtrVariant        = "direct"
	defaultGapVariant             = "simplex"
	defaultChunkSeconds           = 30.0
	defaultMinChunksPerWorker     = 4
	defaultMaxChunkSize           = 10000
	defaultChunksPerBatch         = 2
	defaultPreloadedBatches       = 2
	defaultInitialWaitSeconds     = 2.0
	defaultRestartDelaySeconds    = 1.0
	defaultMaxRestartDelaySeconds = 30.0
	defaultMaxChunkAttempts       = 2
	defaultNiceness               = 10
	defaultTickIntervalMS         = 250
	defaultShutdownGraceSeconds   = 5
	defaultCommitIntervalSeconds  = 60.0
	defaultCommitMaxCache         = 50000
	defaultProgressMode           = "auto"
	defaultSampleIntervalMS       = 1000
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Instance: Instance{
			N:         defaultN,
			K:         defaultK,
			Weights:   []int{1, 1},
			Generator: defaultGenerator,
			Strategy:  defaultStrategy,
		},
		Calculators: Calculators{
			Canon:       defaultCanonVariant,
			Certificate: defaultCertificateVariant,
			SubtExtr:    defaultSubtExtrVariant,
			Gap:         defaultGapVariant,
		},
		Parallel: Parallel{
			Workers:                runtime.NumCPU(),
			ChunkSeconds:           defaultChunkSeconds,
			MinChunksPerWorker:     defaultMinChunksPerWorker,
			MaxChunkSize:           defaultMaxChunkSize,
			ChunksPerBatch:         defaultChunksPerBatch,
			PreloadedBatches:       defaultPreloadedBatches,
			InitialWaitSeconds:     defaultInitialWaitSeconds,
			RestartDelaySeconds:    defaultRestartDelaySeconds,
			MaxRestartDelaySeconds: defaultMaxRestartDelaySeconds,
			MaxChunkAttempts:       defaultMaxChunkAttempts,
			Niceness:               defaultNiceness,
			TickIntervalMS:         defaultTickIntervalMS,
			ShutdownGraceSeconds:   defaultShutdownGraceSeconds,
		},
		Commit: Commit{
			IntervalSeconds: defaultCommitIntervalSeconds,
			MaxCache:        defaultCommitMaxCache,
		},
		Estimator: map[string]Coefficients{
			"canon":       {A: 2.0e-7, B: 1.45},
			"certificate": {A: 5.0e-8, B: 1.60},
			"subt_extr":   {A: 1.0e-6, B: 0.95},
			"gap":         {A: 4.0e-5, B: 1.30},
		},
		Telemetry: Telemetry{
			Progress:         defaultProgressMode,
			SampleIntervalMS: defaultSampleIntervalMS,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			StageOverrides: map[string]string{},
		},
	}
}
