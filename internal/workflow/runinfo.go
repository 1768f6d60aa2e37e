package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"cloven/internal/fileutil"
)

// RunInfo is one entry of the run history kept next to the database.
type RunInfo struct {
	RunID       string      `json:"run_id"`
	Host        string      `json:"host"`
	Started     time.Time   `json:"started"`
	Instance    string      `json:"instance"`
	N           int         `json:"n"`
	K           int         `json:"k"`
	Weights     []int       `json:"weights"`
	Generator   string      `json:"generator"`
	Strategy    string      `json:"strategy"`
	Calculators string      `json:"calculators"`
	Options     RunOptions  `json:"options"`
	Stages      []StageInfo `json:"stages"`
	WallSeconds float64     `json:"wall_seconds"`
	Outcome     Outcome     `json:"outcome"`
	LogPath     string      `json:"log_path,omitempty"`
}

// RunOptions records the pool settings a run used.
type RunOptions struct {
	Workers          int     `json:"workers"`
	ChunkSeconds     float64 `json:"chunk_seconds"`
	ChunksPerBatch   int     `json:"chunks_per_batch"`
	PreloadedBatches int     `json:"preloaded_batches"`
	CommitInterval   float64 `json:"commit_interval_seconds"`
	InProcess        bool    `json:"in_process"`
}

// StageInfo is the per-stage part of a RunInfo.
type StageInfo struct {
	Stage       string  `json:"stage"`
	Kind        string  `json:"kind"`
	Variant     string  `json:"variant"`
	Selection   string  `json:"selection"`
	Total       int     `json:"total"`
	Committed   int     `json:"committed"`
	Quarantined int     `json:"quarantined"`
	ChunkSize   int     `json:"chunk_size"`
	Restarts    int     `json:"restarts"`
	WallSeconds float64 `json:"wall_seconds"`
	Outcome     Outcome `json:"outcome"`
}

func (m *Manager) runInfo(report Report, started time.Time, logPath string) RunInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	inst := m.cfg.Instance
	par := m.cfg.Parallel
	info := RunInfo{
		RunID:       report.RunID,
		Host:        host,
		Started:     started.UTC(),
		Instance:    m.cfg.InstanceName(),
		N:           inst.N,
		K:           inst.K,
		Weights:     append([]int(nil), inst.Weights...),
		Generator:   inst.Generator,
		Strategy:    report.Strategy.Code,
		Calculators: report.Calculators,
		Options: RunOptions{
			Workers:          par.Workers,
			ChunkSeconds:     par.ChunkSeconds,
			ChunksPerBatch:   par.ChunksPerBatch,
			PreloadedBatches: par.PreloadedBatches,
			CommitInterval:   m.cfg.Commit.IntervalSeconds,
			InProcess:        par.InProcess,
		},
		WallSeconds: report.Elapsed.Seconds(),
		Outcome:     report.Outcome,
		LogPath:     logPath,
	}
	for _, stage := range report.Stages {
		info.Stages = append(info.Stages, StageInfo{
			Stage:       stage.Stage,
			Kind:        string(stage.Kind),
			Variant:     stage.Variant,
			Selection:   stage.Selection,
			Total:       stage.Total,
			Committed:   stage.Committed,
			Quarantined: len(stage.Quarantined),
			ChunkSize:   stage.ChunkSize,
			Restarts:    stage.Restarts,
			WallSeconds: stage.Elapsed.Seconds(),
			Outcome:     stage.Outcome,
		})
	}
	return info
}

// ReadRunHistory loads the run history at path. A missing file is an empty
// history.
func ReadRunHistory(path string) ([]RunInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run history: %w", err)
	}
	var history []RunInfo
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse run history %s: %w", path, err)
	}
	return history, nil
}

// appendRunHistory adds info to the history file, replacing it atomically.
func appendRunHistory(path string, info RunInfo) error {
	history, err := ReadRunHistory(path)
	if err != nil {
		return err
	}
	history = append(history, info)
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run history: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write run history: %w", err)
	}
	return nil
}
