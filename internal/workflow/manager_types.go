package workflow

import (
	"context"
	"errors"
	"time"

	"cloven/internal/calc"
	"cloven/internal/pipeline"
	"cloven/internal/store"
)

var (
	// ErrInterrupted is returned when a run stops on cancellation after
	// flushing the results it already had.
	ErrInterrupted = errors.New("run interrupted")
	// ErrIncomplete is returned when keys were quarantined; they stay
	// pending and are retried by the next run.
	ErrIncomplete = errors.New("run incomplete: keys quarantined")
)

// Store is what the driver needs from persistence.
type Store interface {
	Count(ctx context.Context, sel pipeline.Selection) (int, error)
	SelectKeys(ctx context.Context, sel pipeline.Selection) ([]pipeline.Key, error)
	Write(ctx context.Context, fn func(store.BulkWriter) error) error
}

// Outcome classifies how a stage ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeIncomplete  Outcome = "incomplete"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeFailed      Outcome = "failed"
)

// StageReport summarises one stage run.
type StageReport struct {
	Stage       string
	Kind        calc.Kind
	Variant     string
	Selection   string
	Total       int
	Committed   int
	Quarantined []string
	Dropped     int
	ChunkSize   int
	Restarts    int
	Elapsed     time.Duration
	Outcome     Outcome
}

// Report summarises a strategy run.
type Report struct {
	RunID       string
	Strategy    pipeline.Strategy
	Calculators string
	Stages      []StageReport
	Elapsed     time.Duration
	Outcome     Outcome
}

// driverState moves once from running to draining.
type driverState int

const (
	driverRunning driverState = iota
	driverDraining
)
