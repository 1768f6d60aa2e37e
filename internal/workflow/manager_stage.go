package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloven/internal/commit"
	"cloven/internal/estimate"
	"cloven/internal/logging"
	"cloven/internal/pipeline"
	"cloven/internal/pool"
	"cloven/internal/store"
	"cloven/internal/telemetry"
)

// RunStage computes stage for every key its selection matches. It returns
// ErrInterrupted when ctx is cancelled and ErrIncomplete when keys were
// quarantined; in both cases everything already computed is committed.
func (m *Manager) RunStage(ctx context.Context, stage pipeline.Stage) (report StageReport, err error) {
	if stage.Variant == "" {
		stage.Variant = m.Variants()[stage.Kind]
	}
	ctx = logging.WithStage(ctx, stage.Name)
	logger := m.stageLogger(ctx, stage)
	sel := stage.Selection()
	report = StageReport{Stage: stage.Name, Kind: stage.Kind, Variant: stage.Variant, Selection: sel.String()}
	start := time.Now()
	defer func() {
		report.Elapsed = time.Since(start)
		if err != nil && report.Outcome == "" {
			report.Outcome = OutcomeFailed
		}
	}()

	if err := m.probe(stage); err != nil {
		logging.ErrorWithContext(logger, "calculator unusable", "calculator_probe_failed",
			logging.String("variant", stage.Variant),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the calculators section of the config"),
		)
		return report, fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	keys, err := m.store.SelectKeys(ctx, sel)
	if err != nil {
		return report, fmt.Errorf("stage %s: select keys: %w", stage.Name, err)
	}
	report.Total = len(keys)
	if len(keys) == 0 {
		logger.Info("stage has nothing pending", logging.String("selection", report.Selection))
		report.Outcome = OutcomeCompleted
		return report, nil
	}

	par := m.cfg.Parallel
	chunkSize := estimate.ChunkSize(estimate.Input{
		N:                  m.cfg.Instance.N,
		TotalPending:       len(keys),
		Workers:            par.Workers,
		TargetChunkSeconds: par.ChunkSeconds,
		MinChunksPerWorker: par.MinChunksPerWorker,
		MaxChunkSize:       par.MaxChunkSize,
	}, estimate.Model(m.cfg.Model(string(stage.Kind))))
	report.ChunkSize = chunkSize

	p, err := pool.New(pool.Options{
		Workers:   par.Workers,
		ChunkSize: chunkSize,
		Spec: pool.Spec{
			Stage:    stage.Name,
			Kind:     stage.Kind,
			Variant:  stage.Variant,
			Params:   m.params(),
			Niceness: par.Niceness,
		},
		Launcher:         m.launcher,
		RestartDelay:     seconds(par.RestartDelaySeconds),
		MaxRestartDelay:  seconds(par.MaxRestartDelaySeconds),
		InitialWait:      seconds(par.InitialWaitSeconds),
		MaxChunkAttempts: par.MaxChunkAttempts,
		Logger:           logger,
	})
	if err != nil {
		return report, fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	monitor := telemetry.New(telemetry.Options{
		Stage:          stage.Name,
		Metrics:        m.metrics,
		Logger:         logger,
		SampleInterval: time.Duration(m.cfg.Telemetry.SampleIntervalMS) * time.Millisecond,
		Progress:       m.progress != nil,
		ProgressOutput: m.progress,
	})
	defer monitor.Close()
	monitor.ChunkSize(chunkSize)

	batchSize := chunkSize * par.ChunksPerBatch * par.Workers
	d := &driver{
		logger:  logger,
		pool:    p,
		monitor: monitor,
		cache: commit.New(m.store, commit.Options{
			Interval: seconds(m.cfg.Commit.IntervalSeconds),
			MaxSize:  m.cfg.Commit.MaxCache,
			Logger:   logger,
		}),
		keys:      keys,
		batchSize: batchSize,
		window:    batchSize * par.PreloadedBatches,
		tick:      time.Duration(par.TickIntervalMS) * time.Millisecond,
		grace:     time.Duration(par.ShutdownGraceSeconds) * time.Second,
	}

	logger.Info("stage started",
		logging.String("variant", stage.Variant),
		logging.String("selection", report.Selection),
		logging.Int("pending", len(keys)),
		logging.Int("workers", par.Workers),
		logging.Int("chunk_size", chunkSize),
		logging.Int("batch_size", batchSize),
		logging.String(logging.FieldEventType, "stage_start"),
	)

	// Workers outlive ctx: shutdown is driven by the driver, never by the
	// caller's cancellation.
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		return report, fmt.Errorf("stage %s: %w", stage.Name, err)
	}
	err = d.run(ctx)

	report.Committed = d.committed
	report.Quarantined = d.pool.Quarantined()
	report.Dropped = d.dropped
	for _, s := range d.pool.Samples() {
		report.Restarts += s.Restarts
	}
	switch {
	case errors.Is(err, ErrInterrupted):
		report.Outcome = OutcomeInterrupted
	case err != nil:
		report.Outcome = OutcomeFailed
	case len(report.Quarantined) > 0:
		report.Outcome = OutcomeIncomplete
		err = fmt.Errorf("stage %s: %w (%d keys)", stage.Name, ErrIncomplete, len(report.Quarantined))
	default:
		report.Outcome = OutcomeCompleted
	}

	logger.Info("stage finished",
		logging.String("outcome", string(report.Outcome)),
		logging.Int("committed", report.Committed),
		logging.Int("quarantined", len(report.Quarantined)),
		logging.Int("restarts", report.Restarts),
		logging.Duration("elapsed", time.Since(start)),
		logging.String("summary", monitor.Summary()),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return report, err
}

// probe builds and initializes one calculator in the coordinator so an
// unusable variant fails the stage before any worker is spawned.
func (m *Manager) probe(stage pipeline.Stage) error {
	calculator, err := m.registry.New(stage.Kind, stage.Variant, m.params())
	if err != nil {
		return err
	}
	if err := calculator.Initialize(); err != nil {
		_ = calculator.Close()
		return fmt.Errorf("initialize %s/%s: %w", stage.Kind, stage.Variant, err)
	}
	return calculator.Close()
}

// driver is the single-goroutine dispatch, collect and commit loop of one
// stage.
type driver struct {
	logger  *slog.Logger
	pool    *pool.Pool
	cache   *commit.Cache
	monitor *telemetry.Monitor

	keys      []pipeline.Key
	next      int
	batchSize int
	window    int
	tick      time.Duration
	grace     time.Duration

	state     driverState
	submitted int
	received  int
	committed int
	dropped   int
}

func (d *driver) quarantined() int {
	return len(d.pool.Quarantined())
}

func (d *driver) run(ctx context.Context) error {
	timer := time.NewTimer(d.tick)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return d.interrupt(ctx)
		}
		started := time.Now()

		d.pool.Tick(started)
		d.monitor.Refresh(started, d.pool.Samples())
		if err := d.pool.Err(); err != nil {
			return d.abort(ctx, fmt.Errorf("worker pool failed: %w", err), true)
		}

		d.submit()
		d.collect()

		finished := d.received+d.quarantined() == len(d.keys)
		if finished || d.cache.Due(time.Now()) {
			if err := d.flush(ctx); err != nil {
				if ctx.Err() != nil {
					return d.interrupt(ctx)
				}
				if !errors.Is(err, store.ErrTransient) {
					return d.abort(ctx, err, false)
				}
			}
		}
		d.updateMonitor()

		if d.committed+d.quarantined() == len(d.keys) {
			if err := d.pool.Shutdown(context.WithoutCancel(ctx), d.grace); err != nil {
				d.logger.Debug("pool shutdown reported errors", logging.Error(err))
			}
			return nil
		}

		timer.Reset(max(d.tick-time.Since(started), 0))
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// submit tops up the pool in whole batches while fewer than window keys are
// queued or running.
func (d *driver) submit() {
	if d.state != driverRunning {
		return
	}
	for d.next < len(d.keys) && d.pool.Outstanding() < d.window {
		end := min(d.next+d.batchSize, len(d.keys))
		if _, err := d.pool.Submit(d.keys[d.next:end]); err != nil {
			d.logger.Debug("submit refused", logging.Error(err))
			return
		}
		d.submitted += end - d.next
		d.next = end
	}
}

// collect moves every completed chunk into the commit cache.
func (d *driver) collect() {
	for _, done := range d.pool.Collect() {
		d.monitor.ChunkDone(done.Elapsed)
		for _, item := range done.Items {
			d.cache.Add(item.Key, item.Result)
		}
		d.received += len(done.Items)
	}
}

func (d *driver) flush(ctx context.Context) error {
	count, err := d.cache.Flush(ctx)
	d.monitor.Flushed(err)
	if err != nil {
		if errors.Is(err, store.ErrTransient) {
			logging.WarnWithContext(d.logger, "commit deferred; database busy", "commit_retry",
				logging.Int("cached", d.cache.Len()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "results stay cached and are retried next tick"),
			)
		}
		return err
	}
	d.committed += count
	return nil
}

func (d *driver) updateMonitor() {
	d.monitor.Update(telemetry.Counts{
		Total:       len(d.keys),
		Loaded:      d.submitted,
		Cached:      d.cache.Len(),
		Committed:   d.committed,
		Quarantined: d.quarantined(),
	})
}

// interrupt stops dispatch, lets running chunks finish within the grace
// period, commits whatever arrived, and reports ErrInterrupted.
func (d *driver) interrupt(ctx context.Context) error {
	if d.state == driverDraining {
		return ErrInterrupted
	}
	d.state = driverDraining
	d.dropped = d.pool.Drain()
	d.logger.Warn("interrupt received; draining",
		logging.Int("dropped", d.dropped),
		logging.Int("cached", d.cache.Len()),
		logging.String(logging.FieldEventType, "stage_interrupted"),
	)
	bg := context.WithoutCancel(ctx)
	if err := d.pool.Shutdown(bg, d.grace); err != nil {
		d.logger.Debug("pool shutdown reported errors", logging.Error(err))
	}
	d.collect()
	err := d.flush(bg)
	d.updateMonitor()
	if err != nil {
		logging.ErrorWithContext(d.logger, "final commit failed", "commit_failed",
			logging.Int("lost", d.cache.Len()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the lost keys stay pending and are recomputed next run"),
		)
		return errors.Join(ErrInterrupted, err)
	}
	return ErrInterrupted
}

// abort shuts the pool down after a fatal error. When flushPending is set
// the results already received are committed first.
func (d *driver) abort(ctx context.Context, cause error, flushPending bool) error {
	d.state = driverDraining
	d.pool.Drain()
	bg := context.WithoutCancel(ctx)
	if err := d.pool.Shutdown(bg, d.grace); err != nil {
		d.logger.Debug("pool shutdown reported errors", logging.Error(err))
	}
	logging.ErrorWithContext(d.logger, "stage aborted", "stage_failed",
		logging.Error(cause),
		logging.Int("committed", d.committed),
		logging.String(logging.FieldErrorHint, "the store is consistent up to the last commit; rerun to resume"),
	)
	if flushPending {
		d.collect()
		if err := d.flush(bg); err != nil {
			return errors.Join(cause, err)
		}
	}
	return cause
}
