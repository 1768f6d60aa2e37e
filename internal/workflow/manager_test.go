package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"cloven/internal/calc"
	"cloven/internal/config"
	"cloven/internal/pipeline"
	"cloven/internal/pool"
	"cloven/internal/store"
	"cloven/internal/testsupport"
	"cloven/internal/workflow"
)

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	registry *calc.Registry
	launcher *pool.InProcessLauncher
	manager  *workflow.Manager
	keys     []string
}

func newFixture(t *testing.T, fakes []*testsupport.Fake, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	for _, f := range fakes {
		opts = append(opts, testsupport.WithVariant(string(f.Kind), testsupport.FakeVariant))
	}
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustSeed(t, cfg)

	registry := testsupport.FakeRegistry(fakes...)
	launcher := pool.NewInProcessLauncher(registry, nil)
	manager, err := workflow.NewManager(cfg, st, nil,
		workflow.WithRegistry(registry),
		workflow.WithLauncher(launcher),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	keys, err := st.SelectKeys(context.Background(), pipeline.Selection{})
	if err != nil {
		t.Fatalf("SelectKeys: %v", err)
	}
	if len(keys) < 4 {
		t.Fatalf("expected at least four seeded keys, got %d", len(keys))
	}
	t.Cleanup(func() {
		for _, f := range fakes {
			f.Release()
		}
	})
	return &fixture{cfg: cfg, store: st, registry: registry, launcher: launcher, manager: manager, keys: keys}
}

// managerFor builds a manager over the fixture's config and registry that
// persists through st and launches workers through launcher.
func (f *fixture) managerFor(t *testing.T, st workflow.Store, launcher pool.Launcher) *workflow.Manager {
	t.Helper()
	manager, err := workflow.NewManager(f.cfg, st, nil,
		workflow.WithRegistry(f.registry),
		workflow.WithLauncher(launcher),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func (f *fixture) count(t *testing.T, conds ...pipeline.Condition) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), pipeline.Selection{Where: conds})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func canonStage(t *testing.T) pipeline.Stage {
	t.Helper()
	strategy, err := pipeline.Lookup("K")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return strategy.Stages[0]
}

func certificateStage(t *testing.T) pipeline.Stage {
	t.Helper()
	strategy, err := pipeline.Lookup("C")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return strategy.Stages[0]
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunStageCommitsEveryPendingKey(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})

	report, err := fx.manager.RunStage(testContext(t), canonStage(t))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if report.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", report.Outcome)
	}
	if report.Total != len(fx.keys) || report.Committed != len(fx.keys) {
		t.Fatalf("report total=%d committed=%d, want %d", report.Total, report.Committed, len(fx.keys))
	}
	if got := fx.count(t, pipeline.True("prop_canon")); got != len(fx.keys) {
		t.Fatalf("prop_canon set on %d keys, want %d", got, len(fx.keys))
	}
	if fake.Calls() != int64(len(fx.keys)) {
		t.Fatalf("expected %d calculations, got %d", len(fx.keys), fake.Calls())
	}

	again, err := fx.manager.RunStage(testContext(t), canonStage(t))
	if err != nil {
		t.Fatalf("second RunStage: %v", err)
	}
	if again.Total != 0 || again.Outcome != workflow.OutcomeCompleted {
		t.Fatalf("a finished stage must have nothing pending: %+v", again)
	}
}

func TestRunStageRecoversFromKilledWorkers(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCertificate}
	maxOne := testsupport.WithParallel(func(p *config.Parallel) {
		p.MaxChunkSize = 1
	})
	fx := newFixture(t, []*testsupport.Fake{fake}, maxOne)
	fake.BlockKey = fx.keys[len(fx.keys)/2]

	go func() {
		<-fake.Entered()
		for slot := 1; slot <= fx.cfg.Parallel.Workers; slot++ {
			fx.launcher.Kill(slot)
		}
	}()

	report, err := fx.manager.RunStage(testContext(t), certificateStage(t))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if report.Restarts == 0 {
		t.Fatal("expected killed workers to be restarted")
	}
	if len(report.Quarantined) != 0 {
		t.Fatalf("unexpected quarantine %v", report.Quarantined)
	}
	if got := fx.count(t, pipeline.Null("certificate")); got != 0 {
		t.Fatalf("%d keys still pending after recovery", got)
	}

	reference := newFixture(t, []*testsupport.Fake{{Kind: calc.KindCertificate}}, maxOne)
	if _, err := reference.manager.RunStage(testContext(t), certificateStage(t)); err != nil {
		t.Fatalf("reference RunStage: %v", err)
	}
	if !slices.Equal(fx.keys, reference.keys) {
		t.Fatal("fixtures were seeded with different keys")
	}
	for _, key := range fx.keys {
		got, err := fx.store.Lookup(context.Background(), key)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		want, err := reference.store.Lookup(context.Background(), key)
		if err != nil {
			t.Fatalf("reference Lookup: %v", err)
		}
		if !maps.Equal(got, want) {
			t.Fatalf("key %s after recovery = %v, uninterrupted run = %v", key, got, want)
		}
	}
}

func TestRunStageQuarantinesPoisonedKey(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})
	bad := fx.keys[1]
	fake.FailKeys = []string{bad}

	report, err := fx.manager.RunStage(testContext(t), canonStage(t))
	if !errors.Is(err, workflow.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if report.Outcome != workflow.OutcomeIncomplete {
		t.Fatalf("outcome = %s, want incomplete", report.Outcome)
	}
	if !slices.Equal(report.Quarantined, []string{bad}) {
		t.Fatalf("quarantined = %v, want [%s]", report.Quarantined, bad)
	}
	if got := fx.count(t, pipeline.True("prop_canon")); got != len(fx.keys)-1 {
		t.Fatalf("prop_canon set on %d keys, want %d", got, len(fx.keys)-1)
	}
	pending, err := fx.store.SelectKeys(context.Background(), canonStage(t).Selection())
	if err != nil {
		t.Fatalf("SelectKeys: %v", err)
	}
	if !slices.Equal(pending, []string{bad}) {
		t.Fatalf("quarantined key must stay pending, got %v", pending)
	}
}

func TestRunStageInterruptKeepsCommittedResults(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake},
		testsupport.WithWorkers(1),
		testsupport.WithParallel(func(p *config.Parallel) {
			p.MaxChunkSize = 1
		}),
	)
	blocked := fx.keys[len(fx.keys)/2]
	fake.BlockKey = blocked

	ctx, cancel := context.WithCancel(testContext(t))
	go func() {
		<-fake.Entered()
		cancel()
	}()

	report, err := fx.manager.RunStage(ctx, canonStage(t))
	if !errors.Is(err, workflow.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if report.Outcome != workflow.OutcomeInterrupted {
		t.Fatalf("outcome = %s, want interrupted", report.Outcome)
	}
	done := fx.count(t, pipeline.True("prop_canon"))
	if done != report.Committed {
		t.Fatalf("store has %d results but report says %d committed", done, report.Committed)
	}
	if done == 0 || done >= len(fx.keys) {
		t.Fatalf("expected a partial commit, got %d of %d", done, len(fx.keys))
	}
	fields, err := fx.store.Lookup(context.Background(), blocked)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if fields["prop_canon"] != nil {
		t.Fatalf("interrupted key must stay pending, got %v", fields["prop_canon"])
	}

	fake.Release()
	resumed, err := fx.manager.RunStage(testContext(t), canonStage(t))
	if err != nil {
		t.Fatalf("resumed RunStage: %v", err)
	}
	if resumed.Total != len(fx.keys)-done {
		t.Fatalf("resumed run selected %d keys, want %d", resumed.Total, len(fx.keys)-done)
	}
	if got := fx.count(t, pipeline.Null("prop_canon")); got != 0 {
		t.Fatalf("%d keys still pending after resume", got)
	}
}

func TestRunStageRejectsUnknownVariant(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})

	stage := canonStage(t)
	stage.Variant = "missing"
	report, err := fx.manager.RunStage(testContext(t), stage)
	if err == nil {
		t.Fatal("expected an unknown variant to fail the stage")
	}
	if report.Outcome != workflow.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome)
	}
	if got := fx.count(t, pipeline.Set("prop_canon")); got != 0 {
		t.Fatalf("nothing may be written by a failed probe, got %d", got)
	}
}

func TestRunStrategyGroupsByCertificate(t *testing.T) {
	fakes := []*testsupport.Fake{
		{Kind: calc.KindCanon},
		{Kind: calc.KindCertificate},
		{Kind: calc.KindSubtExtr},
		{Kind: calc.KindGap},
	}
	fx := newFixture(t, fakes)

	strategy, err := pipeline.Lookup("B")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	report, err := fx.manager.RunStrategy(testContext(t), strategy)
	if err != nil {
		t.Fatalf("RunStrategy: %v", err)
	}
	if report.Outcome != workflow.OutcomeCompleted || len(report.Stages) != 4 {
		t.Fatalf("unexpected report: outcome=%s stages=%d", report.Outcome, len(report.Stages))
	}

	certificates := map[string]struct{}{}
	for _, key := range fx.keys {
		certificates[testsupport.FakeCertificate(key)] = struct{}{}
	}
	if got := fx.count(t, pipeline.Set("prop_subt")); got != len(certificates) {
		t.Fatalf("subt_extr ran on %d keys, want one per certificate (%d)", got, len(certificates))
	}
	if got := fx.count(t, pipeline.Set("gap")); got != len(certificates) {
		t.Fatalf("gap ran on %d keys, want one per certificate (%d)", got, len(certificates))
	}
	for _, stage := range report.Stages {
		if stage.Variant != testsupport.FakeVariant {
			t.Fatalf("stage %s ran variant %q", stage.Stage, stage.Variant)
		}
	}
}

func TestRunStrategyRecordsRunHistory(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})
	bad := fx.keys[0]
	fake.FailKeys = []string{bad}

	strategy, err := pipeline.Lookup("K")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	report, err := fx.manager.RunStrategy(testContext(t), strategy)
	if !errors.Is(err, workflow.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if report.RunID == "" {
		t.Fatal("expected a run id")
	}

	history, err := workflow.ReadRunHistory(fx.cfg.RunInfoPath())
	if err != nil {
		t.Fatalf("ReadRunHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	entry := history[0]
	if entry.RunID != report.RunID || entry.Strategy != "K" || entry.Outcome != workflow.OutcomeIncomplete {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if len(entry.Stages) != 1 || entry.Stages[0].Committed != len(fx.keys)-1 || entry.Stages[0].Quarantined != 1 {
		t.Fatalf("unexpected stage entry %+v", entry.Stages)
	}
	if entry.Host == "" || entry.N != fx.cfg.Instance.N {
		t.Fatalf("missing host or parameters: %+v", entry)
	}

	logs, err := filepath.Glob(filepath.Join(fx.cfg.Paths.LogDir, "*-"+report.RunID+".log"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one run log, got %v (%v)", logs, err)
	}
	if info, err := os.Stat(logs[0]); err != nil || info.Size() == 0 {
		t.Fatalf("run log is empty or missing: %v", err)
	}

	fake.FailKeys = nil
	if _, err := fx.manager.RunStrategy(testContext(t), strategy); err != nil {
		t.Fatalf("second RunStrategy: %v", err)
	}
	history, err = workflow.ReadRunHistory(fx.cfg.RunInfoPath())
	if err != nil || len(history) != 2 {
		t.Fatalf("expected two history entries, got %d (%v)", len(history), err)
	}
	if history[1].Stages[0].Total != 1 {
		t.Fatalf("second run should only pick up the quarantined key, got %+v", history[1].Stages[0])
	}
}

// flakyStore fails the first transient writes with store.ErrTransient and,
// once those are used up, every write with fatal if it is set.
type flakyStore struct {
	*store.Store

	mu        sync.Mutex
	transient int
	fatal     error
	writes    int
}

func (s *flakyStore) Write(ctx context.Context, fn func(store.BulkWriter) error) error {
	s.mu.Lock()
	s.writes++
	switch {
	case s.transient > 0:
		s.transient--
		s.mu.Unlock()
		return fmt.Errorf("commit: %w", store.ErrTransient)
	case s.fatal != nil:
		s.mu.Unlock()
		return s.fatal
	}
	s.mu.Unlock()
	return s.Store.Write(ctx, fn)
}

func (s *flakyStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func TestRunStageRetriesBusyCommits(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})
	st := &flakyStore{Store: fx.store, transient: 3}
	manager := fx.managerFor(t, st, fx.launcher)

	report, err := manager.RunStage(testContext(t), canonStage(t))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if report.Outcome != workflow.OutcomeCompleted || report.Committed != len(fx.keys) {
		t.Fatalf("unexpected report %+v", report)
	}
	if st.Writes() < 4 {
		t.Fatalf("expected the busy flushes to be retried, saw %d writes", st.Writes())
	}
	if got := fx.count(t, pipeline.True("prop_canon")); got != len(fx.keys) {
		t.Fatalf("prop_canon set on %d keys, want %d", got, len(fx.keys))
	}
	if fake.Calls() != int64(len(fx.keys)) {
		t.Fatalf("cached results must not be recomputed: %d calculations for %d keys", fake.Calls(), len(fx.keys))
	}
}

func TestRunStageAbortsOnStorageFault(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})
	fault := errors.New("disk I/O error")
	st := &flakyStore{Store: fx.store, fatal: fault}
	manager := fx.managerFor(t, st, fx.launcher)

	report, err := manager.RunStage(testContext(t), canonStage(t))
	if !errors.Is(err, fault) {
		t.Fatalf("expected the storage fault, got %v", err)
	}
	if errors.Is(err, workflow.ErrInterrupted) || errors.Is(err, workflow.ErrIncomplete) {
		t.Fatalf("a storage fault must not look like an interrupt or quarantine: %v", err)
	}
	if report.Outcome != workflow.OutcomeFailed || report.Committed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := fx.count(t, pipeline.Set("prop_canon")); got != 0 {
		t.Fatalf("nothing may be stored after a failed flush, got %d", got)
	}
	if st.Writes() != 1 {
		t.Fatalf("a storage fault must stop the stage at the first flush, saw %d writes", st.Writes())
	}
}

func TestRunStageSurvivesPanickingCalculator(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})
	bad := fx.keys[2]
	fake.PanicKeys = []string{bad}

	report, err := fx.manager.RunStage(testContext(t), canonStage(t))
	if !errors.Is(err, workflow.ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if !slices.Equal(report.Quarantined, []string{bad}) {
		t.Fatalf("quarantined = %v, want [%s]", report.Quarantined, bad)
	}
	if got := fx.count(t, pipeline.True("prop_canon")); got != len(fx.keys)-1 {
		t.Fatalf("prop_canon set on %d keys, want %d", got, len(fx.keys)-1)
	}
}

type unlaunchable struct{}

func (unlaunchable) Launch(context.Context, int) (pool.Process, error) {
	return nil, errors.New("fork/exec /usr/local/bin/cloven: permission denied")
}

func TestRunStageFailsWhenWorkersCannotStart(t *testing.T) {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	fx := newFixture(t, []*testsupport.Fake{fake})
	manager := fx.managerFor(t, fx.store, unlaunchable{})

	report, err := manager.RunStage(testContext(t), canonStage(t))
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected the launch error to fail the stage, got %v", err)
	}
	if report.Outcome != workflow.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", report.Outcome)
	}
	if got := fx.count(t, pipeline.Set("prop_canon")); got != 0 {
		t.Fatalf("no results expected, got %d", got)
	}
}
