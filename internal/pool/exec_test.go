package pool_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"cloven/internal/calc"
	"cloven/internal/pool"
	"cloven/internal/testsupport"
	"cloven/internal/worker"
)

// helperWorkerEnv turns the test binary into a worker process serving fake
// calculators, so ExecLauncher can be tested against real processes.
const (
	helperWorkerEnv = "CLOVEN_POOL_HELPER_WORKER"
	helperDelayEnv  = "CLOVEN_POOL_HELPER_DELAY_MS"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperWorkerEnv) == "1" {
		os.Exit(serveHelperWorker())
	}
	os.Exit(m.Run())
}

func serveHelperWorker() int {
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	if ms, err := strconv.Atoi(os.Getenv(helperDelayEnv)); err == nil {
		fake.Delay = time.Duration(ms) * time.Millisecond
	}
	err := worker.Serve(context.Background(), os.Stdin, os.Stdout, worker.Options{Resolver: testsupport.FakeRegistry(fake)})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperLauncher(t *testing.T, delay time.Duration) *pool.ExecLauncher {
	t.Helper()
	path, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return &pool.ExecLauncher{
		Path: path,
		Env: []string{
			helperWorkerEnv + "=1",
			helperDelayEnv + "=" + strconv.Itoa(int(delay/time.Millisecond)),
		},
	}
}

func TestExecWorkersCompleteEveryKey(t *testing.T) {
	keys := testKeys(t, 8)
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	h := newHarness(t, fake, pool.Options{Workers: 2, ChunkSize: 3, Launcher: helperLauncher(t, 0)})

	if _, err := h.pool.Submit(keys); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.run(func() bool { return len(h.results) == len(keys) })

	for _, s := range h.pool.Samples() {
		if s.Alive && s.PID <= 0 {
			t.Fatalf("exec worker %d reports pid %d", s.Worker, s.PID)
		}
	}
	for _, key := range keys {
		if h.results[key][calc.TableGraphs]["prop_canon"] != true {
			t.Fatalf("missing result for %s", key)
		}
	}
}

func TestExecWorkerKilledBySignalIsReplaced(t *testing.T) {
	keys := testKeys(t, 8)
	fake := &testsupport.Fake{Kind: calc.KindCanon}
	h := newHarness(t, fake, pool.Options{Workers: 2, ChunkSize: 2, MaxChunkAttempts: 3, Launcher: helperLauncher(t, 40*time.Millisecond)})

	if _, err := h.pool.Submit(keys); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var victim pool.Sample
	h.run(func() bool {
		for _, s := range h.pool.Samples() {
			if s.Alive && s.PID > 0 && len(s.Current) > 0 {
				victim = s
				return true
			}
		}
		return false
	})
	if err := syscall.Kill(victim.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill worker %d: %v", victim.PID, err)
	}

	h.run(func() bool { return len(h.results) == len(keys) })
	restarts := 0
	for _, s := range h.pool.Samples() {
		restarts += s.Restarts
	}
	if restarts == 0 {
		t.Fatal("expected the killed worker to be replaced")
	}
	if q := h.pool.Quarantined(); len(q) != 0 {
		t.Fatalf("unexpected quarantine %v", q)
	}
}

func TestExecProcessReportsTerminatingSignal(t *testing.T) {
	launcher := helperLauncher(t, 0)
	proc, err := launcher.Launch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if proc.PID() <= 0 {
		t.Fatalf("unexpected pid %d", proc.PID())
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	_, _ = io.Copy(io.Discard, proc.Stdout())

	code, err := proc.Wait()
	var signaled *pool.SignalError
	if !errors.As(err, &signaled) || signaled.Signal != syscall.SIGKILL {
		t.Fatalf("expected SIGKILL exit, got code %d, err %v", code, err)
	}
	if code != -1 {
		t.Fatalf("signalled exit code = %d, want -1", code)
	}
}

func TestExecLauncherRejectsMissingBinary(t *testing.T) {
	launcher := &pool.ExecLauncher{Path: t.TempDir() + "/missing-worker"}
	if _, err := launcher.Launch(context.Background(), 1); err == nil {
		t.Fatal("expected launching a missing binary to fail")
	}
}
