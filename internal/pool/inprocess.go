package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"

	"cloven/internal/logging"
	"cloven/internal/worker"
)

var errKilled = errors.New("worker killed")

// InProcessLauncher runs the worker loop in a goroutine connected through
// in-memory pipes. Killing a worker closes its pipes and cancels its context;
// a worker that returns an error exits with status 1. Its workers report
// negative pids so they are never mistaken for real processes.
type InProcessLauncher struct {
	Resolver worker.Resolver
	Logger   *slog.Logger

	mu    sync.Mutex
	procs map[int]*inProcess
	pids  int
}

// NewInProcessLauncher builds a launcher that resolves calculators through
// resolver.
func NewInProcessLauncher(resolver worker.Resolver, logger *slog.Logger) *InProcessLauncher {
	return &InProcessLauncher{Resolver: resolver, Logger: logger}
}

// Launch starts a worker goroutine for slot.
func (l *InProcessLauncher) Launch(ctx context.Context, slot int) (Process, error) {
	workerIn, stdin := io.Pipe()
	stdout, workerOut := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.procs == nil {
		l.procs = make(map[int]*inProcess)
	}
	l.pids++
	proc := &inProcess{
		pid:       -l.pids,
		stdin:     stdin,
		stdout:    stdout,
		workerIn:  workerIn,
		workerOut: workerOut,
		cancel:    cancel,
		done:      make(chan struct{}),
		killed:    make(chan struct{}),
	}
	l.procs[slot] = proc
	l.mu.Unlock()

	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	go func() {
		defer close(proc.done)
		defer func() {
			_ = workerOut.Close()
			_ = workerIn.Close()
		}()
		// A panic outside a calculation (resolver, Initialize) ends only
		// this worker, the way it would end a real process.
		defer func() {
			if r := recover(); r != nil {
				proc.code = 2
				logger.Warn("in-process worker panicked",
					logging.Int(logging.FieldWorker, slot),
					logging.Any("panic", r),
					logging.String(logging.FieldEventType, "worker_panic"),
				)
			}
		}()
		err := worker.Serve(ctx, workerIn, workerOut, worker.Options{Resolver: l.Resolver, Logger: logger})
		if err != nil {
			proc.code = 1
			logger.Debug("in-process worker exited", logging.Int(logging.FieldWorker, slot), logging.Error(err))
		}
	}()
	return proc, nil
}

// Kill terminates the worker currently occupying slot. It reports false when
// the slot has no worker.
func (l *InProcessLauncher) Kill(slot int) bool {
	l.mu.Lock()
	proc, ok := l.procs[slot]
	l.mu.Unlock()
	if !ok {
		return false
	}
	return proc.Kill() == nil
}

type inProcess struct {
	pid       int
	stdin     *io.PipeWriter
	stdout    *io.PipeReader
	workerIn  *io.PipeReader
	workerOut *io.PipeWriter
	cancel    context.CancelFunc
	done      chan struct{}
	killed    chan struct{}
	killOnce  sync.Once
	code      int
}

func (p *inProcess) PID() int              { return p.pid }
func (p *inProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *inProcess) Stdout() io.Reader     { return p.stdout }

func (p *inProcess) Kill() error {
	p.killOnce.Do(func() {
		p.cancel()
		_ = p.workerIn.CloseWithError(errKilled)
		_ = p.workerOut.CloseWithError(errKilled)
		close(p.killed)
	})
	return nil
}

func (p *inProcess) Wait() (int, error) {
	select {
	case <-p.killed:
		return -1, &SignalError{Signal: syscall.SIGKILL}
	case <-p.done:
		return p.code, nil
	}
}
