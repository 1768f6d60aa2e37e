package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"cloven/internal/logging"
)

// Process is one running worker as seen by the pool.
type Process interface {
	PID() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the worker is gone and reports its exit status. The
	// pool calls it only after Stdout has been read to the end.
	Wait() (int, error)
	Kill() error
}

// Launcher starts worker processes for pool slots.
type Launcher interface {
	Launch(ctx context.Context, slot int) (Process, error)
}

// ExecLauncher re-executes a binary in worker mode with the protocol on its
// stdin and stdout. Worker stderr is forwarded line by line to the logger.
type ExecLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Logger *slog.Logger
}

// NewExecLauncher targets the running executable's hidden worker command.
func NewExecLauncher(logger *slog.Logger, args ...string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if len(args) == 0 {
		args = []string{"worker"}
	}
	return &ExecLauncher{Path: path, Args: args, Logger: logger}, nil
}

// Launch starts one worker process in its own process group so terminal
// interrupts reach only the coordinator.
func (l *ExecLauncher) Launch(_ context.Context, slot int) (Process, error) {
	if l.Path == "" {
		return nil, errors.New("exec launcher requires a path")
	}
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.Int(logging.FieldWorker, slot), logging.Int(logging.FieldPID, cmd.Process.Pid))
	proc := &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderrDone: make(chan struct{})}
	go func() {
		defer close(proc.stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("worker output", logging.String("line", scanner.Text()))
		}
	}()
	return proc, nil
}

type execProcess struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.Reader
	stderrDone chan struct{}
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Kill() error           { return p.cmd.Process.Kill() }

func (p *execProcess) Wait() (int, error) {
	<-p.stderrDone
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return -1, err
	}
	if status, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -1, &SignalError{Signal: status.Signal()}
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

// SignalError is the exit error of a worker that was terminated by a signal.
type SignalError struct {
	Signal syscall.Signal
}

func (e *SignalError) Error() string {
	return "worker terminated by signal " + e.Signal.String()
}
