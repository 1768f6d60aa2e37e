package pool

import (
	"errors"
	"fmt"
	"time"

	"cloven/internal/ipc"
	"cloven/internal/logging"
)

// Tick runs liveness and recovery. Dead workers give their chunk back to the
// queue and are replaced after a backoff delay; pending slots are spawned as
// the stagger limiter allows. Tick never blocks on a worker.
func (p *Pool) Tick(now time.Time) {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return
	}
	var spawn []*slot
	for _, s := range p.slots {
		if s.state != slotPending && closed(s.exited) {
			p.recoverLocked(now, s)
		}
		if s.state == slotPending && !now.Before(s.restartAt) && p.err == nil && p.limiter.AllowN(now, 1) {
			s.state = slotStarting
			spawn = append(spawn, s)
		}
	}
	p.mu.Unlock()

	for _, s := range spawn {
		p.spawn(now, s)
	}
	p.dispatch()
}

func (p *Pool) spawn(now time.Time, s *slot) {
	proc, err := p.opts.Launcher.Launch(p.ctx, s.index)
	if err != nil {
		p.mu.Lock()
		s.state = slotPending
		s.failures++
		s.startFailures++
		attempts := s.startFailures
		delay := p.backoff(s.failures)
		s.restartAt = now.Add(delay)
		if s.startFailures >= maxStartFailures && p.err == nil {
			p.err = fmt.Errorf("worker %d could not be launched %d times: %w", s.index, attempts, err)
		}
		p.mu.Unlock()
		logging.WarnWithContext(p.logger, "worker launch failed", "worker_launch_failed",
			logging.Int(logging.FieldWorker, s.index),
			logging.Int("attempts", attempts),
			logging.Duration("retry_in", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the worker binary is executable"),
		)
		return
	}

	conn := ipc.NewConn(proc.Stdout(), proc.Stdin())
	exited := make(chan struct{})
	p.mu.Lock()
	s.proc = proc
	s.conn = conn
	s.exited = exited
	s.exitCode = 0
	s.exitErr = nil
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watch(s, proc, conn, exited)

	spec := p.opts.Spec
	hello := ipc.Message{Type: ipc.TypeHello, Hello: &ipc.Hello{
		Worker:   s.index,
		Stage:    spec.Stage,
		Kind:     spec.Kind,
		Variant:  spec.Variant,
		Params:   spec.Params,
		Niceness: spec.Niceness,
	}}
	if err := conn.Send(hello); err != nil {
		p.logger.Debug("hello not delivered", logging.Int(logging.FieldWorker, s.index), logging.Error(err))
	}
	p.logger.Debug("worker spawned",
		logging.Int(logging.FieldWorker, s.index),
		logging.Int(logging.FieldPID, proc.PID()),
		logging.String(logging.FieldEventType, "worker_started"),
	)
}

// recoverLocked handles a slot whose process has exited.
func (p *Pool) recoverLocked(now time.Time, s *slot) {
	var unfinished []string
	if s.current != nil {
		unfinished = s.current.Keys
		p.requeueLocked(*s.current)
		s.current = nil
	}
	if s.state == slotStarting {
		s.startFailures++
	}
	_ = s.proc.Stdin().Close()
	s.failures++
	s.restarts++
	delay := p.backoff(s.failures)
	s.restartAt = now.Add(delay)
	s.state = slotPending

	attrs := []logging.Attr{
		logging.Int(logging.FieldWorker, s.index),
		logging.Int(logging.FieldPID, s.proc.PID()),
		logging.String("exit_status", exitStatus(s.exitCode, s.exitErr)),
		logging.Keys("unfinished_keys", unfinished, 10),
		logging.Int("unfinished", len(unfinished)),
		logging.Duration("restart_in", delay),
	}
	var signaled *SignalError
	if s.exitErr != nil && !errors.As(s.exitErr, &signaled) {
		attrs = append(attrs, logging.Error(s.exitErr))
	}
	logging.WarnWithContext(p.logger, "worker died", "worker_exit", attrs...)

	if s.startFailures >= maxStartFailures && p.err == nil {
		p.err = fmt.Errorf("worker %d exited %d times before becoming ready (last exit %s)", s.index, s.startFailures, exitStatus(s.exitCode, s.exitErr))
	}
}

// requeueLocked returns a chunk to the front of the queue under a fresh id.
// Chunks that reach the attempt limit are split into single keys, and a
// single key that reaches it is quarantined for the rest of the run.
func (p *Pool) requeueLocked(chunk Chunk) {
	chunk.Attempt++
	limit := p.opts.MaxChunkAttempts
	if limit > 0 && chunk.Attempt >= limit {
		if len(chunk.Keys) == 1 {
			p.quarantined = append(p.quarantined, chunk.Keys[0])
			logging.ErrorWithContext(p.logger, "key quarantined", "key_quarantined",
				logging.String("key", chunk.Keys[0]),
				logging.Int("attempts", chunk.Attempt),
				logging.String(logging.FieldErrorHint, "inspect the calculator with this key; it stays pending for the next run"),
			)
			return
		}
		singles := make([]Chunk, 0, len(chunk.Keys))
		for _, key := range chunk.Keys {
			p.nextID++
			singles = append(singles, Chunk{ID: p.nextID, Keys: []string{key}})
		}
		p.queue = append(singles, p.queue...)
		p.logger.Warn("splitting failing chunk",
			logging.Int("keys", len(chunk.Keys)),
			logging.Int("attempts", chunk.Attempt),
			logging.String(logging.FieldEventType, "chunk_split"),
		)
		return
	}
	p.nextID++
	chunk.ID = p.nextID
	p.queue = append([]Chunk{chunk}, p.queue...)
}

// backoff doubles the restart delay per consecutive failure up to the cap.
func (p *Pool) backoff(failures int) time.Duration {
	delay := p.opts.RestartDelay
	for i := 1; i < failures && delay < p.opts.MaxRestartDelay; i++ {
		delay *= 2
	}
	return min(delay, p.opts.MaxRestartDelay)
}

// exitStatus names how a worker ended for diagnostics.
func exitStatus(code int, err error) string {
	var signaled *SignalError
	if errors.As(err, &signaled) {
		return "signal " + signaled.Signal.String()
	}
	return fmt.Sprintf("code %d", code)
}
