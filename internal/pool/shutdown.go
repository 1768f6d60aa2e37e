package pool

import (
	"context"
	"errors"
	"time"

	"cloven/internal/ipc"
	"cloven/internal/logging"
)

// Shutdown sends stop to every live worker, waits up to grace for them to
// exit, and kills the rest. Results of chunks that finish inside the grace
// period remain available to Collect. Shutdown is the pool's only
// cancellation primitive and is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context, grace time.Duration) error {
	p.mu.Lock()
	if p.state == poolStopped || p.state == poolStopping {
		p.mu.Unlock()
		p.wg.Wait()
		return nil
	}
	wasRunning := p.state == poolRunning
	p.state = poolStopping
	type live struct {
		index  int
		proc   Process
		conn   *ipc.Conn
		exited chan struct{}
	}
	var workers []live
	for _, s := range p.slots {
		if s.state == slotPending || s.proc == nil || closed(s.exited) {
			continue
		}
		workers = append(workers, live{index: s.index, proc: s.proc, conn: s.conn, exited: s.exited})
	}
	p.mu.Unlock()

	if !wasRunning {
		p.mu.Lock()
		p.state = poolStopped
		p.mu.Unlock()
		return nil
	}

	// A busy worker reads stop only after its current chunk, so the handoff
	// must not hold up the grace timer.
	for _, w := range workers {
		go func() {
			_ = w.conn.Send(ipc.Message{Type: ipc.TypeStop})
			_ = w.proc.Stdin().Close()
		}()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	var killErr error
	for _, w := range workers {
		select {
		case <-w.exited:
			continue
		case <-timer.C:
		case <-ctx.Done():
		}
		// Grace expired or the caller gave up: kill whoever is left.
		for _, rest := range workers {
			if closed(rest.exited) {
				continue
			}
			p.logger.Warn("killing worker after shutdown grace",
				logging.Int(logging.FieldWorker, rest.index),
				logging.Int(logging.FieldPID, rest.proc.PID()),
				logging.Duration("grace", grace),
				logging.String(logging.FieldEventType, "worker_killed"),
			)
			if err := rest.proc.Kill(); err != nil {
				killErr = errors.Join(killErr, err)
			}
		}
		break
	}
	p.wg.Wait()

	p.mu.Lock()
	p.state = poolStopped
	for _, s := range p.slots {
		s.current = nil
	}
	p.queue = nil
	p.mu.Unlock()
	p.logger.Debug("pool stopped")
	return killErr
}
