package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cloven/internal/calc"
	"cloven/internal/ipc"
	"cloven/internal/logging"
)

// Spec is copied into every worker at spawn time.
type Spec struct {
	Stage    string
	Kind     calc.Kind
	Variant  string
	Params   calc.Params
	Niceness int
}

// Options configures a pool.
type Options struct {
	Workers          int
	ChunkSize        int
	Spec             Spec
	Launcher         Launcher
	RestartDelay     time.Duration
	MaxRestartDelay  time.Duration
	InitialWait      time.Duration
	MaxChunkAttempts int
	Logger           *slog.Logger
}

// Chunk is an ordered run of keys owned by at most one worker at a time.
type Chunk struct {
	ID      uint64
	Keys    []string
	Attempt int
}

// Completed is the output of one finished chunk.
type Completed struct {
	Worker  int
	ChunkID uint64
	Items   []ipc.Item
	Elapsed time.Duration
}

// Sample is a point-in-time view of one slot.
type Sample struct {
	Worker   int
	PID      int
	Alive    bool
	Current  []string
	Restarts int
}

// ErrNotRunning is returned by operations on a pool that was never started
// or has been shut down.
var ErrNotRunning = errors.New("pool not running")

// maxStartFailures bounds consecutive exits before a worker ever reports
// ready. Beyond it the calculator is assumed unusable and the pool fails.
const maxStartFailures = 5

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopping
	poolStopped
)

type slotState int

const (
	slotPending slotState = iota
	slotStarting
	slotReady
)

type slot struct {
	index         int
	state         slotState
	proc          Process
	conn          *ipc.Conn
	exited        chan struct{}
	exitCode      int
	exitErr       error
	current       *Chunk
	failures      int
	startFailures int
	restarts      int
	restartAt     time.Time
}

// Pool runs a fixed number of worker processes for one stage. The input
// queue and the output list are its only shared state; each slot holds at
// most one chunk.
type Pool struct {
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	ctx         context.Context
	state       poolState
	slots       []*slot
	queue       []Chunk
	done        []Completed
	quarantined []string
	nextID      uint64
	err         error

	wg sync.WaitGroup
}

// New validates options and builds an idle pool.
func New(opts Options) (*Pool, error) {
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("pool requires at least one worker, got %d", opts.Workers)
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("pool requires a positive chunk size, got %d", opts.ChunkSize)
	}
	if opts.Launcher == nil {
		return nil, errors.New("pool requires a launcher")
	}
	if opts.MaxRestartDelay < opts.RestartDelay {
		opts.MaxRestartDelay = opts.RestartDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := rate.Inf
	if opts.InitialWait > 0 {
		limit = rate.Every(opts.InitialWait / time.Duration(opts.Workers))
	}
	p := &Pool{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "pool"),
		limiter: rate.NewLimiter(limit, 1),
		slots:   make([]*slot, opts.Workers),
	}
	for i := range p.slots {
		p.slots[i] = &slot{index: i + 1}
	}
	return p, nil
}

// Start arms every slot. Spawning is staggered through a token bucket over
// InitialWait; Start itself never waits for workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != poolIdle {
		p.mu.Unlock()
		return fmt.Errorf("pool already started")
	}
	p.ctx = ctx
	p.state = poolRunning
	now := time.Now()
	for _, s := range p.slots {
		s.restartAt = now
	}
	p.mu.Unlock()
	p.logger.Debug("pool started",
		logging.Int("workers", p.opts.Workers),
		logging.Int("chunk_size", p.opts.ChunkSize),
		logging.Duration("initial_wait", p.opts.InitialWait),
	)
	p.Tick(now)
	return nil
}

// Submit slices keys into ChunkSize chunks and enqueues each one. It returns
// the number of chunks queued.
func (p *Pool) Submit(keys []string) (int, error) {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return 0, ErrNotRunning
	}
	count := 0
	for chunk := range slices.Chunk(keys, p.opts.ChunkSize) {
		p.nextID++
		p.queue = append(p.queue, Chunk{ID: p.nextID, Keys: slices.Clone(chunk)})
		count++
	}
	p.mu.Unlock()
	p.dispatch()
	return count, nil
}

// Collect removes and returns every completed chunk without blocking.
func (p *Pool) Collect() []Completed {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.done
	p.done = nil
	return out
}

// Outstanding counts keys that are queued or held by a worker.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, c := range p.queue {
		total += len(c.Keys)
	}
	for _, s := range p.slots {
		if s.current != nil {
			total += len(s.current.Keys)
		}
	}
	return total
}

// Drain drops queued chunks no worker has started and returns how many keys
// were dropped.
func (p *Pool) Drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	dropped := 0
	for _, c := range p.queue {
		dropped += len(c.Keys)
	}
	p.queue = nil
	return dropped
}

// Quarantined lists keys given up on during this run.
func (p *Pool) Quarantined() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.quarantined)
}

// Err reports a failure the pool cannot recover from.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Samples returns pid, liveness, and current work for every slot.
func (p *Pool) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sample, 0, len(p.slots))
	for _, s := range p.slots {
		sample := Sample{Worker: s.index, Restarts: s.restarts}
		if s.proc != nil && s.state != slotPending {
			sample.PID = s.proc.PID()
			sample.Alive = !closed(s.exited)
		}
		if s.current != nil {
			sample.Current = slices.Clone(s.current.Keys)
		}
		out = append(out, sample)
	}
	return out
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

type assignment struct {
	slot  int
	conn  *ipc.Conn
	chunk Chunk
}

// dispatch hands queued chunks to idle ready workers. Writes happen outside
// the lock; a failed write surfaces as a worker death on the next tick.
func (p *Pool) dispatch() {
	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		return
	}
	var work []assignment
	for _, s := range p.slots {
		if len(p.queue) == 0 {
			break
		}
		if s.state != slotReady || s.current != nil {
			continue
		}
		chunk := p.queue[0]
		p.queue = p.queue[1:]
		s.current = &chunk
		work = append(work, assignment{slot: s.index, conn: s.conn, chunk: chunk})
	}
	p.mu.Unlock()

	for _, a := range work {
		msg := ipc.Message{Type: ipc.TypeChunk, Chunk: &ipc.Chunk{ID: a.chunk.ID, Keys: a.chunk.Keys, Attempt: a.chunk.Attempt}}
		if err := a.conn.Send(msg); err != nil {
			p.logger.Debug("chunk handoff failed",
				logging.Int(logging.FieldWorker, a.slot),
				logging.Any(logging.FieldChunk, a.chunk.ID),
				logging.Error(err),
			)
		}
	}
}

// watch reads one worker's messages until its stream ends, then reaps it.
func (p *Pool) watch(s *slot, proc Process, conn *ipc.Conn, exited chan struct{}) {
	defer p.wg.Done()
	for {
		msg, err := conn.Receive()
		if err != nil {
			break
		}
		p.handle(s, msg)
	}
	code, err := proc.Wait()
	p.mu.Lock()
	s.exitCode = code
	s.exitErr = err
	p.mu.Unlock()
	close(exited)
}

func (p *Pool) handle(s *slot, msg ipc.Message) {
	switch msg.Type {
	case ipc.TypeReady:
		p.mu.Lock()
		if s.state == slotStarting {
			s.state = slotReady
			s.startFailures = 0
		}
		p.mu.Unlock()
		p.logger.Debug("worker ready", logging.Int(logging.FieldWorker, s.index))
		p.dispatch()
	case ipc.TypeResult:
		if msg.Result == nil {
			return
		}
		p.mu.Lock()
		if s.current == nil || s.current.ID != msg.Result.ChunkID {
			p.mu.Unlock()
			p.logger.Debug("discarding stale chunk result",
				logging.Int(logging.FieldWorker, s.index),
				logging.Any(logging.FieldChunk, msg.Result.ChunkID),
			)
			return
		}
		s.current = nil
		s.failures = 0
		p.done = append(p.done, Completed{
			Worker:  s.index,
			ChunkID: msg.Result.ChunkID,
			Items:   msg.Result.Items,
			Elapsed: time.Duration(msg.Result.ElapsedNS),
		})
		p.mu.Unlock()
		p.dispatch()
	case ipc.TypeFailure:
		if msg.Failure == nil {
			return
		}
		p.logger.Warn("worker calculation failed",
			logging.Int(logging.FieldWorker, s.index),
			logging.Any(logging.FieldChunk, msg.Failure.ChunkID),
			logging.String("key", msg.Failure.Key),
			logging.String("error", msg.Failure.Error),
			logging.String(logging.FieldEventType, "calculation_failed"),
			logging.String(logging.FieldImpact, "chunk will be retried on a fresh worker"),
		)
	default:
		p.logger.Debug("ignoring unexpected worker message",
			logging.Int(logging.FieldWorker, s.index),
			logging.String("type", string(msg.Type)),
		)
	}
}
