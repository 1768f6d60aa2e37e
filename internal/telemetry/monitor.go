package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/procfs"
	"github.com/schollz/progressbar/v3"

	"cloven/internal/logging"
	"cloven/internal/pool"
)

// Counts is the driver's view of one stage.
type Counts struct {
	Total       int
	Loaded      int
	Cached      int
	Committed   int
	Quarantined int
}

// Done counts keys the stage is finished with.
func (c Counts) Done() int {
	return c.Committed + c.Quarantined
}

// WorkerUsage is the latest sample for one worker slot.
type WorkerUsage struct {
	Worker     int
	PID        int
	Alive      bool
	CPUPercent float64
	RSS        uint64
	Restarts   int
}

// Usage aggregates the latest samples. Totals include the coordinator.
type Usage struct {
	Workers    []WorkerUsage
	CPUPercent float64
	RSS        uint64
}

// Options configures a monitor.
type Options struct {
	Stage   string
	Metrics *Metrics
	Logger  *slog.Logger
	// SampleInterval throttles procfs reads; zero samples on every Refresh.
	SampleInterval time.Duration
	// Progress renders a progress bar to ProgressOutput.
	Progress       bool
	ProgressOutput io.Writer
	// ProcRoot defaults to /proc.
	ProcRoot string
}

type cpuSample struct {
	seconds float64
	at      time.Time
}

// Monitor tracks stage progress and resource usage. It never fails the run:
// sampling errors are logged at debug level and skipped.
type Monitor struct {
	opts    Options
	metrics *Metrics
	logger  *slog.Logger
	fs      procfs.FS
	fsErr   error
	bar     *progressbar.ProgressBar
	out     io.Writer
	self    int

	mu         sync.Mutex
	counts     Counts
	usage      Usage
	prev       map[int]cpuSample
	lastSample time.Time
}

// New builds a monitor for one stage.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	root := opts.ProcRoot
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(root)
	m := &Monitor{
		opts:    opts,
		metrics: metrics,
		logger:  logging.NewComponentLogger(logger, "telemetry"),
		fs:      fs,
		fsErr:   err,
		self:    os.Getpid(),
		prev:    make(map[int]cpuSample),
	}
	if err != nil {
		m.logger.Debug("procfs unavailable; resource sampling disabled", logging.Error(err))
	}
	if opts.Progress {
		m.out = opts.ProgressOutput
		if m.out == nil {
			m.out = os.Stderr
		}
		m.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(m.out),
			progressbar.OptionSetDescription(opts.Stage),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("keys"),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionSetWidth(30),
		)
	}
	return m
}

// Update records the driver's counts and mirrors them into the gauges.
func (m *Monitor) Update(c Counts) {
	m.mu.Lock()
	prevTotal := m.counts.Total
	m.counts = c
	usage := m.usage
	m.mu.Unlock()

	stage := m.opts.Stage
	m.metrics.Keys.WithLabelValues(stage, "total").Set(float64(c.Total))
	m.metrics.Keys.WithLabelValues(stage, "loaded").Set(float64(c.Loaded))
	m.metrics.Keys.WithLabelValues(stage, "cached").Set(float64(c.Cached))
	m.metrics.Keys.WithLabelValues(stage, "committed").Set(float64(c.Committed))
	m.metrics.Keys.WithLabelValues(stage, "quarantined").Set(float64(c.Quarantined))

	if m.bar != nil {
		if c.Total != prevTotal {
			m.bar.ChangeMax(c.Total)
		}
		_ = m.bar.Set(c.Done())
		m.bar.Describe(fmt.Sprintf("%s cpu %.0f%% rss %s", stage, usage.CPUPercent, humanize.IBytes(usage.RSS)))
	}
}

// ChunkDone records the wall time of one completed chunk.
func (m *Monitor) ChunkDone(elapsed time.Duration) {
	m.metrics.ChunkSeconds.WithLabelValues(m.opts.Stage).Observe(elapsed.Seconds())
}

// ChunkSize records the estimator's choice for the stage.
func (m *Monitor) ChunkSize(size int) {
	m.metrics.ChunkSize.WithLabelValues(m.opts.Stage).Set(float64(size))
}

// Flushed counts one flush attempt.
func (m *Monitor) Flushed(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.Flushes.WithLabelValues(m.opts.Stage, outcome).Inc()
}

// Refresh samples CPU and memory of every live worker and the coordinator.
// Calls closer together than SampleInterval are ignored.
func (m *Monitor) Refresh(now time.Time, samples []pool.Sample) {
	m.mu.Lock()
	if !m.lastSample.IsZero() && now.Sub(m.lastSample) < m.opts.SampleInterval {
		m.mu.Unlock()
		return
	}
	m.lastSample = now
	m.mu.Unlock()

	stage := m.opts.Stage
	usage := Usage{Workers: make([]WorkerUsage, 0, len(samples))}
	restarts := 0
	seen := map[int]bool{m.self: true}
	for _, s := range samples {
		wu := WorkerUsage{Worker: s.Worker, PID: s.PID, Alive: s.Alive, Restarts: s.Restarts}
		restarts += s.Restarts
		if s.Alive && s.PID > 0 {
			seen[s.PID] = true
			wu.CPUPercent, wu.RSS = m.sampleProc(now, s.PID)
		}
		usage.CPUPercent += wu.CPUPercent
		usage.RSS += wu.RSS
		usage.Workers = append(usage.Workers, wu)
		label := strconv.Itoa(s.Worker)
		m.metrics.WorkerCPU.WithLabelValues(stage, label).Set(wu.CPUPercent)
		m.metrics.WorkerRSS.WithLabelValues(stage, label).Set(float64(wu.RSS))
	}
	cpu, rss := m.sampleProc(now, m.self)
	usage.CPUPercent += cpu
	usage.RSS += rss

	m.metrics.TotalCPU.WithLabelValues(stage).Set(usage.CPUPercent)
	m.metrics.TotalRSS.WithLabelValues(stage).Set(float64(usage.RSS))
	m.metrics.Restarts.WithLabelValues(stage).Set(float64(restarts))

	m.mu.Lock()
	for pid := range m.prev {
		if !seen[pid] {
			delete(m.prev, pid)
		}
	}
	m.usage = usage
	m.mu.Unlock()
}

// sampleProc returns CPU percent since the previous sample of pid and its
// resident memory. The first sample of a pid reports zero CPU.
func (m *Monitor) sampleProc(now time.Time, pid int) (float64, uint64) {
	if m.fsErr != nil {
		return 0, 0
	}
	proc, err := m.fs.Proc(pid)
	if err != nil {
		m.logger.Debug("process sample failed", logging.Int(logging.FieldPID, pid), logging.Error(err))
		return 0, 0
	}
	stat, err := proc.Stat()
	if err != nil {
		m.logger.Debug("process stat failed", logging.Int(logging.FieldPID, pid), logging.Error(err))
		return 0, 0
	}
	seconds := stat.CPUTime()
	rss := uint64(max(stat.ResidentMemory(), 0))

	m.mu.Lock()
	prev, ok := m.prev[pid]
	m.prev[pid] = cpuSample{seconds: seconds, at: now}
	m.mu.Unlock()
	if !ok {
		return 0, rss
	}
	wall := now.Sub(prev.at).Seconds()
	if wall <= 0 {
		return 0, rss
	}
	return max(seconds-prev.seconds, 0) / wall * 100, rss
}

// Counts returns the last counts passed to Update.
func (m *Monitor) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// Usage returns the latest resource sample.
func (m *Monitor) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := m.usage
	usage.Workers = append([]WorkerUsage(nil), m.usage.Workers...)
	return usage
}

// Summary renders counts and usage for log lines.
func (m *Monitor) Summary() string {
	c := m.Counts()
	u := m.Usage()
	return fmt.Sprintf("%s/%s done (%s cached, %s quarantined), cpu %.0f%%, rss %s",
		humanize.Comma(int64(c.Done())), humanize.Comma(int64(c.Total)),
		humanize.Comma(int64(c.Cached)), humanize.Comma(int64(c.Quarantined)),
		u.CPUPercent, humanize.IBytes(u.RSS))
}

// Close finishes the progress bar.
func (m *Monitor) Close() {
	if m.bar != nil {
		_ = m.bar.Finish()
		_, _ = fmt.Fprintln(m.out)
	}
}
