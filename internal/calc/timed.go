package calc

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"cloven/internal/graph"
)

type timed struct {
	Calculator
	field string
}

// Timed wraps c so every successful result records the calculating thread's
// CPU time under the kind's timings column. Wrapping twice is a no-op.
func Timed(kind Kind, c Calculator) Calculator {
	if already, ok := c.(*timed); ok {
		return already
	}
	return &timed{Calculator: c, field: kind.TimingField()}
}

func (t *timed) Calc(g *graph.Graph) (Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	start := threadCPU()
	result, err := t.Calculator.Calc(g)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = Result{}
	}
	if t.field != "" {
		result.Set(TableTimings, t.field, int64(threadCPU()-start))
	}
	return result, nil
}

// threadCPU returns user plus system CPU time consumed by the calling OS
// thread. Callers must hold the thread locked between readings.
func threadCPU() time.Duration {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &usage); err != nil {
		return 0
	}
	return time.Duration(usage.Utime.Nano() + usage.Stime.Nano())
}
