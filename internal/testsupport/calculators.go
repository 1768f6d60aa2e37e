package testsupport

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloven/internal/calc"
	"cloven/internal/graph"
)

// FakeVariant is the variant name fakes are registered under.
const FakeVariant = "fake"

// ErrFake is returned by fakes for keys listed in FailKeys.
var ErrFake = errors.New("fake calculator failure")

// Fake is a deterministic calculator for pool and driver tests. Results
// depend only on the key, so recomputation converges to the same values.
type Fake struct {
	Kind calc.Kind
	// FailKeys always fail.
	FailKeys []string
	// PanicKeys make Calc panic.
	PanicKeys []string
	// PanicOnInit makes Initialize panic.
	PanicOnInit bool
	// BlockKey blocks the first calculation of that key until Release.
	BlockKey string
	// Delay is spent on every calculation.
	Delay time.Duration

	calls    atomic.Int64
	blocked  atomic.Bool
	entered  chan struct{}
	release  chan struct{}
	initOnce sync.Once
}

func (f *Fake) init() {
	f.initOnce.Do(func() {
		f.entered = make(chan struct{})
		f.release = make(chan struct{})
	})
}

// Entered is closed once the calculation of BlockKey has started.
func (f *Fake) Entered() <-chan struct{} {
	f.init()
	return f.entered
}

// Release unblocks a calculation waiting on BlockKey. Safe to call twice.
func (f *Fake) Release() {
	f.init()
	select {
	case <-f.release:
	default:
		close(f.release)
	}
}

// Calls counts Calc invocations across every worker.
func (f *Fake) Calls() int64 { return f.calls.Load() }

// Factory returns a calc.Factory that builds calculators sharing this fake's
// counters.
func (f *Fake) Factory() calc.Factory {
	f.init()
	return func(calc.Params) (calc.Calculator, error) {
		return &fakeCalculator{fake: f}, nil
	}
}

// FakeRegistry registers every fake under FakeVariant.
func FakeRegistry(fakes ...*Fake) *calc.Registry {
	registry := calc.NewRegistry()
	for _, f := range fakes {
		registry.Register(f.Kind, FakeVariant, f.Factory())
	}
	return registry
}

type fakeCalculator struct {
	fake *Fake
}

func (c *fakeCalculator) Close() error { return nil }

func (c *fakeCalculator) Initialize() error {
	if c.fake.PanicOnInit {
		panic("fake calculator cannot initialize")
	}
	return nil
}

func (c *fakeCalculator) Calc(g *graph.Graph) (calc.Result, error) {
	f := c.fake
	f.calls.Add(1)
	time.Sleep(f.Delay)
	for _, key := range f.FailKeys {
		if key == g.Key {
			return nil, ErrFake
		}
	}
	if slices.Contains(f.PanicKeys, g.Key) {
		panic("fake calculator crashed on " + g.Key)
	}
	if f.BlockKey != "" && g.Key == f.BlockKey && f.blocked.CompareAndSwap(false, true) {
		close(f.entered)
		<-f.release
	}
	return FakeResult(f.Kind, g.Key), nil
}

// FakeResult is the value a fake computes for key.
func FakeResult(kind calc.Kind, key string) calc.Result {
	result := calc.Result{}
	switch kind {
	case calc.KindCanon:
		result.Set(calc.TableGraphs, "prop_canon", true)
	case calc.KindCertificate:
		result.Set(calc.TableGraphs, "certificate", FakeCertificate(key))
	case calc.KindSubtExtr:
		result.Set(calc.TableGraphs, "prop_subt", true)
		result.Set(calc.TableGraphs, "prop_extr", true)
	case calc.KindGap:
		result.Set(calc.TableGraphs, "gap", 1.5)
		result.Set(calc.TableGapInfo, "sol_status", calc.GapOptimal)
		result.Set(calc.TableGapInfo, "sol_term_cond", "ok")
		result.Set(calc.TableGapInfo, "time_proc", 0.25)
		result.Set(calc.TableGapInfo, "time_wall", 0.5)
	}
	return result
}

// FakeCertificate groups keys by the cycle-length profile of their covers.
func FakeCertificate(key string) string {
	coding := strings.Split(key, "|")
	parts := make([]string, len(coding))
	for i, cover := range coding {
		for _, cycle := range strings.Fields(cover) {
			parts[i] += string(rune('0' + len(cycle)))
		}
	}
	return strings.Join(parts, "/")
}
