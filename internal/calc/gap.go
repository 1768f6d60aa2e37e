package calc

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"cloven/internal/graph"
)

// MaxGapNodes bounds the instance size the dense simplex gap can handle; the
// model carries one row per Hamiltonian tour.
const MaxGapNodes = 7

// simplexGap computes the worst integrality gap a fractional vertex x can
// exhibit: the smallest LP value x·c over metric costs c under which every
// tour costs at least 1 and x stays LP optimal. The gap is its reciprocal.
type simplexGap struct {
	n        int
	edges    [][2]int
	triplets [][3]int
	tours    [][]int
	subsets  []Subset
	check    directSubtour
}

func newSimplexGap(p Params) (Calculator, error) {
	if p.N < 4 || p.N > MaxGapNodes {
		return nil, fmt.Errorf("n=%d outside the supported range 4..%d", p.N, MaxGapNodes)
	}
	return &simplexGap{n: p.N}, nil
}

func (s *simplexGap) Initialize() error {
	s.edges = graph.Edges(s.n)
	s.triplets = s.triplets[:0]
	for u := 0; u < s.n; u++ {
		for w := 0; w < s.n; w++ {
			for v := 0; v < s.n; v++ {
				if u != w && w != v && u != v {
					s.triplets = append(s.triplets, [3]int{u, w, v})
				}
			}
		}
	}
	rest := make([]int, s.n-1)
	for i := range rest {
		rest[i] = i + 1
	}
	s.tours = s.tours[:0]
	tourPermutations(rest, 0, func(order []int) {
		tour := append([]int{0}, order...)
		s.tours = append(s.tours, tour)
	})
	return s.check.Initialize(s.n)
}

func (s *simplexGap) Close() error { return nil }

// Gap solution statuses written to gap_info.
const (
	GapOptimal    = "optimal"
	GapInfeasible = "infeasible"
	GapZero       = "zero_objective"
)

func (s *simplexGap) Calc(g *graph.Graph) (Result, error) {
	x := g.Vector()
	_, active := s.check.Check(x)

	runtime.LockOSThread()
	cpuStart := threadCPU()
	wallStart := time.Now()
	objective, err := s.solve(x, active)
	cpu := threadCPU() - cpuStart
	wall := time.Since(wallStart)
	runtime.UnlockOSThread()

	result := Result{}
	status, term := GapOptimal, "ok"
	var gap float64
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		status, term = GapInfeasible, err.Error()
	case err != nil:
		return nil, fmt.Errorf("gap of %s: %w", g.Key, err)
	case objective <= tolerance:
		status = GapZero
	default:
		gap = 1 / objective
	}
	result.Set(TableGraphs, "gap", gap)
	result.Set(TableGapInfo, "sol_status", status)
	result.Set(TableGapInfo, "sol_term_cond", term)
	result.Set(TableGapInfo, "time_proc", cpu.Seconds())
	result.Set(TableGapInfo, "time_wall", wall.Seconds())
	return result, nil
}

// solve builds the standard-form model and runs the simplex method. Column
// layout: arc costs c, the split node potentials y0+, y0-, y1+, y1-, one dual
// d per tight cut, then one surplus column per inequality row.
func (s *simplexGap) solve(x []float64, active []Subset) (float64, error) {
	n := s.n
	m := len(s.edges)
	y0p, y0m, y1p, y1m := m, m+n, m+2*n, m+3*n
	dStart := m + 4*n
	surplusStart := dStart + len(active)

	type row struct {
		coef    map[int]float64
		rhs     float64
		surplus bool
	}
	var rows []row
	for _, t := range s.triplets {
		rows = append(rows, row{coef: map[int]float64{
			graph.EdgeIndex(n, t[0], t[1]): 1,
			graph.EdgeIndex(n, t[1], t[2]): 1,
			graph.EdgeIndex(n, t[0], t[2]): -1,
		}, surplus: true})
	}
	for _, tour := range s.tours {
		coef := make(map[int]float64, n)
		for i, u := range tour {
			coef[graph.EdgeIndex(n, u, tour[(i+1)%n])] = 1
		}
		rows = append(rows, row{coef: coef, rhs: 1, surplus: true})
	}
	for j, e := range s.edges {
		u, v := e[0], e[1]
		coef := map[int]float64{
			j:       1,
			y0p + u: -1,
			y0m + u: 1,
			y1p + v: -1,
			y1m + v: 1,
		}
		for k, set := range active {
			if set.Has(u) && !set.Has(v) {
				coef[dStart+k] = -1
			}
		}
		rows = append(rows, row{coef: coef, surplus: x[j] <= tolerance})
	}

	surplus := 0
	for _, r := range rows {
		if r.surplus {
			surplus++
		}
	}
	cols := surplusStart + surplus
	a := mat.NewDense(len(rows), cols, nil)
	b := make([]float64, len(rows))
	next := surplusStart
	for i, r := range rows {
		for col, v := range r.coef {
			a.Set(i, col, v)
		}
		if r.surplus {
			a.Set(i, next, -1)
			next++
		}
		b[i] = r.rhs
	}
	cost := make([]float64, cols)
	copy(cost, x)

	objective, _, err := lp.Simplex(cost, a, b, 1e-10, nil)
	return objective, err
}

func tourPermutations(items []int, k int, visit func([]int)) {
	if k == len(items) {
		visit(append([]int(nil), items...))
		return
	}
	for i := k; i < len(items); i++ {
		items[k], items[i] = items[i], items[k]
		tourPermutations(items, k+1, visit)
		items[k], items[i] = items[i], items[k]
	}
}
