package calc

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/mat"

	"cloven/internal/graph"
)

const tolerance = 1e-9

// Subset is a node set encoded as a bit mask.
type Subset uint32

// Has reports whether node v belongs to the subset.
func (s Subset) Has(v int) bool { return s&(1<<v) != 0 }

// Size returns the number of nodes in the subset.
func (s Subset) Size() int { return bits.OnesCount32(uint32(s)) }

// cutSubsets lists the proper node subsets S with 2 <= |S| <= n-2 that contain
// node 0. Degree equalities make the cut out of S equal to the cut out of its
// complement, so this family covers every subtour constraint.
func cutSubsets(n int) []Subset {
	var out []Subset
	for mask := Subset(1); mask < Subset(1)<<n; mask += 2 {
		if size := mask.Size(); size >= 2 && size <= n-2 {
			out = append(out, mask)
		}
	}
	return out
}

// SubtourCheck tests a fractional arc vector against the subtour elimination
// constraints and reports the subsets whose cut is tight.
type SubtourCheck interface {
	Initialize(n int) error
	Check(x []float64) (feasible bool, active []Subset)
}

// ExtremalityCheck decides whether x is a vertex of the subtour polytope given
// the tight cuts found by a SubtourCheck.
type ExtremalityCheck interface {
	Initialize(n int) error
	Extreme(x []float64, active []Subset) (bool, error)
}

// subtExtr adapts one subtour check and one extremality check into a
// Calculator. prop_extr stays null for vectors that violate a subtour cut.
type subtExtr struct {
	n       int
	subtour SubtourCheck
	extreme ExtremalityCheck
}

func newSubtExtrFactory(subtour func() SubtourCheck) Factory {
	return func(p Params) (Calculator, error) {
		if p.N < 4 || p.N > graph.MaxNodes {
			return nil, fmt.Errorf("n=%d out of range", p.N)
		}
		return &subtExtr{n: p.N, subtour: subtour(), extreme: &rankExtremality{}}, nil
	}
}

func (c *subtExtr) Initialize() error {
	if err := c.subtour.Initialize(c.n); err != nil {
		return fmt.Errorf("subtour check: %w", err)
	}
	if err := c.extreme.Initialize(c.n); err != nil {
		return fmt.Errorf("extremality check: %w", err)
	}
	return nil
}

func (c *subtExtr) Close() error { return nil }

func (c *subtExtr) Calc(g *graph.Graph) (Result, error) {
	x := g.Vector()
	result := Result{}
	feasible, active := c.subtour.Check(x)
	result.Set(TableGraphs, "prop_subt", feasible)
	if !feasible {
		result.Set(TableGraphs, "prop_extr", nil)
		return result, nil
	}
	extreme, err := c.extreme.Extreme(x, active)
	if err != nil {
		return nil, fmt.Errorf("extremality of %s: %w", g.Key, err)
	}
	result.Set(TableGraphs, "prop_extr", extreme)
	return result, nil
}

// directSubtour sums every cut arc by arc.
type directSubtour struct {
	n       int
	subsets []Subset
}

func (d *directSubtour) Initialize(n int) error {
	d.n = n
	d.subsets = cutSubsets(n)
	return nil
}

func (d *directSubtour) Check(x []float64) (bool, []Subset) {
	var active []Subset
	for _, s := range d.subsets {
		cut := 0.0
		for u := 0; u < d.n; u++ {
			if !s.Has(u) {
				continue
			}
			for v := 0; v < d.n; v++ {
				if !s.Has(v) {
					cut += x[graph.EdgeIndex(d.n, u, v)]
				}
			}
		}
		switch {
		case cut < 1-tolerance:
			return false, nil
		case cut <= 1+tolerance:
			active = append(active, s)
		}
	}
	return true, active
}

// matrixSubtour evaluates cuts in blocks as a cut-incidence matrix times x.
type matrixSubtour struct {
	n       int
	subsets []Subset
	blocks  []*mat.Dense
}

const matrixBlockRows = 512

func (m *matrixSubtour) Initialize(n int) error {
	m.n = n
	m.subsets = cutSubsets(n)
	edges := graph.Edges(n)
	m.blocks = m.blocks[:0]
	for start := 0; start < len(m.subsets); start += matrixBlockRows {
		end := min(start+matrixBlockRows, len(m.subsets))
		block := mat.NewDense(end-start, len(edges), nil)
		for i, s := range m.subsets[start:end] {
			for j, e := range edges {
				if s.Has(e[0]) && !s.Has(e[1]) {
					block.Set(i, j, 1)
				}
			}
		}
		m.blocks = append(m.blocks, block)
	}
	return nil
}

func (m *matrixSubtour) Check(x []float64) (bool, []Subset) {
	vec := mat.NewVecDense(len(x), x)
	var active []Subset
	offset := 0
	for _, block := range m.blocks {
		rows, _ := block.Dims()
		var cuts mat.VecDense
		cuts.MulVec(block, vec)
		for i := 0; i < rows; i++ {
			cut := cuts.AtVec(i)
			switch {
			case cut < 1-tolerance:
				return false, nil
			case cut <= 1+tolerance:
				active = append(active, m.subsets[offset+i])
			}
		}
		offset += rows
	}
	return true, active
}

// rankExtremality stacks the constraints tight at x (zero arcs, degree
// equalities, tight cuts) and checks that they have full column rank.
type rankExtremality struct {
	n     int
	edges [][2]int
}

var errFactorize = errors.New("singular value decomposition failed")

func (r *rankExtremality) Initialize(n int) error {
	r.n = n
	r.edges = graph.Edges(n)
	return nil
}

func (r *rankExtremality) Extreme(x []float64, active []Subset) (bool, error) {
	m := len(r.edges)
	var rows [][]float64
	for j := range r.edges {
		if math.Abs(x[j]) <= tolerance {
			row := make([]float64, m)
			row[j] = 1
			rows = append(rows, row)
		}
	}
	for v := 0; v < r.n; v++ {
		out := make([]float64, m)
		in := make([]float64, m)
		for j, e := range r.edges {
			if e[0] == v {
				out[j] = 1
			}
			if e[1] == v {
				in[j] = 1
			}
		}
		rows = append(rows, out, in)
	}
	for _, s := range active {
		row := make([]float64, m)
		for j, e := range r.edges {
			if s.Has(e[0]) && !s.Has(e[1]) {
				row[j] = 1
			}
		}
		rows = append(rows, row)
	}
	if len(rows) < m {
		return false, nil
	}

	data := make([]float64, 0, len(rows)*m)
	for _, row := range rows {
		data = append(data, row...)
	}
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(len(rows), m, data), mat.SVDNone) {
		return false, errFactorize
	}
	return svd.Rank(1e-10) == m, nil
}
