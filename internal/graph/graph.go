package graph

import (
	"fmt"
	"sync"
)

// Graph is one work item: a coding over N nodes with per-cover weights.
// Derived views are computed on first use and cached for the lifetime of the
// value.
type Graph struct {
	N       int
	Weights []int
	Key     string
	Coding  Coding

	multiplicity func() [][]int
	weighted     func() [][]float64
	vector       func() []float64
}

// New parses key into a Graph. Weights default to one per cover.
func New(key string, n int, weights []int) (*Graph, error) {
	coding, err := ParseCoding(key, n)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", key, err)
	}
	if len(weights) == 0 {
		weights = make([]int, len(coding))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(coding) {
		return nil, fmt.Errorf("coding %q has %d covers but %d weights", key, len(coding), len(weights))
	}
	g := &Graph{N: n, Weights: weights, Key: key, Coding: coding}
	g.multiplicity = sync.OnceValue(g.buildMultiplicity)
	g.weighted = sync.OnceValue(g.buildWeighted)
	g.vector = sync.OnceValue(g.buildVector)
	return g, nil
}

// Multiplicity returns m[u][v], the number of covers containing arc u→v.
func (g *Graph) Multiplicity() [][]int { return g.multiplicity() }

// Weighted returns the fractional arc values: the weight share of the covers
// containing each arc.
func (g *Graph) Weighted() [][]float64 { return g.weighted() }

// Vector returns Weighted flattened in Edges order.
func (g *Graph) Vector() []float64 { return g.vector() }

// Parts renders the cycle-length profile stored alongside the key.
func (g *Graph) Parts() string { return g.Coding.PartsString() }

func (g *Graph) buildMultiplicity() [][]int {
	m := make([][]int, g.N)
	for i := range m {
		m[i] = make([]int, g.N)
	}
	for _, cover := range g.Coding {
		for _, cycle := range cover {
			for i, u := range cycle {
				m[u][cycle[(i+1)%len(cycle)]]++
			}
		}
	}
	return m
}

func (g *Graph) buildWeighted() [][]float64 {
	total := 0
	for _, w := range g.Weights {
		total += w
	}
	out := make([][]float64, g.N)
	for i := range out {
		out[i] = make([]float64, g.N)
	}
	for ci, cover := range g.Coding {
		share := float64(g.Weights[ci]) / float64(total)
		for _, cycle := range cover {
			for i, u := range cycle {
				out[u][cycle[(i+1)%len(cycle)]] += share
			}
		}
	}
	return out
}

func (g *Graph) buildVector() []float64 {
	weighted := g.Weighted()
	edges := Edges(g.N)
	vec := make([]float64, len(edges))
	for i, e := range edges {
		vec[i] = weighted[e[0]][e[1]]
	}
	return vec
}

// Edges lists the arcs (u, v), u != v, of the complete digraph on n nodes in
// row-major order.
func Edges(n int) [][2]int {
	edges := make([][2]int, 0, n*(n-1))
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			if u != v {
				edges = append(edges, [2]int{u, v})
			}
		}
	}
	return edges
}

// EdgeIndex returns the position of arc (u, v) in Edges(n).
func EdgeIndex(n, u, v int) int {
	idx := u * (n - 1)
	if v > u {
		return idx + v - 1
	}
	return idx + v
}
