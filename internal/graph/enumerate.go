package graph

import (
	"fmt"
	"iter"
	"slices"
)

// Generator enumerates the codings of one graph family.
type Generator struct {
	Code        string
	Name        string
	Description string
	exclude     func(first Cover, n int) func(Cycle) bool
}

var generators = []Generator{
	{
		Code:        "f",
		Name:        "full",
		Description: "all pairs of cycle covers",
	},
	{
		Code:        "h",
		Name:        "half",
		Description: "pairs of cycle covers sharing no arc",
		exclude:     sharedArcFilter,
	},
}

// Generators lists the available generators.
func Generators() []Generator {
	return slices.Clone(generators)
}

// LookupGenerator finds a generator by its one-letter code.
func LookupGenerator(code string) (Generator, error) {
	for _, g := range generators {
		if g.Code == code {
			return g, nil
		}
	}
	return Generator{}, fmt.Errorf("unknown generator %q", code)
}

// Codings enumerates two-cover codings on n nodes. The first cover is fixed
// to consecutive blocks; the second ranges over every cover whose profile
// does not precede the first one's. Single Hamiltonian cycles are excluded
// from both covers.
func (g Generator) Codings(n, k int) (iter.Seq[Coding], error) {
	if k != 2 {
		return nil, fmt.Errorf("generator %s: only k = 2 is supported", g.Name)
	}
	if n < 4 || n > MaxNodes {
		return nil, fmt.Errorf("generator %s: n=%d out of range", g.Name, n)
	}
	profiles := partitions(n, n-2, 2)
	return func(yield func(Coding) bool) {
		for i, first := range profiles {
			base := blockCover(first)
			var skip func(Cycle) bool
			if g.exclude != nil {
				skip = g.exclude(base, n)
			}
			for _, second := range profiles[i:] {
				ok := coverCycles(allNodes(n), second, 0, -1, nil, skip, func(cover Cover) bool {
					return yield(Coding{base, cover})
				})
				if !ok {
					return
				}
			}
		}
	}, nil
}

// partitions lists the partitions of n into parts in [minimum, maximum],
// each in non-increasing order, largest leading part first.
func partitions(n, maximum, minimum int) [][]int {
	var out [][]int
	if n <= maximum {
		out = append(out, []int{n})
	}
	for i := min(n-minimum, maximum); i >= minimum; i-- {
		for _, tail := range partitions(n-i, i, minimum) {
			out = append(out, append([]int{i}, tail...))
		}
	}
	return out
}

func blockCover(profile []int) Cover {
	cover := make(Cover, 0, len(profile))
	start := 0
	for _, size := range profile {
		cycle := make(Cycle, size)
		for i := range cycle {
			cycle[i] = start + i
		}
		cover = append(cover, cycle)
		start += size
	}
	return cover
}

func allNodes(n int) []int {
	nodes := make([]int, n)
	for i := range nodes {
		nodes[i] = i
	}
	return nodes
}

// coverCycles builds covers of nodes with the given profile. Cycles of equal
// length are emitted with increasing leading node so each cover appears once.
func coverCycles(nodes, profile []int, prevLen, prevTop int, acc Cover, skip func(Cycle) bool, yield func(Cover) bool) bool {
	if len(profile) == 0 {
		return yield(slices.Clone(acc))
	}
	size := profile[0]
	for head := range combinations(nodes, size) {
		top := head[0]
		if size == prevLen && top < prevTop {
			continue
		}
		rest := difference(nodes, head)
		for perm := range permutations(head[1:]) {
			cycle := append(Cycle{top}, perm...)
			if skip != nil && skip(cycle) {
				continue
			}
			if !coverCycles(rest, profile[1:], size, top, append(acc, cycle), skip, yield) {
				return false
			}
		}
	}
	return true
}

// combinations yields every size-k subset of sorted nodes in lexicographic order.
func combinations(nodes []int, k int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if k > len(nodes) || k <= 0 {
			return
		}
		idx := make([]int, k)
		for i := range idx {
			idx[i] = i
		}
		for {
			combo := make([]int, k)
			for i, j := range idx {
				combo[i] = nodes[j]
			}
			if !yield(combo) {
				return
			}
			i := k - 1
			for i >= 0 && idx[i] == len(nodes)-k+i {
				i--
			}
			if i < 0 {
				return
			}
			idx[i]++
			for j := i + 1; j < k; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
}

func difference(nodes, remove []int) []int {
	out := make([]int, 0, len(nodes)-len(remove))
	for _, v := range nodes {
		if !slices.Contains(remove, v) {
			out = append(out, v)
		}
	}
	return out
}

func sharedArcFilter(first Cover, n int) func(Cycle) bool {
	succ := make([]int, n)
	for _, cycle := range first {
		for i, v := range cycle {
			succ[v] = cycle[(i+1)%len(cycle)]
		}
	}
	return func(cycle Cycle) bool {
		for i, v := range cycle {
			if succ[v] == cycle[(i+1)%len(cycle)] {
				return true
			}
		}
		return false
	}
}
