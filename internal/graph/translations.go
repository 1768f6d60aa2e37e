package graph

import (
	"iter"
	"slices"
)

// Translations yields node relabelings that move the cover's cycles onto the
// consecutive blocks 0..p1-1, p1..p1+p2-1, and so on, once for every rotation
// of every cycle. With permuteEqual, cycles of equal length may also swap
// blocks. The yielded slice is reused between iterations.
func (c Cover) Translations(n int, permuteEqual bool) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		mapping := make([]int, n)
		if !permuteEqual {
			rotate(c, 0, 0, mapping, yield)
			return
		}
		for order := range blockOrders(c) {
			if !rotate(order, 0, 0, mapping, yield) {
				return
			}
		}
	}
}

func rotate(cycles Cover, index, start int, mapping []int, yield func([]int) bool) bool {
	if index == len(cycles) {
		return yield(mapping)
	}
	cycle := cycles[index]
	size := len(cycle)
	for i := 0; i < size; i++ {
		for j, v := range cycle {
			mapping[v] = start + (i+j)%size
		}
		if !rotate(cycles, index+1, start+size, mapping, yield) {
			return false
		}
	}
	return true
}

// blockOrders yields every arrangement of the cover, longest cycles first,
// that only permutes cycles sharing the same length.
func blockOrders(c Cover) iter.Seq[Cover] {
	return func(yield func(Cover) bool) {
		c = slices.Clone(c)
		c.sortCycles()
		var groups [][]Cycle
		for i := 0; i < len(c); {
			j := i
			for j < len(c) && len(c[j]) == len(c[i]) {
				j++
			}
			groups = append(groups, slices.Clone(c[i:j]))
			i = j
		}
		var walk func(idx int, acc Cover) bool
		walk = func(idx int, acc Cover) bool {
			if idx == len(groups) {
				return yield(acc)
			}
			for perm := range permutations(groups[idx]) {
				if !walk(idx+1, append(acc[:len(acc):len(acc)], perm...)) {
					return false
				}
			}
			return true
		}
		walk(0, make(Cover, 0, len(c)))
	}
}

// Reorderings yields the coding with its covers permuted among covers that
// share the same cycle-length profile. Profiles keep their first-appearance
// order, and the identity arrangement comes first.
func (c Coding) Reorderings() iter.Seq[Coding] {
	return func(yield func(Coding) bool) {
		var groups [][]Cover
		assigned := make([]bool, len(c))
		for i := range c {
			if assigned[i] {
				continue
			}
			parts := c[i].Parts()
			var group []Cover
			for j := i; j < len(c); j++ {
				if !assigned[j] && slices.Equal(c[j].Parts(), parts) {
					assigned[j] = true
					group = append(group, c[j])
				}
			}
			groups = append(groups, group)
		}
		var walk func(idx int, acc Coding) bool
		walk = func(idx int, acc Coding) bool {
			if idx == len(groups) {
				return yield(acc)
			}
			for perm := range permutations(groups[idx]) {
				if !walk(idx+1, append(acc[:len(acc):len(acc)], perm...)) {
					return false
				}
			}
			return true
		}
		walk(0, make(Coding, 0, len(c)))
	}
}

// permutations yields all orderings of items using Heap's algorithm. The
// first ordering is items itself.
func permutations[T any](items []T) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		work := slices.Clone(items)
		if !yield(slices.Clone(work)) {
			return
		}
		counters := make([]int, len(work))
		for i := 1; i < len(work); {
			if counters[i] < i {
				if i%2 == 0 {
					work[0], work[i] = work[i], work[0]
				} else {
					work[counters[i]], work[i] = work[i], work[counters[i]]
				}
				if !yield(slices.Clone(work)) {
					return
				}
				counters[i]++
				i = 1
				continue
			}
			counters[i] = 0
			i++
		}
	}
}

// IsCanonical reports whether no cover reordering combined with a rotation
// of the leading cover's cycles produces a smaller coding.
func (c Coding) IsCanonical(n int) bool {
	for reorder := range c.Reorderings() {
		for mapping := range reorder[0].Translations(n, false) {
			if reorder.Translate(mapping).Compare(c) < 0 {
				return false
			}
		}
	}
	return true
}

// Canonical returns the smallest coding reachable by cover reordering and
// any translation of the leading cover, including swaps of equal-length
// cycles. Codings that differ only by node relabeling and by swaps of covers
// with equal profiles share the same canonical form.
func (c Coding) Canonical(n int) Coding {
	var best Coding
	for reorder := range c.Reorderings() {
		for mapping := range reorder[0].Translations(n, true) {
			if candidate := reorder.Translate(mapping); best == nil || candidate.Compare(best) < 0 {
				best = candidate
			}
		}
	}
	return best
}
