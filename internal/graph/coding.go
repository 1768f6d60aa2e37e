package graph

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MaxNodes bounds the node count so every node fits one hex digit in a key.
const MaxNodes = 16

// Cycle is a directed cycle stored rotated so its smallest node comes first.
type Cycle []int

// Cover is a set of node-disjoint directed cycles spanning all nodes.
type Cover []Cycle

// Coding describes a graph as an ordered list of covers. Its string form is
// the stable key the rest of the system identifies work items by.
type Coding []Cover

func newCycle(nodes []int) Cycle {
	if len(nodes) == 0 {
		return nil
	}
	start := 0
	for i, v := range nodes {
		if v < nodes[start] {
			start = i
		}
	}
	out := make(Cycle, 0, len(nodes))
	out = append(out, nodes[start:]...)
	return append(out, nodes[:start]...)
}

// sortCycles orders cycles by decreasing length, then lexicographically.
func (c Cover) sortCycles() {
	slices.SortFunc(c, func(a, b Cycle) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return slices.Compare(a, b)
	})
}

// Parts returns the cycle lengths of the cover in order.
func (c Cover) Parts() []int {
	parts := make([]int, len(c))
	for i, cycle := range c {
		parts[i] = len(cycle)
	}
	return parts
}

func compareCovers(a, b Cover) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if cmp := slices.Compare(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	return len(a) - len(b)
}

// Compare orders codings cover by cover.
func (c Coding) Compare(other Coding) int {
	for i := 0; i < len(c) && i < len(other); i++ {
		if cmp := compareCovers(c[i], other[i]); cmp != 0 {
			return cmp
		}
	}
	return len(c) - len(other)
}

// Translate relabels every node through mapping and re-normalizes each cover.
func (c Coding) Translate(mapping []int) Coding {
	out := make(Coding, len(c))
	for i, cover := range c {
		translated := make(Cover, len(cover))
		for j, cycle := range cover {
			nodes := make([]int, len(cycle))
			for k, v := range cycle {
				nodes[k] = mapping[v]
			}
			translated[j] = newCycle(nodes)
		}
		translated.sortCycles()
		out[i] = translated
	}
	return out
}

// Reversed returns the coding with its covers in reverse order.
func (c Coding) Reversed() Coding {
	out := slices.Clone(c)
	slices.Reverse(out)
	return out
}

// String renders the key form, e.g. "0123 45|0235 14".
func (c Coding) String() string {
	var b strings.Builder
	for i, cover := range c {
		if i > 0 {
			b.WriteByte('|')
		}
		for j, cycle := range cover {
			if j > 0 {
				b.WriteByte(' ')
			}
			for _, v := range cycle {
				b.WriteString(strings.ToUpper(strconv.FormatInt(int64(v), 16)))
			}
		}
	}
	return b.String()
}

// PartsString renders the cycle lengths of every cover, e.g. "4 2|4 2".
func (c Coding) PartsString() string {
	covers := make([]string, len(c))
	for i, cover := range c {
		parts := cover.Parts()
		fields := make([]string, len(parts))
		for j, p := range parts {
			fields[j] = strconv.Itoa(p)
		}
		covers[i] = strings.Join(fields, " ")
	}
	return strings.Join(covers, "|")
}

// ParseCoding decodes a key produced by Coding.String and checks that every
// cover is a spanning set of disjoint cycles over n nodes.
func ParseCoding(key string, n int) (Coding, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("empty coding")
	}
	if n <= 0 || n > MaxNodes {
		return nil, fmt.Errorf("node count %d out of range", n)
	}
	rawCovers := strings.Split(key, "|")
	coding := make(Coding, 0, len(rawCovers))
	for ci, rawCover := range rawCovers {
		seen := make([]bool, n)
		var cover Cover
		for _, rawCycle := range strings.Fields(rawCover) {
			nodes := make([]int, 0, len(rawCycle))
			for _, r := range rawCycle {
				v, err := strconv.ParseInt(string(r), 16, 8)
				if err != nil {
					return nil, fmt.Errorf("cover %d: invalid node %q", ci, r)
				}
				if int(v) >= n {
					return nil, fmt.Errorf("cover %d: node %d exceeds n=%d", ci, v, n)
				}
				if seen[v] {
					return nil, fmt.Errorf("cover %d: node %d repeated", ci, v)
				}
				seen[v] = true
				nodes = append(nodes, int(v))
			}
			if len(nodes) < 2 {
				return nil, fmt.Errorf("cover %d: cycle %q shorter than 2", ci, rawCycle)
			}
			cover = append(cover, newCycle(nodes))
		}
		for v, ok := range seen {
			if !ok {
				return nil, fmt.Errorf("cover %d: node %d not covered", ci, v)
			}
		}
		coding = append(coding, cover)
	}
	return coding, nil
}
