package graph_test

import (
	"slices"
	"testing"

	"cloven/internal/graph"
)

func TestParseCodingRoundTrip(t *testing.T) {
	cases := []struct {
		key string
		n   int
	}{
		{"0123 45|0235 14", 6},
		{"01 23|02 13", 4},
		{"012 34|031 24", 5},
	}
	for _, tc := range cases {
		coding, err := graph.ParseCoding(tc.key, tc.n)
		if err != nil {
			t.Fatalf("ParseCoding(%q) returned error: %v", tc.key, err)
		}
		if len(coding) != 2 {
			t.Fatalf("expected 2 covers, got %d", len(coding))
		}
		if got := coding.String(); got != tc.key {
			t.Fatalf("round trip mismatch: got %q want %q", got, tc.key)
		}
	}

	rotated, err := graph.ParseCoding("120 34|01 23 4", 5)
	if err == nil {
		t.Fatalf("expected error for a cover with a single-node cycle, got %s", rotated)
	}
	rotated, err = graph.ParseCoding("120 34|310 24", 5)
	if err != nil {
		t.Fatalf("ParseCoding returned error: %v", err)
	}
	if got := rotated.String(); got != "012 34|031 24" {
		t.Fatalf("expected cycles rotated to their smallest node, got %q", got)
	}
}

func TestParseCodingRejectsMalformedKeys(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"repeated":     "0120 3|01 23",
		"uncovered":    "01 2|01 23",
		"out of range": "01 24|01 23",
		"loop":         "0 123|01 23",
		"not hex":      "0x 23|01 23",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := graph.ParseCoding(key, 4); err == nil {
				t.Fatalf("expected error for %q", key)
			}
		})
	}
}

func TestGraphDerivedViews(t *testing.T) {
	g, err := graph.New("01 23|01 23", 4, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	m := g.Multiplicity()
	if m[0][1] != 2 || m[1][0] != 2 || m[0][2] != 0 {
		t.Fatalf("unexpected multiplicity: %v", m)
	}
	vec := g.Vector()
	if len(vec) != 12 {
		t.Fatalf("expected 12 arcs, got %d", len(vec))
	}
	if vec[graph.EdgeIndex(4, 0, 1)] != 1 || vec[graph.EdgeIndex(4, 2, 3)] != 1 {
		t.Fatalf("expected doubled arcs to carry value 1, got %v", vec)
	}
	if &g.Vector()[0] != &vec[0] {
		t.Fatal("expected memoized vector to be reused")
	}

	weighted, err := graph.New("01 23|02 13", 4, []int{3, 1})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if got := weighted.Weighted()[0][1]; got != 0.75 {
		t.Fatalf("expected weight share 0.75, got %v", got)
	}
	if got := weighted.Weighted()[0][2]; got != 0.25 {
		t.Fatalf("expected weight share 0.25, got %v", got)
	}
	if weighted.Parts() != "2 2|2 2" {
		t.Fatalf("unexpected parts %q", weighted.Parts())
	}
}

func TestEdgeIndexMatchesEdges(t *testing.T) {
	for n := 3; n <= 7; n++ {
		for i, e := range graph.Edges(n) {
			if got := graph.EdgeIndex(n, e[0], e[1]); got != i {
				t.Fatalf("n=%d edge %v: index %d want %d", n, e, got, i)
			}
		}
	}
}

func TestIsCanonical(t *testing.T) {
	canonical, _ := graph.ParseCoding("01 23|02 13", 4)
	if !canonical.IsCanonical(4) {
		t.Fatal("expected 01 23|02 13 to be canonical")
	}
	rotated, _ := graph.ParseCoding("01 23|03 12", 4)
	if rotated.IsCanonical(4) {
		t.Fatal("expected 01 23|03 12 to be non-canonical")
	}
}

func TestCanonicalIsRelabelingInvariant(t *testing.T) {
	coding, err := graph.ParseCoding("0123 45|0352 14", 6)
	if err != nil {
		t.Fatalf("ParseCoding returned error: %v", err)
	}
	want := coding.Canonical(6)
	if !want.IsCanonical(6) {
		t.Fatalf("canonical form %s should pass the canonicity check", want)
	}

	relabel := []int{3, 5, 0, 4, 1, 2}
	moved := coding.Translate(relabel)
	if got := moved.Canonical(6); got.Compare(want) != 0 {
		t.Fatalf("canonical form changed under relabeling: %s vs %s", got, want)
	}
	if got := coding.Reversed().Canonical(6); got.Compare(want) != 0 {
		t.Fatalf("canonical form changed under cover swap: %s vs %s", got, want)
	}
}

func TestGeneratorCounts(t *testing.T) {
	cases := []struct {
		code string
		n    int
		want int
	}{
		{"f", 4, 3},
		{"h", 4, 2},
		{"f", 5, 20},
	}
	for _, tc := range cases {
		gen, err := graph.LookupGenerator(tc.code)
		if err != nil {
			t.Fatalf("LookupGenerator(%q): %v", tc.code, err)
		}
		seq, err := gen.Codings(tc.n, 2)
		if err != nil {
			t.Fatalf("Codings: %v", err)
		}
		var keys []string
		for coding := range seq {
			keys = append(keys, coding.String())
			if _, err := graph.ParseCoding(coding.String(), tc.n); err != nil {
				t.Fatalf("generated invalid coding %s: %v", coding, err)
			}
		}
		if len(keys) != tc.want {
			t.Fatalf("%s n=%d: got %d codings want %d (%v)", gen.Name, tc.n, len(keys), tc.want, keys)
		}
		sorted := slices.Clone(keys)
		slices.Sort(sorted)
		if len(slices.Compact(sorted)) != len(keys) {
			t.Fatalf("%s n=%d produced duplicate keys: %v", gen.Name, tc.n, keys)
		}
	}
}

func TestGeneratorRejectsUnsupportedK(t *testing.T) {
	gen, _ := graph.LookupGenerator("f")
	if _, err := gen.Codings(6, 3); err == nil {
		t.Fatal("expected error for k=3")
	}
	if _, err := graph.LookupGenerator("z"); err == nil {
		t.Fatal("expected error for unknown generator")
	}
}
