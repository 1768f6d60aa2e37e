package calc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cloven/internal/graph"
)

// canon decides whether a coding is the smallest member of its rotation
// class. The direct variant translates whole codings; the smart variant
// compares the leading cover first and only translates the remaining covers
// when the leading ones tie.
type canon struct {
	n     int
	smart bool
}

func newCanonFactory(smart bool) Factory {
	return func(p Params) (Calculator, error) {
		if p.N <= 0 || p.N > graph.MaxNodes {
			return nil, fmt.Errorf("n=%d out of range", p.N)
		}
		return &canon{n: p.N, smart: smart}, nil
	}
}

func (c *canon) Initialize() error { return nil }
func (c *canon) Close() error      { return nil }

func (c *canon) Calc(g *graph.Graph) (Result, error) {
	var ok bool
	if c.smart {
		ok = smartCanonical(g.Coding, c.n)
	} else {
		ok = g.Coding.IsCanonical(c.n)
	}
	result := Result{}
	result.Set(TableGraphs, "prop_canon", ok)
	return result, nil
}

func smartCanonical(coding graph.Coding, n int) bool {
	lead := coding[:1]
	for reorder := range coding.Reorderings() {
		for mapping := range reorder[0].Translations(n, false) {
			cmp := reorder[:1].Translate(mapping).Compare(lead)
			if cmp > 0 {
				continue
			}
			if cmp < 0 {
				return false
			}
			if reorder[1:].Translate(mapping).Compare(coding[1:]) < 0 {
				return false
			}
		}
	}
	return true
}

// certificate labels each coding with a digest of its canonical form, so
// codings equal up to relabeling share a certificate.
type certificate struct {
	n int
}

func newCertificate(p Params) (Calculator, error) {
	if p.N <= 0 || p.N > graph.MaxNodes {
		return nil, fmt.Errorf("n=%d out of range", p.N)
	}
	return &certificate{n: p.N}, nil
}

func (c *certificate) Initialize() error { return nil }
func (c *certificate) Close() error      { return nil }

func (c *certificate) Calc(g *graph.Graph) (Result, error) {
	sum := sha256.Sum256([]byte(g.Coding.Canonical(c.n).String()))
	result := Result{}
	result.Set(TableGraphs, "certificate", hex.EncodeToString(sum[:]))
	return result, nil
}
