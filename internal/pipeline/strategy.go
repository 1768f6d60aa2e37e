package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"cloven/internal/calc"
)

// DefaultStrategy is used when neither the command line nor the
// configuration names one.
const DefaultStrategy = "B"

// Strategy is an ordered list of stages run one after another.
type Strategy struct {
	Code        string
	Name        string
	Description string
	Stages      []Stage
}

func canonStage(where ...Condition) Stage {
	return Stage{Name: "canon", Kind: calc.KindCanon, Where: append([]Condition{Null("prop_canon")}, where...)}
}

func certificateStage(where ...Condition) Stage {
	return Stage{Name: "certificate", Kind: calc.KindCertificate, Where: append([]Condition{Null("certificate")}, where...)}
}

func subtExtrStage(groupBy string, where ...Condition) Stage {
	return Stage{Name: "subt_extr", Kind: calc.KindSubtExtr, Where: append([]Condition{Null("prop_subt")}, where...), GroupBy: groupBy}
}

func gapStage(where ...Condition) Stage {
	return Stage{Name: "gap", Kind: calc.KindGap, Where: append(where, Null("gap")), GroupBy: "certificate"}
}

var strategies = []Strategy{
	{
		Code:        "P",
		Name:        "properties",
		Description: "canon + certificate + subtour/extremality",
		Stages:      []Stage{canonStage(), certificateStage(), subtExtrStage("")},
	},
	{
		Code:        "K",
		Name:        "canon",
		Description: "canon",
		Stages:      []Stage{canonStage()},
	},
	{
		Code:        "C",
		Name:        "certificate",
		Description: "certificate",
		Stages:      []Stage{certificateStage()},
	},
	{
		Code:        "S",
		Name:        "prop_subt",
		Description: "subtour/extremality",
		Stages:      []Stage{subtExtrStage("")},
	},
	{
		Code:        "E",
		Name:        "extensive",
		Description: "canon + certificate + subtour/extremality > gap",
		Stages: []Stage{
			canonStage(),
			certificateStage(),
			subtExtrStage(""),
			gapStage(True("prop_subt"), True("prop_extr"), True("prop_canon")),
		},
	},
	{
		Code:        "A",
		Name:        "optimal_1",
		Description: "certificate > subtour/extremality > gap",
		Stages: []Stage{
			certificateStage(),
			subtExtrStage("certificate"),
			gapStage(True("prop_subt"), True("prop_extr")),
		},
	},
	{
		Code:        "B",
		Name:        "optimal_2",
		Description: "canon > certificate > subtour/extremality > gap",
		Stages: []Stage{
			canonStage(),
			certificateStage(True("prop_canon")),
			subtExtrStage("certificate", True("prop_canon")),
			gapStage(True("prop_canon"), True("prop_subt"), True("prop_extr")),
		},
	},
}

// Strategies lists the built-in strategies in display order.
func Strategies() []Strategy {
	out := make([]Strategy, len(strategies))
	for i, s := range strategies {
		out[i] = s.clone()
	}
	return out
}

// Lookup finds a strategy by code, case-insensitively.
func Lookup(code string) (Strategy, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultStrategy
	}
	for _, s := range strategies {
		if s.Code == code {
			return s.clone(), nil
		}
	}
	codes := make([]string, len(strategies))
	for i, s := range strategies {
		codes[i] = s.Code
	}
	return Strategy{}, fmt.Errorf("unknown strategy %q (available: %s)", code, strings.Join(codes, ", "))
}

// WithVariants returns a copy whose stages carry the configured variant for
// their kind.
func (s Strategy) WithVariants(variants map[calc.Kind]string) Strategy {
	out := s.clone()
	for i := range out.Stages {
		out.Stages[i].Variant = variants[out.Stages[i].Kind]
	}
	return out
}

// Kinds lists the distinct stage kinds in order of first use.
func (s Strategy) Kinds() []calc.Kind {
	var kinds []calc.Kind
	for _, st := range s.Stages {
		if !slices.Contains(kinds, st.Kind) {
			kinds = append(kinds, st.Kind)
		}
	}
	return kinds
}

// Sequence renders the stage names joined by arrows.
func (s Strategy) Sequence() string {
	names := make([]string, len(s.Stages))
	for i, st := range s.Stages {
		names[i] = st.Label()
	}
	return strings.Join(names, " → ")
}

func (s Strategy) clone() Strategy {
	out := s
	out.Stages = make([]Stage, len(s.Stages))
	for i, st := range s.Stages {
		st.Where = slices.Clone(st.Where)
		out.Stages[i] = st
	}
	return out
}
