package calc

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"cloven/internal/graph"
)

// Kind names a stage's calculation.
type Kind string

const (
	KindCanon       Kind = "canon"
	KindCertificate Kind = "certificate"
	KindSubtExtr    Kind = "subt_extr"
	KindGap         Kind = "gap"
)

// Destination tables.
const (
	TableGraphs  = "graphs"
	TableTimings = "timings"
	TableGapInfo = "gap_info"
)

// Kinds lists every stage kind in pipeline order.
func Kinds() []Kind {
	return []Kind{KindCanon, KindCertificate, KindSubtExtr, KindGap}
}

// ParseKind validates a textual stage kind.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(Kinds(), kind) {
		return kind, nil
	}
	return "", fmt.Errorf("unknown stage kind %q", value)
}

// TimingField is the column in the timings table that records CPU time for kind.
func (k Kind) TimingField() string {
	switch k {
	case KindCanon:
		return "prop_canon"
	case KindCertificate:
		return "calc_certificate"
	case KindSubtExtr:
		return "prop_subt_extr"
	case KindGap:
		return "calc_gap"
	}
	return ""
}

// ResultFields lists the graphs columns a kind writes.
func (k Kind) ResultFields() []string {
	switch k {
	case KindCanon:
		return []string{"prop_canon"}
	case KindCertificate:
		return []string{"certificate"}
	case KindSubtExtr:
		return []string{"prop_subt", "prop_extr"}
	case KindGap:
		return []string{"gap"}
	}
	return nil
}

// Fields maps column names to values. Values are bool, int64, float64,
// string, or nil.
type Fields map[string]any

// Result maps destination table names to the fields computed for one key.
type Result map[string]Fields

// Set stores value under table.field, creating the table entry as needed.
func (r Result) Set(table, field string, value any) {
	fields, ok := r[table]
	if !ok {
		fields = Fields{}
		r[table] = fields
	}
	fields[field] = value
}

// Tables returns the table names in r, sorted.
func (r Result) Tables() []string {
	names := slices.Collect(maps.Keys(r))
	sort.Strings(names)
	return names
}

// Calculator computes one stage's fields for one graph at a time. A worker
// owns exactly one calculator: Initialize runs once before the first Calc
// and Close runs once when the worker stops.
type Calculator interface {
	Initialize() error
	Calc(g *graph.Graph) (Result, error)
	Close() error
}

// Params describes the instance a calculator is built for.
type Params struct {
	N       int   `json:"n"`
	K       int   `json:"k"`
	Weights []int `json:"weights"`
}
