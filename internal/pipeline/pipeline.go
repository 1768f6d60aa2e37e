package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cloven/internal/calc"
)

// Key identifies one work item. Keys are unique and ordered by plain string
// comparison, which matches SQLite's BINARY collation.
type Key = string

// Op is a predicate operator on a single graphs column.
type Op int

const (
	IsNull Op = iota
	NotNull
	IsTrue
	IsFalse
)

func (op Op) String() string {
	switch op {
	case IsNull:
		return "is null"
	case NotNull:
		return "is not null"
	case IsTrue:
		return "is true"
	case IsFalse:
		return "is false"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Condition restricts a selection to rows whose field satisfies Op.
type Condition struct {
	Field string
	Op    Op
}

func (c Condition) String() string {
	return c.Field + " " + c.Op.String()
}

// Null, Set, True and False build the conditions strategies are written with.
func Null(field string) Condition  { return Condition{Field: field, Op: IsNull} }
func Set(field string) Condition   { return Condition{Field: field, Op: NotNull} }
func True(field string) Condition  { return Condition{Field: field, Op: IsTrue} }
func False(field string) Condition { return Condition{Field: field, Op: IsFalse} }

// Selection is the conjunction of Where, optionally reduced to one
// representative per GroupBy value. The representative of a group is its
// smallest key over all rows; it is kept only if it also satisfies Where.
// Rows whose group value is NULL form singleton groups.
type Selection struct {
	Where   []Condition
	GroupBy string
}

func (s Selection) String() string {
	parts := make([]string, len(s.Where))
	for i, c := range s.Where {
		parts[i] = c.String()
	}
	out := strings.Join(parts, " and ")
	if out == "" {
		out = "all"
	}
	if s.GroupBy != "" {
		out += " grouped by " + s.GroupBy
	}
	return out
}

// Stage is one step of a strategy: which calculation runs and on which keys.
type Stage struct {
	Name    string
	Kind    calc.Kind
	Where   []Condition
	GroupBy string
	// Variant is filled from configuration before the stage runs.
	Variant string
}

// Selection returns the stage's working-set query.
func (s Stage) Selection() Selection {
	return Selection{Where: s.Where, GroupBy: s.GroupBy}
}

// Label is the display form of the stage name.
func (s Stage) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(s.Name, "_", " "))
}
