package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FieldCount summarises one graphs result column.
type FieldCount struct {
	Field string
	Null  int
	Set   int
	// True and False are filled for boolean columns only.
	True  int
	False int
	// Distinct counts distinct values of non-boolean columns.
	Distinct int
	Bool     bool
}

// FieldCounts returns null/true/false/set counts for every graphs result
// column in schema order.
func (s *Store) FieldCounts(ctx context.Context) ([]FieldCount, error) {
	var out []FieldCount
	for _, col := range tables["graphs"] {
		if col.name == "parts" {
			continue
		}
		fc := FieldCount{Field: col.name, Bool: col.bool}
		var query string
		if col.bool {
			query = fmt.Sprintf(`SELECT COUNT(1), COUNT(%[1]s), COALESCE(SUM(%[1]s = 1), 0), COALESCE(SUM(%[1]s = 0), 0) FROM graphs`, col.name)
		} else {
			query = fmt.Sprintf(`SELECT COUNT(1), COUNT(%[1]s), COUNT(DISTINCT %[1]s), 0 FROM graphs`, col.name)
		}
		var total, set, a, b int
		if err := s.db.QueryRowContext(ctx, query).Scan(&total, &set, &a, &b); err != nil {
			return nil, fmt.Errorf("field counts %s: %w", col.name, err)
		}
		fc.Set = set
		fc.Null = total - set
		if col.bool {
			fc.True, fc.False = a, b
		} else {
			fc.Distinct = a
		}
		out = append(out, fc)
	}
	return out, nil
}

// GapStats returns a count of gap_info rows grouped by solver status.
func (s *Store) GapStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sol_status, COUNT(1) FROM gap_info GROUP BY sol_status`)
	if err != nil {
		return nil, fmt.Errorf("gap stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status sql.NullString
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status.String] = count
	}
	return stats, rows.Err()
}

// Lookup returns the graphs fields stored for key, or nil when key is unknown.
func (s *Store) Lookup(ctx context.Context, key string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT parts, prop_canon, certificate, prop_subt, prop_extr, gap FROM graphs WHERE key = ?`, key)
	var (
		parts             string
		canon, subt, extr sql.NullBool
		certificate       sql.NullString
		gap               sql.NullFloat64
	)
	if err := row.Scan(&parts, &canon, &certificate, &subt, &extr, &gap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	out := map[string]any{
		"parts":       parts,
		"prop_canon":  nullable(canon.Bool, canon.Valid),
		"certificate": nullable(certificate.String, certificate.Valid),
		"prop_subt":   nullable(subt.Bool, subt.Valid),
		"prop_extr":   nullable(extr.Bool, extr.Valid),
		"gap":         nullable(gap.Float64, gap.Valid),
	}
	return out, nil
}

func nullable[T any](value T, valid bool) any {
	if !valid {
		return nil
	}
	return value
}
