package store

import (
	"context"
	"fmt"
	"strings"

	"cloven/internal/pipeline"
)

// buildSelection renders sel as a FROM/WHERE clause over graphs aliased g.
// Field names are checked against the graphs whitelist, so only values ever
// reach the query as text.
func buildSelection(sel pipeline.Selection) (string, error) {
	var clauses []string
	for _, cond := range sel.Where {
		col, err := lookupColumn("graphs", cond.Field)
		if err != nil {
			return "", fmt.Errorf("selection: %w", err)
		}
		switch cond.Op {
		case pipeline.IsNull:
			clauses = append(clauses, "g."+col.name+" IS NULL")
		case pipeline.NotNull:
			clauses = append(clauses, "g."+col.name+" IS NOT NULL")
		case pipeline.IsTrue, pipeline.IsFalse:
			if !col.bool {
				return "", fmt.Errorf("selection: %s is not a boolean column", col.name)
			}
			value := "1"
			if cond.Op == pipeline.IsFalse {
				value = "0"
			}
			clauses = append(clauses, "g."+col.name+" = "+value)
		default:
			return "", fmt.Errorf("selection: unsupported operator %v", cond.Op)
		}
	}
	if sel.GroupBy != "" {
		col, err := lookupColumn("graphs", sel.GroupBy)
		if err != nil {
			return "", fmt.Errorf("selection group: %w", err)
		}
		clauses = append(clauses, fmt.Sprintf(
			"(g.%[1]s IS NULL OR g.key = (SELECT MIN(r.key) FROM graphs r WHERE r.%[1]s = g.%[1]s))", col.name))
	}
	query := " FROM graphs g"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query, nil
}

// Count returns the number of keys sel matches.
func (s *Store) Count(ctx context.Context, sel pipeline.Selection) (int, error) {
	from, err := buildSelection(sel)
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1)"+from).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", sel, err)
	}
	return count, nil
}

// SelectKeys returns the keys sel matches in ascending order.
func (s *Store) SelectKeys(ctx context.Context, sel pipeline.Selection) ([]pipeline.Key, error) {
	from, err := buildSelection(sel)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT g.key"+from+" ORDER BY g.key")
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", sel, err)
	}
	defer rows.Close()

	var keys []pipeline.Key
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Total returns the number of graphs in the database.
func (s *Store) Total(ctx context.Context) (int, error) {
	return s.Count(ctx, pipeline.Selection{})
}
