package store

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"

	"cloven/internal/calc"
)

// Row is one key's values for a single table.
type Row struct {
	Key    string
	Fields calc.Fields
}

// BulkWriter issues bulk writes inside a Write transaction.
type BulkWriter interface {
	// BulkUpdateByKey overwrites the given fields of existing rows.
	BulkUpdateByKey(ctx context.Context, table string, rows []Row) error
	// BulkInsert inserts rows, replacing any row with the same key.
	BulkInsert(ctx context.Context, table string, rows []Row) error
}

// Write runs fn inside one transaction. Either every write fn issues is
// committed or none is. fn may run again when the database is busy, so it
// must not have side effects beyond its writes.
func (s *Store) Write(ctx context.Context, fn func(BulkWriter) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin write tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		w := &txWriter{tx: tx, stmts: map[string]*sql.Stmt{}}
		defer w.close()
		if err := fn(w); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit write tx: %w", err)
		}
		return nil
	})
}

type txWriter struct {
	tx    *sql.Tx
	stmts map[string]*sql.Stmt
}

func (w *txWriter) close() {
	for _, stmt := range w.stmts {
		_ = stmt.Close()
	}
}

func (w *txWriter) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := w.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := w.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare %q: %w", query, err)
	}
	w.stmts[query] = stmt
	return stmt, nil
}

// sortedColumns validates the field names of row against table and returns
// them in a stable order so rows with equal field sets share a statement.
func sortedColumns(table string, row Row) ([]string, error) {
	names := slices.Sorted(maps.Keys(row.Fields))
	for _, name := range names {
		if _, err := lookupColumn(table, name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (w *txWriter) BulkUpdateByKey(ctx context.Context, table string, rows []Row) error {
	for _, row := range rows {
		names, err := sortedColumns(table, row)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		if len(names) == 0 {
			continue
		}
		assignments := make([]string, len(names))
		args := make([]any, 0, len(names)+1)
		for i, name := range names {
			assignments[i] = name + " = ?"
			args = append(args, row.Fields[name])
		}
		args = append(args, row.Key)
		stmt, err := w.prepare(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE key = ?", table, strings.Join(assignments, ", ")))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("update %s %s: %w", table, row.Key, err)
		}
	}
	return nil
}

func (w *txWriter) BulkInsert(ctx context.Context, table string, rows []Row) error {
	for _, row := range rows {
		names, err := sortedColumns(table, row)
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		args := make([]any, 0, len(names)+1)
		args = append(args, row.Key)
		for _, name := range names {
			args = append(args, row.Fields[name])
		}
		query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
			table, strings.Join(append([]string{"key"}, names...), ", "), makePlaceholders(len(args)))
		stmt, err := w.prepare(ctx, query)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s %s: %w", table, row.Key, err)
		}
	}
	return nil
}

// Reset clears every field kind writes, in graphs, timings and gap_info, so
// the next run recomputes the stage. It returns the number of graphs rows
// that had a value.
func (s *Store) Reset(ctx context.Context, kind calc.Kind) (int64, error) {
	fields := kind.ResultFields()
	if len(fields) == 0 {
		return 0, fmt.Errorf("reset: unknown stage kind %q", kind)
	}
	var touched int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reset tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		assignments := make([]string, len(fields))
		notNull := make([]string, len(fields))
		for i, f := range fields {
			assignments[i] = f + " = NULL"
			notNull[i] = f + " IS NOT NULL"
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE graphs SET %s WHERE %s",
			strings.Join(assignments, ", "), strings.Join(notNull, " OR ")))
		if err != nil {
			return fmt.Errorf("reset graphs: %w", err)
		}
		touched, _ = res.RowsAffected()

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE timings SET %s = NULL", kind.TimingField())); err != nil {
			return fmt.Errorf("reset timings: %w", err)
		}
		if kind == calc.KindGap {
			if _, err := tx.ExecContext(ctx, "DELETE FROM gap_info"); err != nil {
				return fmt.Errorf("reset gap_info: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return touched, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}
