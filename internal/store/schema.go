package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Databases from an older version have to be regenerated with `cloven init`.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// column describes one writable column.
type column struct {
	name string
	bool bool
}

// tables lists the writable columns of every result table. Selections and
// bulk writes are validated against it before any SQL is built.
var tables = map[string][]column{
	"graphs": {
		{name: "parts"},
		{name: "prop_canon", bool: true},
		{name: "certificate"},
		{name: "prop_subt", bool: true},
		{name: "prop_extr", bool: true},
		{name: "gap"},
	},
	"timings": {
		{name: "prop_canon"},
		{name: "calc_certificate"},
		{name: "prop_subt_extr"},
		{name: "calc_gap"},
	},
	"gap_info": {
		{name: "sol_status"},
		{name: "sol_term_cond"},
		{name: "time_proc"},
		{name: "time_wall"},
	},
}

func lookupColumn(table, name string) (column, error) {
	cols, ok := tables[table]
	if !ok {
		return column{}, fmt.Errorf("unknown table %q", table)
	}
	idx := slices.IndexFunc(cols, func(c column) bool { return c.name == name })
	if idx < 0 {
		return column{}, fmt.Errorf("unknown column %s.%s", table, name)
	}
	return cols[idx], nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s and run 'cloven init')",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}

	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
