package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloven/internal/graph"
)

const seedBatchSize = 5000

// Seed enumerates the codings of generator on n nodes and inserts any that
// are missing. Existing rows and their results are left alone. It returns
// the number of rows added.
func (s *Store) Seed(ctx context.Context, generator string, n, k int) (int, error) {
	if n != s.n {
		return 0, fmt.Errorf("seed: store configured for n=%d, got n=%d", s.n, n)
	}
	gen, err := graph.LookupGenerator(generator)
	if err != nil {
		return 0, err
	}
	codings, err := gen.Codings(n, k)
	if err != nil {
		return 0, err
	}

	added := 0
	batch := make([]keyed, 0, seedBatchSize)
	for coding := range codings {
		batch = append(batch, keyed{key: coding.String(), coding: coding})
		if len(batch) < seedBatchSize {
			continue
		}
		count, err := s.insertCodings(ctx, batch)
		if err != nil {
			return added, err
		}
		added += count
		batch = batch[:0]
	}
	if len(batch) > 0 {
		count, err := s.insertCodings(ctx, batch)
		if err != nil {
			return added, err
		}
		added += count
	}
	return added, nil
}

// InsertKeys validates and inserts raw keys for the configured node count.
func (s *Store) InsertKeys(ctx context.Context, keys []string) error {
	codings := make([]keyed, 0, len(keys))
	for _, key := range keys {
		coding, err := graph.ParseCoding(key, s.n)
		if err != nil {
			return fmt.Errorf("insert key %q: %w", key, err)
		}
		codings = append(codings, keyed{key: key, coding: coding})
	}
	_, err := s.insertCodings(ctx, codings)
	return err
}

// keyed pairs a coding with the exact key text stored for it.
type keyed struct {
	key    string
	coding graph.Coding
}

func (s *Store) insertCodings(ctx context.Context, codings []keyed) (int, error) {
	added := 0
	err := retryOnBusy(ctx, func() error {
		added = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin seed tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		graphs, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO graphs (key, parts) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("prepare graphs insert: %w", err)
		}
		defer graphs.Close()
		timings, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO timings (key) VALUES (?)")
		if err != nil {
			return fmt.Errorf("prepare timings insert: %w", err)
		}
		defer timings.Close()

		for _, item := range codings {
			key := item.key
			res, err := graphs.ExecContext(ctx, key, item.coding.PartsString())
			if err != nil {
				return fmt.Errorf("insert graph %s: %w", key, err)
			}
			added += int(rowsAffected(res))
			if _, err := timings.ExecContext(ctx, key); err != nil {
				return fmt.Errorf("insert timings %s: %w", key, err)
			}
		}
		return tx.Commit()
	})
	return added, err
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
