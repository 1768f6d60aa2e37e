package commit

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"cloven/internal/calc"
	"cloven/internal/logging"
	"cloven/internal/store"
)

// Mode is how a table receives flushed rows.
type Mode int

const (
	// Update overwrites fields of rows that already exist.
	Update Mode = iota
	// Insert adds rows keyed by the graph key, replacing earlier ones.
	Insert
)

// Tables maps every destination table to its write mode.
var Tables = map[string]Mode{
	calc.TableGraphs:  Update,
	calc.TableTimings: Update,
	calc.TableGapInfo: Insert,
}

// flushOrder writes graphs before the tables that reference it.
var flushOrder = []string{calc.TableGraphs, calc.TableTimings, calc.TableGapInfo}

// Writer is the part of the store a cache flushes into.
type Writer interface {
	Write(ctx context.Context, fn func(store.BulkWriter) error) error
}

// Options configures a cache.
type Options struct {
	// Interval bounds how long a result may wait before Due reports true.
	Interval time.Duration
	// MaxSize makes Due report true once this many results are buffered.
	MaxSize int
	Logger  *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	key    string
	result calc.Result
}

// Cache buffers results that are not yet durable. Flush writes them all in
// one transaction and empties the cache only when that transaction commits.
type Cache struct {
	writer  Writer
	opts    Options
	logger  *slog.Logger
	entries []entry
	oldest  time.Time
}

// New builds an empty cache flushing into w.
func New(w Writer, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{writer: w, opts: opts, logger: logging.NewComponentLogger(logger, "commit")}
}

// Add buffers the result computed for key.
func (c *Cache) Add(key string, result calc.Result) {
	if len(c.entries) == 0 {
		c.oldest = c.opts.Now()
	}
	c.entries = append(c.entries, entry{key: key, result: result})
}

// Len returns the number of buffered results.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Oldest returns when the oldest buffered result was added, or the zero
// time when the cache is empty.
func (c *Cache) Oldest() time.Time {
	if len(c.entries) == 0 {
		return time.Time{}
	}
	return c.oldest
}

// Due reports whether the cache should be flushed at now.
func (c *Cache) Due(now time.Time) bool {
	if len(c.entries) == 0 {
		return false
	}
	if c.opts.MaxSize > 0 && len(c.entries) >= c.opts.MaxSize {
		return true
	}
	return now.Sub(c.oldest) >= c.opts.Interval
}

// Flush writes every buffered result, one bulk write per table inside a
// single transaction, and returns how many keys were committed. On error
// nothing is written and the cache is kept for the next attempt.
func (c *Cache) Flush(ctx context.Context) (int, error) {
	if len(c.entries) == 0 {
		return 0, nil
	}
	grouped := make(map[string][]store.Row)
	for _, e := range c.entries {
		for table, fields := range e.result {
			if _, ok := Tables[table]; !ok {
				return 0, fmt.Errorf("flush: result for %s targets unknown table %q", e.key, table)
			}
			grouped[table] = append(grouped[table], store.Row{Key: e.key, Fields: fields})
		}
	}

	start := c.opts.Now()
	err := c.writer.Write(ctx, func(w store.BulkWriter) error {
		for _, table := range flushOrder {
			rows := grouped[table]
			if len(rows) == 0 {
				continue
			}
			var err error
			switch Tables[table] {
			case Update:
				err = w.BulkUpdateByKey(ctx, table, rows)
			case Insert:
				err = w.BulkInsert(ctx, table, rows)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("flush %d results: %w", len(c.entries), err)
	}

	count := len(c.entries)
	c.logger.Debug("results committed",
		logging.Int("results", count),
		logging.Any("tables", slices.Sorted(maps.Keys(grouped))),
		logging.Duration("elapsed", c.opts.Now().Sub(start)),
	)
	c.entries = nil
	c.oldest = time.Time{}
	return count, nil
}
