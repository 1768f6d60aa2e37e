package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"cloven/internal/config"
)

// Store persists graphs and their computed properties in SQLite.
type Store struct {
	db   *sql.DB
	path string
	n    int
	lock *flock.Flock
}

var (
	// ErrTransient marks a write that failed because the database stayed
	// busy through every retry. The caller may try again later.
	ErrTransient = errors.New("database busy")
	// ErrLocked is returned by OpenExclusive when another process holds the
	// database lock.
	ErrLocked = errors.New("database locked by another cloven process")
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	if isSQLiteBusy(lastErr) {
		return fmt.Errorf("%w: %w", ErrTransient, lastErr)
	}
	return lastErr
}

// Open initializes or connects to the database of the configured instance.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath, n: cfg.Instance.N}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// OpenExclusive opens the store and takes the single-coordinator lock on
// <db>.lock. Runs, seeding and resets go through it; read-only commands use
// Open.
func OpenExclusive(cfg *config.Config) (*Store, error) {
	store, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	lock := flock.New(store.path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		_ = store.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}
	store.lock = lock
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the lock, if held, and closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var lockErr error
	if s.lock != nil {
		lockErr = s.lock.Unlock()
		s.lock = nil
	}
	return errors.Join(s.db.Close(), lockErr)
}
