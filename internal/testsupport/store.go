package testsupport

import (
	"context"
	"testing"

	"cloven/internal/config"
	"cloven/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustSeed opens a store and fills it with the configured generator's keys.
func MustSeed(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st := MustOpenStore(t, cfg)
	if _, err := st.Seed(context.Background(), cfg.Instance.Generator, cfg.Instance.N, cfg.Instance.K); err != nil {
		t.Fatalf("store.Seed: %v", err)
	}
	return st
}

// MustInsertKeys adds raw keys to the graphs table, bypassing the generator.
func MustInsertKeys(t testing.TB, st *store.Store, keys ...string) {
	t.Helper()

	if err := st.InsertKeys(context.Background(), keys); err != nil {
		t.Fatalf("store.InsertKeys: %v", err)
	}
}
