// Package store persists graphs and their computed properties in SQLite.
//
// One database holds one instance (n, k, weights, generator). The graphs
// table is seeded once with every coding and then only ever updated by key;
// timings mirrors it with per-stage CPU time, and gap_info receives inserted
// solver diagnostics. Stages select their working set with pipeline
// selections, which the store turns into SQL after checking every field
// against a column whitelist.
//
// All writes issued by one Write call commit atomically. Writes that keep
// hitting SQLITE_BUSY after the retry budget surface as ErrTransient so the
// caller can keep its buffered results and try again. Schema changes bump
// schemaVersion in schema.go; older databases are rejected with
// ErrSchemaMismatch.
package store
