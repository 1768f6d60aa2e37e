// Package workflow drives strategies and their stages against the graph
// store.
//
// RunStage selects the pending keys of one stage, sizes chunks with the
// estimator, and runs a single-goroutine driver loop over a worker pool:
// each tick it refreshes telemetry, tops up the pool in whole batches,
// collects finished chunks into the commit cache, and flushes the cache when
// it is due. Nothing is written outside a flush, so a crash or an interrupt
// leaves uncommitted keys pending for the next run.
//
// RunStrategy runs the stages of a strategy in order, mirrors the run into a
// per-run log file, and appends a summary to the run history next to the
// database.
package workflow
