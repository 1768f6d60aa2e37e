// Package commit buffers stage results in memory and flushes them to the
// store in atomic batches.
package commit
