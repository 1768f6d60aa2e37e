// Package pool runs one stage's calculator across a fixed set of worker
// processes.
//
// The coordinator owns every pool method; per-worker goroutines only move
// protocol messages between the pipes and the pool's queues. Each slot holds
// at most one chunk, so a worker death returns exactly that chunk to the
// queue. Replacements start after a per-slot exponential backoff, and chunks
// that keep killing workers are split and finally quarantined so healthy keys
// still complete.
package pool
