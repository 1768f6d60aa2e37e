// Package ipc defines the wire protocol between the coordinator and its
// worker processes.
//
// Messages are JSON objects, one per line, carried over the worker's stdin
// and stdout. The coordinator sends a hello carrying the spawn spec, then
// chunks, then a stop. The worker answers with ready once its calculator is
// initialized and one result per chunk. Numbers inside results are decoded
// without precision loss and normalized to int64 or float64.
//
// Reuse these types when adding message kinds so both ends stay in lockstep.
package ipc
