// Package estimate sizes work chunks from a per-stage timing model so each
// chunk takes roughly the configured wall time while every worker still
// receives several chunks.
package estimate

import "math"

// Model predicts seconds per item as A·exp(B·n).
type Model struct {
	A float64
	B float64
}

// SecondsPerItem evaluates the model for instance size n.
func (m Model) SecondsPerItem(n int) float64 {
	return m.A * math.Exp(m.B*float64(n))
}

// Input describes one stage dispatch.
type Input struct {
	N                  int
	TotalPending       int
	Workers            int
	TargetChunkSeconds float64
	MinChunksPerWorker int
	MaxChunkSize       int
}

// ChunkSize returns the number of keys per chunk. The result is always in
// [1, MaxChunkSize] (or at least 1 when MaxChunkSize is unset).
func ChunkSize(in Input, model Model) int {
	maxSize := in.MaxChunkSize
	if maxSize < 1 {
		maxSize = math.MaxInt32
	}

	size := maxSize
	perItem := model.SecondsPerItem(in.N)
	if perItem > 0 && !math.IsInf(perItem, 0) && !math.IsNaN(perItem) && in.TargetChunkSeconds > 0 {
		ideal := math.Ceil(in.TargetChunkSeconds / perItem)
		if ideal < float64(maxSize) {
			size = int(ideal)
		}
	}

	if in.TotalPending > 0 && in.Workers > 0 {
		minChunks := in.Workers * max(in.MinChunksPerWorker, 1)
		size = min(size, in.TotalPending/minChunks)
	}
	return max(size, 1)
}
