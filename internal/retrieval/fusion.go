package retrieval

import (
	imodel "github.com/moduly/engine/internal/model"
	"github.com/moduly/engine/internal/store"
)

// rrfFuse combines dense and sparse result lists via Reciprocal Rank
// Fusion: score += 1/(k+rank+1) for each list a chunk appears in, matching
// the original's _rrf_fusion exactly (including the +1 so the top rank
// never divides by exactly k).
func rrfFuse(dense []store.ScoredChunk, sparse []imodel.DocumentChunk, k int) []candidate {
	if k <= 0 {
		k = 60
	}
	fused := make(map[string]*candidate)

	for rank, sc := range dense {
		c, ok := fused[sc.Chunk.ID]
		if !ok {
			c = &candidate{chunk: sc.Chunk}
			fused[sc.Chunk.ID] = c
		}
		c.score += 1.0 / float64(k+rank+1)
	}
	for rank, chunk := range sparse {
		c, ok := fused[chunk.ID]
		if !ok {
			c = &candidate{chunk: chunk}
			fused[chunk.ID] = c
		}
		c.score += 1.0 / float64(k+rank+1)
	}

	out := make([]candidate, 0, len(fused))
	for _, c := range fused {
		out = append(out, *c)
	}
	return out
}
