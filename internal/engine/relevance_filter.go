package engine

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// RelevanceFilter re-ranks the temporal window by semantic similarity to
// the query. A temporal window can be wide ("last week"); this compresses
// it to what is actually on-topic before it consumes prompt budget.
type RelevanceFilter struct {
	embedder llm.EmbeddingGenerator
	floor    float64
}

// NewRelevanceFilter creates a filter with the given similarity floor.
// The floor is a tunable, not a constant; deployments adjust it between
// lenient (0.2) and strict (0.6).
func NewRelevanceFilter(embedder llm.EmbeddingGenerator, floor float64) *RelevanceFilter {
	return &RelevanceFilter{embedder: embedder, floor: floor}
}

// Filter keeps the candidate rows whose content meets the similarity floor
// against the query, ordered by similarity descending with earlier
// timestamps first on ties. Rows without content cannot be scored and are
// dropped; any failure degrades to an empty result, never an error.
func (f *RelevanceFilter) Filter(ctx context.Context, query string, candidates []storage.RowMap) []types.RetrievalMatch {
	if query == "" || len(candidates) == 0 {
		return nil
	}

	queryVec, err := f.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("engine: relevance filter query embedding failed: %v", err)
		return nil
	}

	type scored struct {
		match types.RetrievalMatch
		order string
	}

	var survivors []scored
	for _, row := range candidates {
		content, _ := row["content"].(string)
		if content == "" {
			continue
		}

		vec, err := f.embedder.Embed(ctx, content)
		if err != nil {
			log.Printf("engine: relevance filter candidate embedding failed: %v", err)
			continue
		}

		similarity := cosineSimilarity(queryVec, vec)
		if similarity < f.floor {
			continue
		}

		dt, _ := row["datetime"].(string)
		survivors = append(survivors, scored{
			match: types.RetrievalMatch{
				Text:       content,
				Metadata:   map[string]any(row),
				Similarity: similarity,
				Source:     types.SourceTemporal,
			},
			order: dt,
		})
	}

	// Similarity descending; ties fall back to chronological order so the
	// result stays stable. The rendered RFC 3339 instant sorts naturally.
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].match.Similarity != survivors[j].match.Similarity {
			return survivors[i].match.Similarity > survivors[j].match.Similarity
		}
		return survivors[i].order < survivors[j].order
	})

	matches := make([]types.RetrievalMatch, len(survivors))
	for i, s := range survivors {
		matches[i] = s.match
	}
	return matches
}

// cosineSimilarity computes the cosine of the angle between two vectors,
// or 0 when either has no magnitude or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
