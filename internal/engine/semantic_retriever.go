package engine

import (
	"context"
	"log"

	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// SemanticRetriever queries the semantic store for the top-K matches above
// a similarity floor. Tie order among equal similarities is index-dependent
// and deliberately unspecified.
type SemanticRetriever struct {
	store storage.SemanticStore
	floor float64
}

// NewSemanticRetriever creates a retriever with the given similarity floor.
func NewSemanticRetriever(store storage.SemanticStore, floor float64) *SemanticRetriever {
	return &SemanticRetriever{store: store, floor: floor}
}

// Retrieve returns at most k matches with similarity at or above the
// floor, most similar first. Store and index failures degrade to an empty
// result; the request path never sees them.
func (r *SemanticRetriever) Retrieve(ctx context.Context, query string, k int) []types.RetrievalMatch {
	if query == "" || k <= 0 {
		return nil
	}

	matches, err := r.store.Search(ctx, query, k)
	if err != nil {
		log.Printf("engine: semantic retrieval failed: %v", err)
		return nil
	}

	kept := matches[:0]
	for _, match := range matches {
		if match.Similarity >= r.floor {
			kept = append(kept, match)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
