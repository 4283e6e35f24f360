// Package chromem implements the semantic store on chromem-go, a pure Go
// embedded vector database with cosine similarity search.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// Ensure *SemanticStore implements storage.SemanticStore at compile time.
var _ storage.SemanticStore = (*SemanticStore)(nil)

// SemanticStore stores semantic documents in a chromem-go collection.
// The collection is created lazily on first use; the embedded index is
// safe for concurrent reads with serialized writes, so the store adds no
// locking of its own.
type SemanticStore struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
	embedder   llm.EmbeddingGenerator
}

// Config holds chromem store configuration.
type Config struct {
	// Path is the directory for the persistent database. Empty means an
	// in-memory database (used in tests).
	Path string

	// Collection is the collection name (default: semantic_memory).
	Collection string
}

// NewSemanticStore opens (creating if necessary) a chromem-backed semantic
// store. Embeddings are produced by the given generator; chromem never
// calls out to a model on its own.
func NewSemanticStore(cfg Config, embedder llm.EmbeddingGenerator) (*SemanticStore, error) {
	if embedder == nil {
		return nil, errors.New("chromem: embedding generator is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "semantic_memory"
	}

	var (
		db  *chromemgo.DB
		err error
	)
	if cfg.Path == "" {
		db = chromemgo.NewDB()
	} else {
		db, err = chromemgo.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: failed to open database at %s: %w", cfg.Path, err)
		}
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to open collection %s: %w", cfg.Collection, err)
	}

	return &SemanticStore{db: db, collection: collection, embedder: embedder}, nil
}

// Add embeds and stores a document, returning its generated id.
func (s *SemanticStore) Add(ctx context.Context, text string, metadata types.DocumentMetadata) (string, error) {
	if err := metadata.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("chromem: failed to embed document: %w", err)
	}

	id := uuid.NewString()
	doc := chromemgo.Document{
		ID:        id,
		Content:   text,
		Embedding: embedding,
		Metadata:  metadata.ToMap(),
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("chromem: failed to add document: %w", err)
	}
	return id, nil
}

// Search returns up to k nearest documents to the query, most similar
// first. chromem reports cosine similarity directly, which equals
// 1 - cosine distance.
func (s *SemanticStore) Search(ctx context.Context, query string, k int) ([]types.RetrievalMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection size.
	if count := s.collection.Count(); count < k {
		if count == 0 {
			return nil, nil
		}
		k = count
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to embed query: %w", err)
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query failed: %w", err)
	}

	matches := make([]types.RetrievalMatch, 0, len(results))
	for _, result := range results {
		matches = append(matches, types.RetrievalMatch{
			Text:       result.Content,
			Metadata:   metadataToAny(result.Metadata),
			Similarity: float64(result.Similarity),
			Source:     types.SourceSemantic,
		})
	}
	return matches, nil
}

// Update replaces a document's text and metadata, re-embedding the text.
// chromem has no in-place update, so this is a delete followed by an add
// under the same id.
func (s *SemanticStore) Update(ctx context.Context, id string, text string, metadata types.DocumentMetadata) error {
	if err := metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}

	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		log.Printf("chromem: delete before update for %s: %v", id, err)
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("chromem: failed to embed document: %w", err)
	}

	doc := chromemgo.Document{
		ID:        id,
		Content:   text,
		Embedding: embedding,
		Metadata:  metadata.ToMap(),
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: failed to update document: %w", err)
	}
	return nil
}

// Delete removes a document by id.
func (s *SemanticStore) Delete(ctx context.Context, id string) error {
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: failed to delete document %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *SemanticStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close releases resources. chromem keeps its state in memory (and on disk
// for persistent databases), so there is nothing to tear down.
func (s *SemanticStore) Close() error {
	return nil
}

func metadataToAny(meta map[string]string) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
