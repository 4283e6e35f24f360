// Package postgres implements the semantic store on PostgreSQL with the
// pgvector extension. It is the deployment alternative to the embedded
// chromem backend for installations that already run Postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/pkg/types"
)

// Ensure *SemanticStore implements storage.SemanticStore at compile time.
var _ storage.SemanticStore = (*SemanticStore)(nil)

// SemanticStore stores semantic documents in a Postgres table with a
// pgvector embedding column. Cosine distance (the <=> operator) drives
// similarity search; similarity is 1 - distance.
type SemanticStore struct {
	db       *sql.DB
	embedder llm.EmbeddingGenerator
	dim      int
}

// Config holds Postgres store configuration.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// Dimension is the embedding dimension the vector column is declared
	// with (default: 768, matching nomic-embed-text).
	Dimension int
}

// NewSemanticStore connects to Postgres and creates the documents table
// and vector index lazily if they do not exist. The pgvector extension
// must be installable by the connecting role.
func NewSemanticStore(cfg Config, embedder llm.EmbeddingGenerator) (*SemanticStore, error) {
	if embedder == nil {
		return nil, errors.New("postgres: embedding generator is required")
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping: %w", err)
	}

	store := &SemanticStore{db: db, embedder: embedder, dim: cfg.Dimension}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SemanticStore) ensureSchema() error {
	if _, err := s.db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("postgres: failed to enable pgvector: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS semantic_documents (
			id TEXT PRIMARY KEY,
			text_content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim)
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	// ivfflat needs data to build useful lists; creation is still cheap on
	// an empty table and avoids a migration step later.
	if _, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_semantic_documents_embedding
		ON semantic_documents USING ivfflat (embedding vector_cosine_ops)`); err != nil {
		return fmt.Errorf("postgres: failed to create vector index: %w", err)
	}
	return nil
}

// Add embeds and stores a document, returning its generated id.
func (s *SemanticStore) Add(ctx context.Context, text string, metadata types.DocumentMetadata) (string, error) {
	if err := metadata.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to embed document: %w", err)
	}

	metaJSON, err := json.Marshal(metadata.ToMap())
	if err != nil {
		return "", fmt.Errorf("postgres: failed to marshal metadata: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO semantic_documents (id, text_content, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, text, metaJSON, pgvector.NewVector(embedding), metadata.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to insert document: %w", err)
	}
	return id, nil
}

// Search returns up to k nearest documents under cosine distance, most
// similar first.
func (s *SemanticStore) Search(ctx context.Context, query string, k int) ([]types.RetrievalMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text_content, metadata, 1 - (embedding <=> $1) AS similarity
		 FROM semantic_documents
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: similarity query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []types.RetrievalMatch
	for rows.Next() {
		var (
			text       string
			metaJSON   []byte
			similarity float64
		)
		if err := rows.Scan(&text, &metaJSON, &similarity); err != nil {
			return nil, fmt.Errorf("postgres: similarity scan failed: %w", err)
		}

		var metadata map[string]any
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &metadata); err != nil {
				return nil, fmt.Errorf("postgres: failed to parse metadata: %w", err)
			}
		}

		matches = append(matches, types.RetrievalMatch{
			Text:       text,
			Metadata:   metadata,
			Similarity: similarity,
			Source:     types.SourceSemantic,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: similarity rows failed: %w", err)
	}
	return matches, nil
}

// Update replaces a document's text and metadata, re-embedding the text.
func (s *SemanticStore) Update(ctx context.Context, id string, text string, metadata types.DocumentMetadata) error {
	if err := metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("postgres: failed to embed document: %w", err)
	}

	metaJSON, err := json.Marshal(metadata.ToMap())
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE semantic_documents
		 SET text_content = $2, metadata = $3, embedding = $4
		 WHERE id = $1`,
		id, text, metaJSON, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("postgres: failed to update document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a document by id.
func (s *SemanticStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM semantic_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Count returns the number of stored documents.
func (s *SemanticStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: failed to count documents: %w", err)
	}
	return count, nil
}

// Close releases the database connection.
func (s *SemanticStore) Close() error {
	return s.db.Close()
}
