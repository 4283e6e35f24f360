package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khangdo/janus/pkg/types"
)

// identityEmbedder returns a fixed three-dimensional vector per text so the
// integration test does not need a model endpoint.
type identityEmbedder struct {
	vectors map[string][]float32
}

func (e *identityEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (e *identityEmbedder) GetModel() string { return "identity" }

// newIntegrationStore connects to the Postgres instance named by
// JANUS_TEST_POSTGRES_DSN, skipping the test when none is configured.
func newIntegrationStore(t *testing.T) *SemanticStore {
	t.Helper()

	dsn := os.Getenv("JANUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JANUS_TEST_POSTGRES_DSN not set; skipping Postgres integration test")
	}

	embedder := &identityEmbedder{vectors: map[string][]float32{
		"near": {1, 0, 0},
		"far":  {0, 1, 0},
	}}
	store, err := NewSemanticStore(Config{DSN: dsn, Dimension: 3}, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSemanticStore_AddSearchDelete(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	meta, err := types.NewDocumentMetadata(time.Now().UTC())
	require.NoError(t, err)

	nearID, err := store.Add(ctx, "near", meta)
	require.NoError(t, err)
	farID, err := store.Add(ctx, "far", meta)
	require.NoError(t, err)

	matches, err := store.Search(ctx, "near", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].Text)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)

	require.NoError(t, store.Delete(ctx, nearID))
	require.NoError(t, store.Delete(ctx, farID))
}

func TestSemanticStore_AddRequiresCreatedAt(t *testing.T) {
	store := newIntegrationStore(t)
	_, err := store.Add(context.Background(), "fact", types.DocumentMetadata{})
	assert.Error(t, err)
}
