// Package storage defines the interfaces for the two memory stores backing
// the chat engine: the append-only conversation log and the similarity-
// searchable semantic store.
//
// The two stores are deliberately decoupled. They are never transactionally
// coupled, a turn may exist in one without a counterpart in the other, and
// semantic documents never reference conversation ids. Each interface is
// small enough to implement independently and compose as needed.
package storage

import (
	"context"
	"errors"

	"github.com/khangdo/janus/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidDocument is returned when a semantic document fails validation
// before storage (e.g. missing created_at metadata).
var ErrInvalidDocument = errors.New("invalid semantic document")

// RowMap is one raw row produced by executing a validated temporal predicate.
// Every row carries a rendered "datetime" string; "metadata", when present,
// is already parsed into a map.
type RowMap map[string]any

// ConversationLog is the append-only store of dialogue turns.
//
// Append failures are fatal to the enclosing request (the turn cannot be
// reconstructed). Read failures are a local concern: implementations log
// them and return an empty result rather than propagating the error.
type ConversationLog interface {
	// Append inserts a turn, assigning a monotonically increasing id and the
	// current timestamp. Metadata may be nil.
	Append(ctx context.Context, content string, role types.Role, metadata map[string]any) (int64, error)

	// Recent returns the n most recently appended turns in chronological
	// (oldest-first) order. When fewer than n exist, all are returned.
	Recent(ctx context.Context, n int) ([]types.ConversationTurn, error)

	// RecentExcluding behaves like Recent but omits the turn with the given
	// id. The chat engine uses it so the freshly appended query turn never
	// appears in its own prior history.
	RecentExcluding(ctx context.Context, n int, excludeID int64) ([]types.ConversationTurn, error)

	// Query executes an externally synthesized, already validated read
	// predicate and returns raw rows. The log trusts the caller: validation
	// happens before the predicate reaches this method.
	Query(ctx context.Context, predicate string) ([]RowMap, error)

	// All returns the full conversation in chronological order.
	All(ctx context.Context) ([]types.ConversationTurn, error)

	// Count returns the number of stored turns.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the log.
	Close() error
}

// SemanticStore is the content-addressed document store supporting
// nearest-neighbour similarity search over embedded text.
type SemanticStore interface {
	// Add embeds and stores a document, returning its assigned id.
	// Metadata must carry a creation instant (ErrInvalidDocument otherwise).
	Add(ctx context.Context, text string, metadata types.DocumentMetadata) (string, error)

	// Search returns up to k nearest documents to the query under cosine
	// similarity, most similar first. Similarity is 1 - distance, in [0,1].
	// No similarity floor is applied here; that is the retriever's policy.
	Search(ctx context.Context, query string, k int) ([]types.RetrievalMatch, error)

	// Update replaces a document's text and metadata, re-embedding the text.
	Update(ctx context.Context, id string, text string, metadata types.DocumentMetadata) error

	// Delete removes a document by id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
