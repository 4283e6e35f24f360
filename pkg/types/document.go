package types

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMissingCreatedAt is returned when document metadata is constructed or
// decoded without a creation instant.
var ErrMissingCreatedAt = errors.New("document metadata requires created_at")

// metadata keys used when crossing the vector-store boundary.
const (
	metaKeyCreatedAt      = "created_at"
	metaKeySourceType     = "source_type"
	metaKeyExtractedIndex = "extracted_index"
	metaKeyOriginalPrompt = "original_prompt"
)

// DocumentMetadata is the typed metadata attached to every semantic document.
// CreatedAt is mandatory and enforced at construction; everything else is
// optional. Extra carries deployment-specific keys without widening the schema.
type DocumentMetadata struct {
	CreatedAt      time.Time         `json:"created_at"`
	SourceType     string            `json:"source_type,omitempty"`
	ExtractedIndex int               `json:"extracted_index,omitempty"`
	OriginalPrompt string            `json:"original_prompt,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// NewDocumentMetadata builds metadata with the required creation instant.
func NewDocumentMetadata(createdAt time.Time) (DocumentMetadata, error) {
	if createdAt.IsZero() {
		return DocumentMetadata{}, ErrMissingCreatedAt
	}
	return DocumentMetadata{CreatedAt: createdAt}, nil
}

// Validate checks the invariants that must hold before a document is stored.
func (m DocumentMetadata) Validate() error {
	if m.CreatedAt.IsZero() {
		return ErrMissingCreatedAt
	}
	return nil
}

// ToMap flattens the metadata into the string map shape vector stores persist.
// CreatedAt is rendered as RFC 3339 so ages can be recomputed on read.
func (m DocumentMetadata) ToMap() map[string]string {
	out := make(map[string]string, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[metaKeyCreatedAt] = m.CreatedAt.Format(time.RFC3339)
	if m.SourceType != "" {
		out[metaKeySourceType] = m.SourceType
	}
	if m.ExtractedIndex > 0 || m.SourceType != "" {
		out[metaKeyExtractedIndex] = strconv.Itoa(m.ExtractedIndex)
	}
	if m.OriginalPrompt != "" {
		out[metaKeyOriginalPrompt] = m.OriginalPrompt
	}
	return out
}

// MetadataFromMap reconstructs typed metadata from the persisted map form.
// Returns ErrMissingCreatedAt when the map has no parseable creation instant.
func MetadataFromMap(raw map[string]string) (DocumentMetadata, error) {
	var meta DocumentMetadata

	created, ok := raw[metaKeyCreatedAt]
	if !ok {
		return meta, ErrMissingCreatedAt
	}
	ts, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return meta, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	meta.CreatedAt = ts

	meta.SourceType = raw[metaKeySourceType]
	meta.OriginalPrompt = raw[metaKeyOriginalPrompt]
	if idx, ok := raw[metaKeyExtractedIndex]; ok {
		if n, err := strconv.Atoi(idx); err == nil {
			meta.ExtractedIndex = n
		}
	}

	for k, v := range raw {
		switch k {
		case metaKeyCreatedAt, metaKeySourceType, metaKeyExtractedIndex, metaKeyOriginalPrompt:
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]string)
			}
			meta.Extra[k] = v
		}
	}
	return meta, nil
}

// SemanticDocument is a standalone fact held in the semantic store.
// Documents are paraphrased excerpts, never references into the conversation
// log, so the two stores stay decoupled.
type SemanticDocument struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Embedding []float32        `json:"embedding,omitempty"`
	Metadata  DocumentMetadata `json:"metadata"`
}
