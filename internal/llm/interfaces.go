package llm

import "context"

// TextGenerator is the interface for LLM text completion. All pipeline
// prompts use single-string completion style (not chat): the caller builds
// the full prompt, including any context sections, before the call.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
