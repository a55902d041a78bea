// Package embeddings is the contract for text-to-vector backends. The
// document store embeds passages at ingest time and queries at retrieval
// time through the same Provider, so hosted (OpenAI) and local (Ollama)
// models are interchangeable per deployment.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector from one Provider instance has the same length, reported by
// Dimensions. Vectors from different instances only compare meaningfully
// when both use the same model.
type Provider interface {
	// Embed returns the vector for one text, of length Dimensions().
	// Task prefixes some models want ("search_query: ") are the caller's
	// job; the text passes through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one provider call; result[i] corresponds
	// to texts[i]. On error the whole result is nil, never partial.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length for this provider's model.
	Dimensions() int

	// ModelID names the underlying model ("text-embedding-3-small"),
	// mainly for logging and index-compatibility checks.
	ModelID() string
}
