// Package docstore defines the Index interface for document passage storage
// and retrieval.
//
// Documents are ingested as pre-embedded passages; the index answers
// nearest-neighbour queries over their embeddings so the reasoning layer can
// ground answers in document content. Implementations must be safe for
// concurrent use.
package docstore

import (
	"context"
	"time"
)

// Passage is a chunk of a source document together with its embedding vector.
type Passage struct {
	// ID uniquely identifies the passage.
	ID string

	// Document is the name of the source document the passage belongs to.
	Document string

	// Content is the passage text.
	Content string

	// Embedding is the passage's embedding vector. Its dimensionality must
	// match the index configuration.
	Embedding []float32

	// Position is the passage's ordinal within the source document.
	Position int

	// CreatedAt is when the passage was ingested.
	CreatedAt time.Time
}

// PassageResult is a search hit: a passage plus its distance from the query.
type PassageResult struct {
	Passage Passage

	// Distance is the cosine distance between the query embedding and the
	// passage embedding. Lower is more similar.
	Distance float64
}

// Index is the abstraction over any passage store.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts the passage or fully replaces an existing passage with
	// the same ID.
	Upsert(ctx context.Context, p Passage) error

	// Search returns the topK passages closest to the query embedding,
	// ordered by ascending distance. When document is non-empty only passages
	// from that document are considered.
	Search(ctx context.Context, embedding []float32, topK int, document string) ([]PassageResult, error)

	// ListDocuments returns the distinct document names present in the index,
	// sorted alphabetically.
	ListDocuments(ctx context.Context) ([]string, error)
}
