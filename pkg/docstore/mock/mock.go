// Package mock provides a test double for the docstore.Index interface.
//
// Use Index to return controlled passages to consumers and to verify the
// queries the reasoning layer issues against the document store.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/docstore"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Embedding is the query vector passed to Search.
	Embedding []float32
	// TopK is the result limit passed to Search.
	TopK int
	// Document is the document filter passed to Search ("" = all documents).
	Document string
}

// UpsertCall records a single invocation of Upsert.
type UpsertCall struct {
	// Passage is the passage passed to Upsert.
	Passage docstore.Passage
}

// Index is a mock implementation of docstore.Index.
type Index struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SearchResults is returned by every Search call.
	SearchResults []docstore.PassageResult

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// UpsertErr, if non-nil, is returned as the error from Upsert.
	UpsertErr error

	// Documents is returned by ListDocuments.
	Documents []string

	// ListDocumentsErr, if non-nil, is returned as the error from ListDocuments.
	ListDocumentsErr error

	// --- Call records ---

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall

	// UpsertCalls records every call to Upsert in order.
	UpsertCalls []UpsertCall

	// ListDocumentsCallCount is the number of ListDocuments calls.
	ListDocumentsCallCount int
}

// Upsert records the call and returns UpsertErr.
func (m *Index) Upsert(_ context.Context, p docstore.Passage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertCall{Passage: p})
	return m.UpsertErr
}

// Search records the call and returns SearchResults, SearchErr.
func (m *Index) Search(_ context.Context, embedding []float32, topK int, document string) ([]docstore.PassageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	m.SearchCalls = append(m.SearchCalls, SearchCall{Embedding: cp, TopK: topK, Document: document})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.SearchResults, nil
}

// ListDocuments records the call and returns Documents, ListDocumentsErr.
func (m *Index) ListDocuments(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListDocumentsCallCount++
	if m.ListDocumentsErr != nil {
		return nil, m.ListDocumentsErr
	}
	return m.Documents, nil
}

// Reset clears all recorded calls. Thread-safe.
func (m *Index) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = nil
	m.UpsertCalls = nil
	m.ListDocumentsCallCount = 0
}

// Ensure Index implements docstore.Index at compile time.
var _ docstore.Index = (*Index)(nil)
