package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxgate/voxgate/pkg/docstore"
	"github.com/voxgate/voxgate/pkg/provider/embeddings"
	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// Compile-time interface check.
var _ Streamer = (*Document)(nil)

const documentGroundingPrompt = `You answer questions using only the document
passages provided below. If the passages do not contain the answer, say so
plainly instead of guessing. Your replies are spoken aloud, so answer in
natural conversational sentences without markdown or lists.`

// Document is the retrieval-grounded backend: it embeds the utterance,
// pulls the closest passages from the index and answers from those alone.
type Document struct {
	provider    llm.Provider
	embedder    embeddings.Provider
	index       docstore.Index
	topK        int
	temperature float64
	maxTokens   int
}

// DocumentOption configures a Document backend.
type DocumentOption func(*Document)

// WithTopK sets how many passages are retrieved per query.
func WithTopK(k int) DocumentOption {
	return func(d *Document) { d.topK = k }
}

// WithDocumentMaxTokens caps the reply length in tokens.
func WithDocumentMaxTokens(n int) DocumentOption {
	return func(d *Document) { d.maxTokens = n }
}

// NewDocument creates the document-grounded backend.
func NewDocument(provider llm.Provider, embedder embeddings.Provider, index docstore.Index, opts ...DocumentOption) *Document {
	d := &Document{
		provider:    provider,
		embedder:    embedder,
		index:       index,
		topK:        5,
		temperature: 0.3,
		maxTokens:   512,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StreamTokens implements [Streamer].
func (d *Document) StreamTokens(ctx context.Context, q Query) (Stream, error) {
	vec, err := d.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("document backend: embed query: %w", err)
	}

	filter := q.Document
	if filter == "all" {
		filter = ""
	}
	hits, err := d.index.Search(ctx, vec, d.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("document backend: search passages: %w", err)
	}

	req := llm.CompletionRequest{
		Messages:     chatMessages(q),
		Temperature:  d.temperature,
		MaxTokens:    d.maxTokens,
		SystemPrompt: systemPrompt(groundedPrompt(hits), q.Variables),
	}
	chunks, err := d.provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("document backend: start stream: %w", err)
	}
	return adaptChunks(ctx, chunks), nil
}

// groundedPrompt renders the retrieval hits under the grounding instruction.
// Passages arrive ordered by ascending distance and are numbered so the
// model can lean on the closest ones first.
func groundedPrompt(hits []docstore.PassageResult) string {
	var b strings.Builder
	b.WriteString(documentGroundingPrompt)
	if len(hits) == 0 {
		b.WriteString("\n\nNo passages matched the question.")
		return b.String()
	}
	b.WriteString("\n\nPassages:")
	for i, hit := range hits {
		fmt.Fprintf(&b, "\n[%d] (%s) %s", i+1, hit.Passage.Document, hit.Passage.Content)
	}
	return b.String()
}
