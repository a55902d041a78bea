package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxgate/voxgate/pkg/provider/embeddings/openai"
)

type embeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// embeddingsServer answers POST /embeddings with the given items, in the
// order given. Items carry their own index so tests can return them shuffled.
func embeddingsServer(t *testing.T, items []embeddingItem) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   items,
			"model":  "text-embedding-3-small",
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func newTestProvider(t *testing.T, baseURL string) *openai.Provider {
	t.Helper()
	p, err := openai.New("sk-test", "text-embedding-3-small", openai.WithBaseURL(baseURL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", "text-embedding-3-small"); err == nil {
		t.Fatal("empty API key accepted")
	}
}

func TestNew_EmptyModelUsesDefault(t *testing.T) {
	t.Parallel()
	p, err := openai.New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.ModelID(); got != openai.DefaultModel {
		t.Errorf("ModelID() = %q, want %q", got, openai.DefaultModel)
	}
}

func TestNew_AcceptsOptions(t *testing.T) {
	t.Parallel()
	_, err := openai.New("sk-test", "text-embedding-3-small",
		openai.WithBaseURL("https://proxy.internal/v1/"),
		openai.WithOrganization("org-voxgate"),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestEmbed_ReturnsVector(t *testing.T) {
	t.Parallel()
	srv := embeddingsServer(t, []embeddingItem{
		{Object: "embedding", Index: 0, Embedding: []float64{0.25, -0.5, 1.0}},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	got, err := p.Embed(context.Background(), "search_query: opening hours")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.25, -0.5, 1.0}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbedBatch_OrdersByResponseIndex(t *testing.T) {
	t.Parallel()
	// The API may return embeddings in any order; the index field is
	// authoritative.
	srv := embeddingsServer(t, []embeddingItem{
		{Object: "embedding", Index: 1, Embedding: []float64{0.2}},
		{Object: "embedding", Index: 0, Embedding: []float64{0.1}},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	got, err := p.EmbedBatch(context.Background(), []string{
		"search_document: menu",
		"search_document: hours",
	})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("batch length = %d, want 2", len(got))
	}
	if got[0][0] != 0.1 || got[1][0] != 0.2 {
		t.Errorf("batch not reordered by index: %v", got)
	}
}

func TestEmbedBatch_CountMismatchFails(t *testing.T) {
	t.Parallel()
	srv := embeddingsServer(t, []embeddingItem{
		{Object: "embedding", Index: 0, Embedding: []float64{0.1}},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, err := p.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("short response accepted")
	}
}

func TestEmbedBatch_EmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()
	p, err := openai.New("sk-test", "text-embedding-3-small",
		openai.WithBaseURL("http://127.0.0.1:19999/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestDimensions_KnownModels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := openai.New("sk-test", tt.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestModelID_ReturnsConfiguredModel(t *testing.T) {
	t.Parallel()
	p, err := openai.New("sk-test", "my-custom-embeddings-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.ModelID(); got != "my-custom-embeddings-model" {
		t.Errorf("ModelID() = %q", got)
	}
}
