package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	embedder := NewHashEmbedder(64)
	vectors, err := embedder.Embed(context.Background(), []string{"Bad Boy Records 1993", "bad boy records 1993"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 64 {
		t.Fatalf("Embed() shape = %d x %d", len(vectors), len(vectors[0]))
	}
	if d := CosineDistance(vectors[0], vectors[1]); d > 1e-6 {
		t.Fatalf("case-insensitive distance = %f, want 0", d)
	}
	var norm float64
	for _, x := range vectors[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("norm^2 = %f, want 1", norm)
	}
}

func TestHashEmbedderRanksOverlapCloser(t *testing.T) {
	embedder := NewHashEmbedder(256)
	ctx := context.Background()
	query, err := EmbedOne(ctx, embedder, "notorious big signed bad boy")
	if err != nil {
		t.Fatalf("EmbedOne() error = %v", err)
	}
	near, _ := EmbedOne(ctx, embedder, "('The Notorious B.I.G', 'Bad Boy', 1993)")
	far, _ := EmbedOne(ctx, embedder, "('Olympic', 'Gold', 12)")
	if CosineDistance(query, near) >= CosineDistance(query, far) {
		t.Fatalf("near distance %f >= far distance %f", CosineDistance(query, near), CosineDistance(query, far))
	}
}

func TestCosineDistanceEdgeCases(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); d != 0 {
		t.Fatalf("identical distance = %f", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); d != 2 {
		t.Fatalf("opposite distance = %f", d)
	}
	if d := CosineDistance([]float32{1}, []float32{1, 0}); d != 2 {
		t.Fatalf("mismatched distance = %f", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 0}); d != 2 {
		t.Fatalf("zero vector distance = %f", d)
	}
	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("Normalize(zero) = %v", zero)
	}
}

func TestOpenAIEmbedderBatchesAndOrders(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			Model      string   `json:"model"`
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Dimensions != 2 {
			t.Errorf("dimensions = %d", req.Dimensions)
		}
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		// Reverse order to prove results are re-sorted by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Dimension: 2, BatchSize: 2})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder() error = %v", err)
	}
	vectors, err := embedder.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	for i, want := range []float32{1, 2, 3} {
		if vectors[i][0] != want {
			t.Fatalf("vectors[%d][0] = %f, want %f", i, vectors[i][0], want)
		}
	}
	if embedder.Name() != "openai:text-embedding-3-small" {
		t.Fatalf("Name() = %q", embedder.Name())
	}
}

func TestOpenAIEmbedderWrapsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder() error = %v", err)
	}
	if _, err := embedder.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error for 401")
	}
	if _, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
