package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/passagehq/passage/internal/errdefs"
)

func embeddingService(t *testing.T, handler http.HandlerFunc) *OpenAIEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 3, Timeout: 2 * time.Second})
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	e := embeddingService(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		resp := map[string]any{"data": []map[string]any{
			{"embedding": []float32{3, 4, 0}, "index": 0},
			{"embedding": []float32{0, 0, 2}, "index": 1},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	// Vectors must come back normalized.
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v * v)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("vector not normalized, norm^2 = %f", norm)
	}
}

func TestOpenAIEmbedder_ServerErrorIsEmbeddingFailure(t *testing.T) {
	e := embeddingService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := e.EmbedBatch(context.Background(), []string{"one"})
	if !errors.Is(err, errdefs.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}

func TestOpenAIEmbedder_DimensionCheck(t *testing.T) {
	e := embeddingService(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{
			{"embedding": []float32{1, 0}, "index": 0},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	_, err := e.Embed(context.Background(), "one")
	if !errors.Is(err, errdefs.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure for wrong dimension, got %v", err)
	}
}

func TestOpenAIEmbedder_CountMismatch(t *testing.T) {
	e := embeddingService(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"data": []map[string]any{
			{"embedding": []float32{1, 0, 0}, "index": 0},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	_, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	if !errors.Is(err, errdefs.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure for short response, got %v", err)
	}
}

func TestCache_ServesHitsWithoutInnerCall(t *testing.T) {
	calls := 0
	e := embeddingService(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		calls++
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1, 0, 0}, "index": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	cached := WithCache(e, 10)
	ctx := context.Background()
	if _, err := cached.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.Embed(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("inner calls = %d, want 1", calls)
	}
	// Batch with one hit and one miss embeds only the miss.
	if _, err := cached.EmbedBatch(ctx, []string{"hello", "world"}); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("inner calls = %d, want 2", calls)
	}
}

func TestMockEmbedder_deterministicUnitVectors(t *testing.T) {
	e := NewMockEmbedder(8)
	a, _ := e.Embed(context.Background(), "stable text")
	b, _ := e.Embed(context.Background(), "stable text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("mock embedding not deterministic")
		}
	}
	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("mock embedding not unit length: %f", norm)
	}
}
