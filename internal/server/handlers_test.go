package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/embedding"
	"github.com/passagehq/passage/internal/errdefs"
	"github.com/passagehq/passage/internal/generate"
	"github.com/passagehq/passage/internal/ingest"
	"github.com/passagehq/passage/internal/models"
	"github.com/passagehq/passage/internal/rag"
	"github.com/passagehq/passage/internal/registry"
	"github.com/passagehq/passage/internal/vector"
)

const testDims = 8

func newTestServer(t *testing.T, gen generate.Generator) *Server {
	t.Helper()
	idx, err := vector.NewMemoryIndex(testDims, "")
	if err != nil {
		t.Fatalf("NewMemoryIndex: %v", err)
	}
	reg, err := registry.Open("")
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = idx.Close()
		_ = reg.Close()
	})
	embedder := embedding.NewMockEmbedder(testDims)
	pipeline := ingest.NewPipeline(idx, embedder, reg, config.ChunkingConfig{ChunkSize: 8, ChunkOverlap: 2})
	retrieval := config.RetrievalConfig{DefaultK: 4, MaxK: 50, ReadRetries: 0}
	genCfg := config.GeneratorConfig{MaxTokens: 256, ContextTokens: 1800}
	service := rag.NewService(idx, embedder, gen, reg, retrieval, genCfg)
	return NewServer(service, pipeline, reg, &config.ServerConfig{Host: "localhost", Port: 8080}, zap.NewNop())
}

func ingestTestDoc(t *testing.T, srv *Server, id, title, content string) {
	t.Helper()
	if _, err := srv.pipeline.Ingest(context.Background(), id, title, content); err != nil {
		t.Fatalf("Ingest %s: %v", id, err)
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

func TestHandleIngestDocument(t *testing.T) {
	srv := newTestServer(t, nil)

	w := postJSON(t, srv.handleIngestDocument, "/api/v1/documents", models.DocumentInput{
		ID:      "doc-1",
		Title:   "Doc One",
		Content: "alpha beta gamma delta epsilon zeta eta theta iota kappa",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var out models.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.DocumentID != "doc-1" || out.ChunksProcessed == 0 {
		t.Fatalf("result = %+v", out)
	}
}

func TestHandleIngestDocument_MissingID(t *testing.T) {
	srv := newTestServer(t, nil)
	w := postJSON(t, srv.handleIngestDocument, "/api/v1/documents", models.DocumentInput{Content: "text"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleQuery(t *testing.T) {
	gen := &generate.MockGenerator{Output: "Paris."}
	srv := newTestServer(t, gen)
	ingestTestDoc(t, srv, "doc-1", "Geo", "the capital of france is paris")

	w := postJSON(t, srv.handleQuery, "/api/v1/query", queryRequest{Query: "capital of france", K: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var out models.AnswerResult
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Answer == nil || *out.Answer != "Paris." {
		t.Errorf("answer = %v, want Paris.", out.Answer)
	}
	if len(out.Sources) == 0 {
		t.Error("no sources returned")
	}
}

func TestHandleQuery_RetrieveOnly(t *testing.T) {
	gen := &generate.MockGenerator{Output: "never"}
	srv := newTestServer(t, gen)
	ingestTestDoc(t, srv, "doc-1", "Geo", "the capital of france is paris")

	f := false
	w := postJSON(t, srv.handleQuery, "/api/v1/query", queryRequest{Query: "capital", K: 2, Generate: &f})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var out models.AnswerResult
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != nil {
		t.Errorf("answer = %q, want null", *out.Answer)
	}
	if len(gen.Prompts) != 0 {
		t.Errorf("generator called %d times", len(gen.Prompts))
	}
}

func TestHandleQuery_GenerationFailureKeepsSources(t *testing.T) {
	gen := &generate.MockGenerator{Err: errdefs.ErrGenerationFailure}
	srv := newTestServer(t, gen)
	ingestTestDoc(t, srv, "doc-1", "Geo", "the capital of france is paris")

	w := postJSON(t, srv.handleQuery, "/api/v1/query", queryRequest{Query: "capital", K: 1})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var out struct {
		Error  string              `json:"error"`
		Result models.AnswerResult `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Error == "" {
		t.Error("error message missing")
	}
	if len(out.Result.Sources) == 0 {
		t.Error("sources discarded on generation failure")
	}
}

func TestHandleQuery_GenerationTimeoutKeepsSources(t *testing.T) {
	gen := &generate.MockGenerator{Err: errdefs.ErrTimeout}
	srv := newTestServer(t, gen)
	ingestTestDoc(t, srv, "doc-1", "Geo", "the capital of france is paris")

	w := postJSON(t, srv.handleQuery, "/api/v1/query", queryRequest{Query: "capital", K: 1})
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	var out struct {
		Error  string              `json:"error"`
		Result models.AnswerResult `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Error == "" {
		t.Error("error message missing")
	}
	if len(out.Result.Sources) == 0 {
		t.Error("sources discarded on generation timeout")
	}
	if out.Result.Answer != nil {
		t.Errorf("answer = %q, want null", *out.Result.Answer)
	}
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	srv := newTestServer(t, nil)
	w := postJSON(t, srv.handleQuery, "/api/v1/query", queryRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleGetAndDeleteDocument(t *testing.T) {
	srv := newTestServer(t, nil)
	ingestTestDoc(t, srv, "doc-1", "Doc One", "alpha beta gamma delta")
	router := srv.Router()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", w.Code, w.Body.String())
	}
	var doc models.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.ID != "doc-1" || doc.Title != "Doc One" {
		t.Fatalf("document = %+v", doc)
	}

	r = httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestHandleListDocuments(t *testing.T) {
	srv := newTestServer(t, nil)
	ingestTestDoc(t, srv, "doc-1", "One", "alpha beta")
	ingestTestDoc(t, srv, "doc-2", "Two", "gamma delta")

	r := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	w := httptest.NewRecorder()
	srv.handleListDocuments(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Documents []models.Document `json:"documents"`
		Total     int64             `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 2 || len(out.Documents) != 2 {
		t.Fatalf("list = %+v", out)
	}
}

func TestHandleClear(t *testing.T) {
	srv := newTestServer(t, nil)
	ingestTestDoc(t, srv, "doc-1", "One", "alpha beta")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/clear", nil)
	w := httptest.NewRecorder()
	srv.handleClear(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out models.ClearResult
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || !out.Reset {
		t.Fatalf("clear result = %+v", out)
	}
	if count, _ := srv.registry.Count(context.Background()); count != 0 {
		t.Errorf("registry count = %d after clear", count)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out models.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Alive || out.Backend != "memory" || out.Dimensions != testDims {
		t.Fatalf("health = %+v", out)
	}
}
