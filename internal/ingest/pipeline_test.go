package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/embedding"
	"github.com/passagehq/passage/internal/errdefs"
	"github.com/passagehq/passage/internal/registry"
	"github.com/passagehq/passage/internal/vector"
)

const testDims = 8

func newTestPipeline(t *testing.T, chunkSize, chunkOverlap int) (*Pipeline, *vector.MemoryIndex, *registry.Registry) {
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
	cfg := config.ChunkingConfig{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
	p := NewPipeline(idx, embedding.NewMockEmbedder(testDims), reg, cfg)
	return p, idx, reg
}

func pointCount(t *testing.T, idx vector.Index) int {
	t.Helper()
	desc := idx.Describe(context.Background())
	if desc.PointCount == nil {
		t.Fatal("Describe returned nil point count")
	}
	return *desc.PointCount
}

func TestPipeline_Ingest(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	ctx := context.Background()

	res, err := p.Ingest(ctx, "doc-1", "Doc One", "alpha beta gamma delta")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.ChunksProcessed != 2 {
		t.Fatalf("ChunksProcessed = %d, want 2", res.ChunksProcessed)
	}
	if got := pointCount(t, idx); got != 2 {
		t.Fatalf("point count = %d, want 2", got)
	}
	doc, err := reg.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if doc.Title != "Doc One" || doc.ChunkCount != 2 {
		t.Fatalf("registry row = %+v", doc)
	}

	query, _ := embedding.NewMockEmbedder(testDims).Embed(ctx, "alpha beta")
	hits, err := idx.Search(ctx, query, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Payload.DocumentID != "doc-1" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestPipeline_ReingestRemovesStaleChunks(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "doc-1", "v1", "a b c d e f g h i j"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if got := pointCount(t, idx); got != 5 {
		t.Fatalf("point count after v1 = %d, want 5", got)
	}

	res, err := p.Ingest(ctx, "doc-1", "v2", "a b c d e f")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if res.ChunksProcessed != 3 {
		t.Fatalf("ChunksProcessed = %d, want 3", res.ChunksProcessed)
	}
	if got := pointCount(t, idx); got != 3 {
		t.Fatalf("point count after shrink = %d, want 3", got)
	}
	count, err := reg.ChunkCount(ctx, "doc-1")
	if err != nil || count != 3 {
		t.Fatalf("ChunkCount = %d, %v, want 3", count, err)
	}
	// The surviving points must be the first three chunk indices.
	query, _ := embedding.NewMockEmbedder(testDims).Embed(ctx, "a b")
	hits, err := idx.Search(ctx, query, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.Payload.ChunkIndex >= 3 {
			t.Fatalf("stale chunk survived: %+v", h)
		}
	}
}

func TestPipeline_EmptyTextRemovesDocument(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "doc-1", "v1", "a b c d"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	res, err := p.Ingest(ctx, "doc-1", "v2", "   ")
	if err != nil {
		t.Fatalf("Ingest empty: %v", err)
	}
	if res.ChunksProcessed != 0 {
		t.Fatalf("ChunksProcessed = %d, want 0", res.ChunksProcessed)
	}
	if got := pointCount(t, idx); got != 0 {
		t.Fatalf("point count = %d, want 0", got)
	}
	if _, err := reg.Get(ctx, "doc-1"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("registry.Get err = %v, want ErrNotFound", err)
	}
}

type failingEmbedder struct {
	embedding.Embedder
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errdefs.ErrEmbeddingFailure
}

func TestPipeline_EmbeddingFailureAbortsDocument(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	p.embedder = &failingEmbedder{}
	ctx := context.Background()

	_, err := p.Ingest(ctx, "doc-1", "t", "a b c d")
	if !errors.Is(err, errdefs.ErrEmbeddingFailure) {
		t.Fatalf("err = %v, want ErrEmbeddingFailure", err)
	}
	if got := pointCount(t, idx); got != 0 {
		t.Fatalf("point count = %d, want 0 after aborted ingest", got)
	}
	if count, _ := reg.Count(ctx); count != 0 {
		t.Fatalf("registry count = %d, want 0", count)
	}
}

type failingIndex struct {
	vector.Index
}

func (f *failingIndex) Upsert(ctx context.Context, points []vector.Point) (int, error) {
	return 0, errdefs.ErrIndexWriteFailure
}

func TestPipeline_IndexWriteFailureSurfaces(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	p.index = &failingIndex{Index: idx}
	ctx := context.Background()

	_, err := p.Ingest(ctx, "doc-1", "t", "a b c d")
	if !errors.Is(err, errdefs.ErrIndexWriteFailure) {
		t.Fatalf("err = %v, want ErrIndexWriteFailure", err)
	}
	if count, _ := reg.Count(ctx); count != 0 {
		t.Fatalf("registry count = %d, want 0 after failed ingest", count)
	}
}

type countingEmbedder struct {
	embedding.Embedder
	batches int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches++
	return c.Embedder.EmbedBatch(ctx, texts)
}

func TestPipeline_IngestFileSkipsUnchanged(t *testing.T) {
	p, _, _ := newTestPipeline(t, 2, 0)
	counting := &countingEmbedder{Embedder: p.embedder}
	p.embedder = counting
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma delta"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := p.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("first IngestFile: %v", err)
	}
	second, err := p.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("second IngestFile: %v", err)
	}
	if counting.batches != 1 {
		t.Fatalf("embed batches = %d, want 1 (unchanged file re-embedded)", counting.batches)
	}
	if first.DocumentID != second.DocumentID || second.ChunksProcessed != first.ChunksProcessed {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}

	// Touching the content invalidates the skip.
	if err := os.WriteFile(path, []byte("alpha beta gamma delta epsilon zeta"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.IngestFile(ctx, path); err != nil {
		t.Fatalf("third IngestFile: %v", err)
	}
	if counting.batches != 2 {
		t.Fatalf("embed batches = %d, want 2 after change", counting.batches)
	}
}

func TestPipeline_IngestDirectoryFiltersExtensions(t *testing.T) {
	p, _, reg := newTestPipeline(t, 2, 0)
	ctx := context.Background()

	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "a.txt"):  "alpha beta",
		filepath.Join(sub, "b.md"):   "gamma delta",
		filepath.Join(dir, "c.bin"):  "skip me",
		filepath.Join(dir, "d.jpeg"): "skip me too",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := p.IngestDirectory(ctx, dir, []string{".txt", "md"})
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if n != 2 {
		t.Fatalf("ingested %d files, want 2", n)
	}
	count, _ := reg.Count(ctx)
	if count != 2 {
		t.Fatalf("registry count = %d, want 2", count)
	}
}

func TestPipeline_DeleteDocument(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "doc-1", "t", "a b c d e f"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := p.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if got := pointCount(t, idx); got != 0 {
		t.Fatalf("point count = %d, want 0", got)
	}
	if _, err := reg.Get(ctx, "doc-1"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("registry.Get err = %v, want ErrNotFound", err)
	}
	// Unknown documents delete cleanly.
	if err := p.DeleteDocument(ctx, "never-seen"); err != nil {
		t.Fatalf("DeleteDocument unknown: %v", err)
	}
}

func TestPipeline_RemoveFile(t *testing.T) {
	p, idx, reg := newTestPipeline(t, 2, 0)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("alpha beta gamma delta"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.IngestFile(ctx, path); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if err := p.RemoveFile(ctx, path); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if got := pointCount(t, idx); got != 0 {
		t.Fatalf("point count = %d, want 0", got)
	}
	if count, _ := reg.Count(ctx); count != 0 {
		t.Fatalf("registry count = %d, want 0", count)
	}
	// Removing a never ingested path is a no-op.
	if err := p.RemoveFile(ctx, filepath.Join(t.TempDir(), "ghost.txt")); err != nil {
		t.Fatalf("RemoveFile ghost: %v", err)
	}
}
