// Package ingest orchestrates chunking, embedding, and index writes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/chunker"
	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/embedding"
	"github.com/passagehq/passage/internal/extract"
	"github.com/passagehq/passage/internal/fileid"
	"github.com/passagehq/passage/internal/models"
	"github.com/passagehq/passage/internal/registry"
	"github.com/passagehq/passage/internal/vector"
)

// Pipeline ingests documents: chunk, embed, upsert into the vector index,
// and record the document in the registry. Ingestion is idempotent per
// document ID; re-ingesting replaces the prior chunks, including removing
// stale chunks when the document shrinks.
type Pipeline struct {
	index     vector.Index
	embedder  embedding.Embedder
	registry  *registry.Registry
	chunker   *chunker.Chunker
	extractor *extract.Extractor
	logger    *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithExtractor sets the file content extractor used by IngestFile. When
// unset, files are read as plain text.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// NewPipeline creates an ingestion pipeline with the given dependencies.
func NewPipeline(index vector.Index, embedder embedding.Embedder, reg *registry.Registry, cfg config.ChunkingConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		index:    index,
		embedder: embedder,
		registry: reg,
		chunker:  chunker.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest chunks and embeds rawText and upserts the resulting points under
// docID. On embedding failure nothing is written. Text producing no chunks
// removes any previously indexed content for docID and reports zero chunks.
func (p *Pipeline) Ingest(ctx context.Context, docID, title, rawText string) (*models.IngestResult, error) {
	return p.ingest(ctx, docID, title, rawText, nil)
}

// ingest optionally records file source metadata on the registry row.
func (p *Pipeline) ingest(ctx context.Context, docID, title, rawText string, source *models.Document) (*models.IngestResult, error) {
	if docID == "" {
		return nil, errors.New("document id must not be empty")
	}
	prevCount, err := p.registry.ChunkCount(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("read prior chunk count: %w", err)
	}

	chunks := p.chunker.Chunk(docID, rawText)
	if len(chunks) == 0 {
		if err := p.removeChunkRange(ctx, docID, 0, prevCount); err != nil {
			return nil, err
		}
		if err := p.registry.Delete(ctx, docID); err != nil {
			return nil, err
		}
		return &models.IngestResult{DocumentID: docID, ChunksProcessed: 0}, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Abort before any index write: no partially embedded document.
		return nil, fmt.Errorf("embed document %q: %w", docID, err)
	}

	points := make([]vector.Point, len(chunks))
	for i, ch := range chunks {
		points[i] = vector.Point{
			ID:     vector.ChunkPointID(ch.DocumentID, ch.ChunkIndex),
			Vector: vectors[i],
			Payload: vector.Payload{
				DocumentID: ch.DocumentID,
				ChunkIndex: ch.ChunkIndex,
				Text:       ch.Text,
			},
		}
	}
	if _, err := p.index.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("index document %q: %w", docID, err)
	}
	// A shrinking document leaves points beyond the new chunk count behind;
	// they would keep surfacing in searches unless removed explicitly.
	if err := p.removeChunkRange(ctx, docID, len(chunks), prevCount); err != nil {
		return nil, err
	}

	doc := &models.Document{ID: docID, Title: title, ChunkCount: len(chunks)}
	if source != nil {
		doc.SourcePath = source.SourcePath
		doc.SourceMtime = source.SourceMtime
		doc.SourceSize = source.SourceSize
	}
	if err := p.registry.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document %q: %w", docID, err)
	}
	if p.logger != nil {
		p.logger.Debug("document ingested",
			zap.String("document_id", docID),
			zap.Int("chunks", len(chunks)),
			zap.Int("stale_removed", max(0, prevCount-len(chunks))))
	}
	return &models.IngestResult{DocumentID: docID, ChunksProcessed: len(chunks)}, nil
}

// removeChunkRange deletes points for chunk indices [from, to) of docID.
func (p *Pipeline) removeChunkRange(ctx context.Context, docID string, from, to int) error {
	if from >= to {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, vector.ChunkPointID(docID, i))
	}
	if err := p.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("remove stale chunks of %q: %w", docID, err)
	}
	return nil
}

// IngestFile extracts, chunks, and indexes the file at path. The document ID
// is derived from the absolute path so re-ingesting updates the same
// document. Files already ingested with the same mtime and size are skipped.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := fileid.FileDocID(absPath)

	if prior, err := p.registry.Get(ctx, docID); err == nil &&
		prior.SourcePath == absPath &&
		prior.SourceMtime == info.ModTime().UnixNano() &&
		prior.SourceSize == info.Size() {
		if p.logger != nil {
			p.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		}
		return &models.IngestResult{DocumentID: docID, ChunksProcessed: prior.ChunkCount}, nil
	}

	text, err := p.extractContent(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	source := &models.Document{
		SourcePath:  absPath,
		SourceMtime: info.ModTime().UnixNano(),
		SourceSize:  info.Size(),
	}
	return p.ingest(ctx, docID, filepath.Base(absPath), text, source)
}

// IngestDirectory walks dir recursively and ingests each regular file whose
// extension is in allowedExts (empty allows all). Returns the number of
// files ingested and the first error encountered.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		info, statErr := os.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			return nil
		}
		if _, err := p.IngestFile(ctx, path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// DeleteDocument removes a document's points from the index and its registry
// record. Deleting an unknown document is not an error.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string) error {
	count, err := p.registry.ChunkCount(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.removeChunkRange(ctx, docID, 0, count); err != nil {
		return err
	}
	if err := p.registry.Delete(ctx, docID); err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.Debug("document deleted", zap.String("document_id", docID), zap.Int("chunks", count))
	}
	return nil
}

// RemoveFile deletes the document previously ingested from path, if any.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	doc, err := p.registry.GetBySourcePath(ctx, absPath)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.DeleteDocument(ctx, doc.ID)
}

func (p *Pipeline) extractContent(path string) (string, error) {
	if p.extractor != nil {
		return p.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
