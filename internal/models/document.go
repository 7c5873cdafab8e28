// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import "time"

// Document is the registry record for an ingested document. The document text
// itself lives chunked inside the vector index payloads; the registry tracks
// identity and the chunk count needed for idempotent re-ingestion.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ChunkCount  int       `json:"chunk_count"`
	SourcePath  string    `json:"source_path,omitempty"`
	SourceMtime int64     `json:"source_mtime,omitempty"`
	SourceSize  int64     `json:"source_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is one overlapping window of a document's text. ChunkIndex is unique
// and contiguous within a document. Vector is nil until embedded.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
}

// DocumentInput is the input for ingesting a document through the API.
type DocumentInput struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// IngestResult reports the outcome of ingesting one document.
type IngestResult struct {
	DocumentID      string `json:"document_id"`
	ChunksProcessed int    `json:"chunks_processed"`
}
