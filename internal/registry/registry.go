// Package registry provides SQLite-backed bookkeeping for ingested documents.
// The vector index owns the chunk payloads; the registry tracks document
// identity and chunk counts so re-ingestion can remove stale chunks.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/passagehq/passage/internal/models"
)

// ErrNotFound is returned when a document ID is not registered.
var ErrNotFound = errors.New("document not found")

// Registry stores document records in SQLite.
type Registry struct {
	db *sql.DB
}

// Open opens or creates the registry database at dbPath and initializes the
// schema. Parent directories are created if they do not exist. An empty
// dbPath uses an in-memory database.
func Open(dbPath string) (*Registry, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Registry{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		chunk_count INTEGER NOT NULL,
		source_path TEXT,
		source_mtime INTEGER,
		source_size INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert inserts or replaces the record for doc.ID, preserving the original
// created_at on replacement.
func (r *Registry) Upsert(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, chunk_count, source_path, source_mtime, source_size, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   chunk_count = excluded.chunk_count,
		   source_path = excluded.source_path,
		   source_mtime = excluded.source_mtime,
		   source_size = excluded.source_size,
		   updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.ChunkCount, doc.SourcePath, doc.SourceMtime, doc.SourceSize, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, chunk_count, source_path, source_mtime, source_size, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetBySourcePath returns the record whose source_path matches, or ErrNotFound.
func (r *Registry) GetBySourcePath(ctx context.Context, path string) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, chunk_count, source_path, source_mtime, source_size, created_at, updated_at
		 FROM documents WHERE source_path = ?`, path)
	return scanDocument(row)
}

// ChunkCount returns the stored chunk count for id, or zero when the
// document is not registered.
func (r *Registry) ChunkCount(ctx context.Context, id string) (int, error) {
	doc, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.ChunkCount, nil
}

// Delete removes the record for id. Deleting an unknown id is not an error.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// List returns documents ordered by most recently updated.
func (r *Registry) List(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, chunk_count, source_path, source_mtime, source_size, created_at, updated_at
		 FROM documents ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of registered documents.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Clear removes all document records.
func (r *Registry) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var sourcePath sql.NullString
	var sourceMtime, sourceSize sql.NullInt64
	err := row.Scan(&doc.ID, &doc.Title, &doc.ChunkCount, &sourcePath, &sourceMtime, &sourceSize, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.SourcePath = sourcePath.String
	doc.SourceMtime = sourceMtime.Int64
	doc.SourceSize = sourceSize.Int64
	return &doc, nil
}
