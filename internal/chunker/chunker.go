// Package chunker splits document text into overlapping word windows.
package chunker

import (
	"strings"

	"github.com/passagehq/passage/internal/models"
)

// Chunker splits text into overlapping word-based chunks. Chunking is
// deterministic: identical input and parameters always produce byte-identical
// chunks in the same order.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// Size must exceed overlap; callers are expected to validate via config.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into chunks with overlapping windows. Chunk indices are
// contiguous starting at zero. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Chunk(docID, text string) []models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	chunks := make([]models.Chunk, 0, (len(words)+step-1)/step)
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, models.Chunk{
			DocumentID: docID,
			ChunkIndex: len(chunks),
			Text:       strings.Join(words[i:end], " "),
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}
