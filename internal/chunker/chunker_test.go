package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func TestChunk_windowsAndOverlap(t *testing.T) {
	c := NewChunker(4, 1)
	words := []string{"w0", "w1", "w2", "w3", "w4", "w5", "w6"}
	chunks := c.Chunk("doc", strings.Join(words, " "))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "w0 w1 w2 w3" {
		t.Errorf("chunk 0 = %q", chunks[0].Text)
	}
	if chunks[1].Text != "w3 w4 w5 w6" {
		t.Errorf("chunk 1 = %q", chunks[1].Text)
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, ch.ChunkIndex)
		}
		if ch.DocumentID != "doc" {
			t.Errorf("chunk %d document id = %q", i, ch.DocumentID)
		}
	}
}

func TestChunk_shortTextSingleChunk(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Chunk("doc", "just a few words")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "just a few words" {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
}

func TestChunk_emptyText(t *testing.T) {
	c := NewChunker(10, 2)
	if chunks := c.Chunk("doc", ""); chunks != nil {
		t.Errorf("empty text should yield no chunks, got %d", len(chunks))
	}
	if chunks := c.Chunk("doc", "   \n\t "); chunks != nil {
		t.Errorf("whitespace text should yield no chunks, got %d", len(chunks))
	}
}

func TestChunk_deterministic(t *testing.T) {
	c := NewChunker(5, 2)
	text := strings.Repeat("alpha beta gamma delta ", 20)
	a := c.Chunk("doc", text)
	b := c.Chunk("doc", text)
	if !reflect.DeepEqual(a, b) {
		t.Error("chunking the same input twice should produce identical chunks")
	}
}

func TestChunk_lastWindowShorter(t *testing.T) {
	c := NewChunker(3, 0)
	chunks := c.Chunk("doc", "a b c d")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Text != "d" {
		t.Errorf("last chunk = %q, want %q", chunks[1].Text, "d")
	}
}
