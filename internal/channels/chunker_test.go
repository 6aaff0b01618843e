package channels

import (
	"strings"
	"testing"
)

func TestChunkShortTextPassesThrough(t *testing.T) {
	chunks := NewChunker(100).Chunk("hello world")
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestChunkEmpty(t *testing.T) {
	if chunks := NewChunker(100).Chunk(""); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

func TestChunkUnlimited(t *testing.T) {
	text := strings.Repeat("a", 10000)
	chunks := NewChunker(0).Chunk(text)
	if len(chunks) != 1 || len(chunks[0]) != 10000 {
		t.Fatalf("unlimited chunker split the text into %d pieces", len(chunks))
	}
}

func TestChunkPrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50)
	chunks := NewChunker(80).Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 50) {
		t.Errorf("chunk 0 = %q", chunks[0])
	}
	if chunks[1] != strings.Repeat("b", 50) {
		t.Errorf("chunk 1 = %q", chunks[1])
	}
}

func TestChunkFallsBackToLineBreak(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 50)
	chunks := NewChunker(80).Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
}

func TestChunkFallsBackToWordBoundary(t *testing.T) {
	text := strings.Repeat("word ", 40) // 200 chars
	chunks := NewChunker(90).Chunk(text)
	for i, chunk := range chunks {
		if len(chunk) > 90 {
			t.Errorf("chunk %d is %d chars", i, len(chunk))
		}
		if strings.HasPrefix(chunk, " ") || strings.HasSuffix(chunk, " ") {
			t.Errorf("chunk %d has ragged edges: %q", i, chunk)
		}
	}
	if joined := strings.Join(chunks, " "); joined != strings.TrimSpace(text) {
		t.Errorf("content lost in chunking: %q", joined)
	}
}

func TestChunkHardCutWithoutBreaks(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := NewChunker(100).Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for i, chunk := range chunks {
		if len(chunk) > 100 {
			t.Errorf("chunk %d is %d chars", i, len(chunk))
		}
		total += len(chunk)
	}
	if total != 250 {
		t.Errorf("total = %d, want 250", total)
	}
}
