package channels

import (
	"strings"
	"unicode"
)

// Transport size limits for outbound messages.
const (
	DiscordChunkLimit  = 1900
	TelegramChunkLimit = 4000
	SlackChunkLimit    = 3000
)

// Chunker splits long messages to a transport's size limit, preferring
// paragraph breaks, then line breaks, then word boundaries, with a hard
// cut as the last resort.
type Chunker struct {
	MaxSize int
}

// NewChunker creates a chunker; maxSize <= 0 means no splitting.
func NewChunker(maxSize int) *Chunker {
	return &Chunker{MaxSize: maxSize}
}

// Chunk splits text into send-ready pieces.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if c.MaxSize <= 0 || len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > c.MaxSize {
		cut := c.findBreakPoint(remaining)
		if cut <= 0 {
			cut = c.MaxSize
		}
		chunk := strings.TrimRightFunc(remaining[:cut], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[cut:], unicode.IsSpace)
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// findBreakPoint returns the best cut position within MaxSize.
func (c *Chunker) findBreakPoint(text string) int {
	window := text[:c.MaxSize]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return c.MaxSize
}
