// Package chunker splits normalized document text into overlapping windows
// sized for embedding.
package chunker

import (
	"strings"
	"unicode"
)

// Chunker splits text into overlapping character-based chunks, preferring to
// cut at semantic boundaries. Sizes are measured in runes so multibyte text
// chunks the same as ASCII.
type Chunker struct {
	size           int
	overlap        int
	singleChunkMax int
}

// New creates a chunker. size is the maximum chunk length, overlap the number
// of characters shared by consecutive chunks. Inputs no longer than
// singleChunkMax are emitted whole without splitting.
func New(size, overlap, singleChunkMax int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	if singleChunkMax < size {
		singleChunkMax = size
	}
	return &Chunker{size: size, overlap: overlap, singleChunkMax: singleChunkMax}
}

// Split chunks text into pieces of at most the configured size. Consecutive
// chunks overlap by the configured amount. Cut points prefer, in order:
// paragraph break, line break, sentence-ending punctuation, whitespace, then a
// hard cut. Empty or whitespace-only input yields nil.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.singleChunkMax {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.cutPoint(runes, start, end)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// cutPoint finds the best boundary in runes[start:limit], scanning backward.
// A boundary is only taken from the second half of the window so snapping
// never produces degenerate short chunks.
func (c *Chunker) cutPoint(runes []rune, start, limit int) int {
	floor := start + c.size/2

	// Paragraph break: blank line.
	for i := limit - 1; i > floor; i-- {
		if runes[i] == '\n' && i > 0 && runes[i-1] == '\n' {
			return i + 1
		}
	}
	// Line break.
	for i := limit - 1; i > floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	// Sentence end: terminal punctuation followed by whitespace.
	for i := limit - 1; i > floor; i-- {
		if isSentenceEnd(runes[i]) && i+1 < limit && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	// Any whitespace.
	for i := limit - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}
