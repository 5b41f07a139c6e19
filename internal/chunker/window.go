package chunker

import (
	"iter"

	"docqa/internal/domain"
)

// WindowChunker splits text into fixed-size, overlapping windows.
// Sizes and offsets are measured in runes (Unicode code points).
type WindowChunker struct {
	size    int
	overlap int
}

// NewWindowChunker validates the window parameters and returns a chunker.
// size must be positive and overlap must satisfy 0 <= overlap < size.
func NewWindowChunker(size, overlap int) (*WindowChunker, error) {
	if size <= 0 {
		return nil, domain.Configf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, domain.Configf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &WindowChunker{size: size, overlap: overlap}, nil
}

// Size returns the window width in runes.
func (c *WindowChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by adjacent windows.
func (c *WindowChunker) Overlap() int { return c.overlap }

// Split returns the chunks of document as a lazy sequence. Every window is
// size runes wide except possibly the last; windows advance by size-overlap
// and stop once a window reaches the end of the text. An empty document
// yields nothing. Invalid UTF-8 in the text decodes to U+FFFD, one rune per
// bad byte; documents from the source package are already valid.
func (c *WindowChunker) Split(document domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		runes := []rune(document.Text)
		n := len(runes)
		if n == 0 {
			return
		}
		step := c.size - c.overlap
		idx := 0
		for start := 0; ; start += step {
			end := start + c.size
			if end > n {
				end = n
			}
			chunk := domain.Chunk{
				SourceID: document.ID,
				Start:    start,
				End:      end,
				Text:     string(runes[start:end]),
				Page:     document.Page,
				Index:    idx,
			}
			if !yield(chunk) || end == n {
				return
			}
			idx++
		}
	}
}

// Split is a convenience wrapper that validates parameters and splits a single document.
func Split(document domain.Document, size, overlap int) (iter.Seq[domain.Chunk], error) {
	c, err := NewWindowChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(document), nil
}

// Count returns the number of chunks Split produces for a text of n runes.
func (c *WindowChunker) Count(n int) int {
	if n == 0 {
		return 0
	}
	step := c.size - c.overlap
	span := n - c.overlap
	if span < 1 {
		span = 1
	}
	return (span + step - 1) / step
}
