package domain

import (
	"context"
	"fmt"
	"iter"
)

// Document represents a single unit of source text, e.g. one text file or one PDF page.
type Document struct {
	ID   string
	Text string
	// Page is the 1-based page number for paginated sources, 0 otherwise.
	Page int
}

// Chunk is a contiguous passage of a document used as the unit of retrieval.
// Start and End are rune offsets into the parent document text.
type Chunk struct {
	SourceID string
	Start    int
	End      int
	Text     string
	Page     int
	Index    int
}

// ID returns a stable identifier of the chunk within its source.
func (c Chunk) ID() string {
	if c.Page > 0 {
		return fmt.Sprintf("%s#p%d:%d", c.SourceID, c.Page, c.Index)
	}
	return fmt.Sprintf("%s:%d", c.SourceID, c.Index)
}

// Vector is a fixed-dimension embedding.
type Vector []float32

// Entry pairs a vector with the chunk it was computed from.
type Entry struct {
	Vector Vector
	Chunk  Chunk
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Answer is the output of a retrieval-augmented query.
type Answer struct {
	ID       string
	Question string
	Text     string
	// Sources are the chunks placed in the context block, in rank order.
	Sources []SearchResult
}

// Embedder converts free text into a vector of one fixed dimension.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
}

// Generator produces answer text for a fully rendered prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
// The returned sequence is lazy and may be iterated more than once.
type Chunker interface {
	Split(document Document) iter.Seq[Chunk]
}

// DocumentSource supplies the corpus for an index build.
type DocumentSource interface {
	Documents(ctx context.Context) ([]Document, error)
}
