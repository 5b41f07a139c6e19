package service

import (
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

const contextSeparator = "\n\n"

// AssembleContext joins retrieved chunk texts in rank order into a context
// block of at most maxChars runes, separators included. Chunks are never
// truncated: assembly stops at the first chunk that would exceed the budget.
// used lists the results whose text is in the block.
func AssembleContext(results []domain.SearchResult, maxChars int) (block string, used []domain.SearchResult) {
	var b strings.Builder
	total := 0
	for _, r := range results {
		n := utf8.RuneCountInString(r.Chunk.Text)
		if len(used) > 0 {
			n += len(contextSeparator)
		}
		if total+n > maxChars {
			break
		}
		if len(used) > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(r.Chunk.Text)
		total += n
		used = append(used, r)
	}
	return b.String(), used
}
