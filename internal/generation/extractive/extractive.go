package extractive

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"docqa/internal/generation"
)

// NoAnswer is returned when no context sentence shares a term with the question.
const NoAnswer = "I don't know; the indexed documents do not appear to answer this question."

// Generator answers by extracting the context sentences that best match the
// question. Sentences are ranked by question-term overlap, then by corpus
// word frequency (stopwords filtered), and returned in document order. It
// needs no network access.
type Generator struct {
	maxSentences int
	tokenPattern *regexp.Regexp
	sentences    *regexp.Regexp
	stopwords    map[string]struct{}
}

// New creates an extractive generator returning at most maxSentences sentences.
func New(maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &Generator{
		maxSentences: maxSentences,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		sentences:    regexp.MustCompile(`(?m)[^.!?\n]+(?:[.!?]+|$)`),
		stopwords:    defaultStopwords(),
	}
}

func (g *Generator) Name() string { return "extractive" }

// Generate answers a prompt rendered by generation.RenderPrompt. A prompt of
// another shape is treated as bare context with no question.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, question, ok := generation.ParsePrompt(prompt)
	if !ok {
		text = prompt
	}

	var sentences []string
	for _, s := range g.sentences.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if len(g.contentTokens(s)) > 0 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return NoAnswer, nil
	}

	queryTerms := map[string]struct{}{}
	for _, tok := range g.contentTokens(question) {
		queryTerms[tok] = struct{}{}
	}

	// Compute word frequencies
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range g.contentTokens(sent) {
			freq[tok]++
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type scored struct {
		idx     int
		overlap int
		score   float64
	}
	var candidates []scored
	for i, sent := range sentences {
		toks := g.contentTokens(sent)
		seen := map[string]struct{}{}
		overlap := 0
		fscore := 0.0
		for _, tok := range toks {
			fscore += freq[tok]
			if _, ok := queryTerms[tok]; ok {
				if _, dup := seen[tok]; !dup {
					seen[tok] = struct{}{}
					overlap++
				}
			}
		}
		// Normalize by sentence length to avoid bias
		fscore /= math.Sqrt(float64(len(toks)))
		if len(queryTerms) > 0 && overlap == 0 {
			continue
		}
		candidates = append(candidates, scored{idx: i, overlap: overlap, score: fscore})
	}
	if len(candidates) == 0 {
		return NoAnswer, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].score > candidates[j].score
	})

	n := min(g.maxSentences, len(candidates))
	// Keep original order among selected
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = candidates[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

func (g *Generator) contentTokens(text string) []string {
	raw := g.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := g.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
