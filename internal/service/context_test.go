package service

import (
	"testing"

	"docqa/internal/domain"
)

func results(texts ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, len(texts))
	for i, t := range texts {
		out[i] = domain.SearchResult{Chunk: domain.Chunk{SourceID: "doc", Index: i, Text: t}, Score: float64(len(texts) - i)}
	}
	return out
}

func TestAssembleContext(t *testing.T) {
	cases := []struct {
		name      string
		texts     []string
		budget    int
		wantBlock string
		wantUsed  int
	}{
		{"all fit", []string{"aaaa", "bbbb"}, 100, "aaaa\n\nbbbb", 2},
		{"exact fit counts separators", []string{"aaaa", "bbbb"}, 10, "aaaa\n\nbbbb", 2},
		{"second overflows", []string{"aaaa", "bbbb"}, 9, "aaaa", 1},
		{"stops at first overflow", []string{"aaaa", "bbbbbbbbbb", "c"}, 8, "aaaa", 1},
		{"first overflows", []string{"aaaaaaaa", "b"}, 4, "", 0},
		{"runes not bytes", []string{"héllo", "wörld"}, 12, "héllo\n\nwörld", 2},
		{"no results", nil, 10, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block, used := AssembleContext(results(tc.texts...), tc.budget)
			if block != tc.wantBlock {
				t.Fatalf("got block %q, want %q", block, tc.wantBlock)
			}
			if len(used) != tc.wantUsed {
				t.Fatalf("got %d used, want %d", len(used), tc.wantUsed)
			}
			for i, r := range used {
				if r.Chunk.Index != i {
					t.Fatalf("used[%d] is chunk %d, rank order broken", i, r.Chunk.Index)
				}
			}
		})
	}
}
