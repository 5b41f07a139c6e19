package chunker

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"docqa/internal/domain"
)

func collect(t *testing.T, text string, size, overlap int) []domain.Chunk {
	t.Helper()
	seq, err := Split(domain.Document{ID: "doc", Text: text}, size, overlap)
	if err != nil {
		t.Fatalf("Split(%d, %d) failed: %v", size, overlap, err)
	}
	return slices.Collect(seq)
}

func TestWindowChunker_LiteralOffsets(t *testing.T) {
	chunks := collect(t, "abcdefghij", 4, 2)
	want := [][2]int{{0, 4}, {2, 6}, {4, 8}, {6, 10}}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, w := range want {
		c := chunks[i]
		if c.Start != w[0] || c.End != w[1] {
			t.Fatalf("chunk %d = [%d,%d), want [%d,%d)", i, c.Start, c.End, w[0], w[1])
		}
		if c.Text != "abcdefghij"[w[0]:w[1]] {
			t.Fatalf("chunk %d text = %q", i, c.Text)
		}
		if c.Index != i || c.SourceID != "doc" {
			t.Fatalf("chunk %d metadata = %+v", i, c)
		}
	}
}

func TestWindowChunker_ShortDocumentSingleChunk(t *testing.T) {
	chunks := collect(t, "tiny", 20, 5)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].End != 4 || chunks[0].Text != "tiny" {
		t.Fatalf("unexpected chunk %+v", chunks[0])
	}
}

func TestWindowChunker_EmptyDocument(t *testing.T) {
	if chunks := collect(t, "", 10, 2); len(chunks) != 0 {
		t.Fatalf("got %d chunks for empty document, want 0", len(chunks))
	}
}

func TestWindowChunker_InvalidParameters(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0},
		{-1, 0},
		{4, 4},
		{4, 5},
		{4, -1},
	}
	for _, tc := range cases {
		_, err := NewWindowChunker(tc.size, tc.overlap)
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Fatalf("NewWindowChunker(%d, %d) err = %v, want configuration error", tc.size, tc.overlap, err)
		}
	}
}

func TestWindowChunker_CoverageAndCount(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 7)
	n := len([]rune(text))
	for size := 1; size <= 40; size++ {
		for overlap := 0; overlap < size; overlap++ {
			c, err := NewWindowChunker(size, overlap)
			if err != nil {
				t.Fatal(err)
			}
			for _, l := range []int{1, 2, size - 1, size, size + 1, n} {
				if l <= 0 || l > n {
					continue
				}
				doc := domain.Document{ID: "d", Text: string([]rune(text)[:l])}
				chunks := slices.Collect(c.Split(doc))
				if got, want := len(chunks), c.Count(l); got != want {
					t.Fatalf("L=%d C=%d O=%d: got %d chunks, want %d", l, size, overlap, got, want)
				}
				covered := 0
				for i, ch := range chunks {
					if ch.End-ch.Start > size {
						t.Fatalf("chunk %d wider than %d", i, size)
					}
					if ch.Start > covered {
						t.Fatalf("L=%d C=%d O=%d: gap before rune %d", l, size, overlap, ch.Start)
					}
					if i > 0 && i < len(chunks)-1 && chunks[i-1].End-ch.Start != overlap {
						t.Fatalf("L=%d C=%d O=%d: chunk %d overlap %d", l, size, overlap, i, chunks[i-1].End-ch.Start)
					}
					covered = ch.End
				}
				if covered != l {
					t.Fatalf("L=%d C=%d O=%d: covered %d runes", l, size, overlap, covered)
				}
			}
		}
	}
}

func TestWindowChunker_CountFormula(t *testing.T) {
	cases := []struct{ l, c, o, want int }{
		{10, 4, 2, 4},
		{32, 20, 5, 2},
		{3, 4, 2, 1},
		{5, 4, 2, 2},
		{1000, 1000, 500, 1},
		{1001, 1000, 500, 2},
	}
	for _, tc := range cases {
		ch, err := NewWindowChunker(tc.c, tc.o)
		if err != nil {
			t.Fatal(err)
		}
		if got := ch.Count(tc.l); got != tc.want {
			t.Fatalf("Count(L=%d, C=%d, O=%d) = %d, want %d", tc.l, tc.c, tc.o, got, tc.want)
		}
	}
}

func TestWindowChunker_EarlyStopAndRestart(t *testing.T) {
	c, _ := NewWindowChunker(3, 1)
	seq := c.Split(domain.Document{ID: "d", Text: "abcdefghijkl"})
	var first []domain.Chunk
	for ch := range seq {
		first = append(first, ch)
		if len(first) == 2 {
			break
		}
	}
	if len(first) != 2 {
		t.Fatalf("early stop collected %d chunks", len(first))
	}
	all := slices.Collect(seq)
	if len(all) != c.Count(12) {
		t.Fatalf("restart collected %d chunks, want %d", len(all), c.Count(12))
	}
	if all[0] != first[0] || all[1] != first[1] {
		t.Fatalf("restarted sequence differs: %+v vs %+v", all[:2], first)
	}
}

func TestWindowChunker_RuneOffsetsAndPage(t *testing.T) {
	c, _ := NewWindowChunker(3, 1)
	chunks := slices.Collect(c.Split(domain.Document{ID: "p.pdf", Text: "héllo wörld", Page: 2}))
	if chunks[0].Text != "hél" {
		t.Fatalf("first chunk = %q, want %q", chunks[0].Text, "hél")
	}
	for _, ch := range chunks {
		if ch.Page != 2 {
			t.Fatalf("page not propagated: %+v", ch)
		}
	}
	if chunks[len(chunks)-1].End != len([]rune("héllo wörld")) {
		t.Fatalf("last chunk ends at %d", chunks[len(chunks)-1].End)
	}
}

func TestWindowChunker_InvalidUTF8(t *testing.T) {
	chunks := collect(t, "a\xff\xfeb", 10, 0)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if c := chunks[0]; c.End != 4 || c.Text != "a��b" {
		t.Fatalf("unexpected chunk %+v", c)
	}
}
