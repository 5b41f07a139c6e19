package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/generation/extractive"
	"docqa/internal/vectorstore"
)

// keywordEmbedder counts a small fixed vocabulary, so similarity is easy to
// reason about in tests.
type keywordEmbedder struct {
	vocab []string
	err   error
	// gate, when set, blocks embedding of texts containing the word until closed.
	gateWord string
	gate     chan struct{}
	jitter   bool
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"sky", "blue", "grass", "green", "color"}}
}

func (k *keywordEmbedder) Name() string { return "keyword" }

func (k *keywordEmbedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	if k.err != nil {
		return nil, k.err
	}
	lower := strings.ToLower(text)
	if k.gate != nil && strings.Contains(lower, k.gateWord) {
		select {
		case <-k.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if k.jitter {
		time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
	}
	vec := make(domain.Vector, len(k.vocab))
	for i, w := range k.vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	return vec, nil
}

// blockingEmbedder waits for the context to end.
type blockingEmbedder struct{}

func (blockingEmbedder) Name() string { return "blocking" }

func (blockingEmbedder) Embed(ctx context.Context, _ string) (domain.Vector, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type stubGenerator struct {
	text    string
	err     error
	prompts []string
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

type staticSource struct {
	mu   sync.Mutex
	docs []domain.Document
	err  error
}

func (s *staticSource) Documents(context.Context) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs, s.err
}

func (s *staticSource) set(docs ...domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
}

type fixture struct {
	svc      *RAGService
	source   *staticSource
	embedder domain.Embedder
}

func newFixture(t *testing.T, emb domain.Embedder, gen domain.Generator, opts Options, docs ...domain.Document) fixture {
	t.Helper()
	ch, err := chunker.NewWindowChunker(20, 5)
	if err != nil {
		t.Fatalf("NewWindowChunker failed: %v", err)
	}
	if opts.TopK == 0 {
		opts.TopK = 3
	}
	if opts.MaxContextChars == 0 {
		opts.MaxContextChars = 4000
	}
	src := &staticSource{docs: docs}
	svc, err := NewRAGService(Deps{Source: src, Chunker: ch, Embedder: emb, Generator: gen}, opts)
	if err != nil {
		t.Fatalf("NewRAGService failed: %v", err)
	}
	return fixture{svc: svc, source: src, embedder: emb}
}

var skyDoc = domain.Document{ID: "colors.txt", Text: "The sky is blue. Grass is green."}

func TestEndToEnd_SkyIsBlue(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), extractive.New(3), Options{Concurrency: 4}, skyDoc)
	stats, err := f.svc.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if stats.Documents != 1 || stats.Chunks != 2 || stats.Dimension != 5 {
		t.Fatalf("unexpected build stats %+v", stats)
	}

	ans, err := f.svc.Ask(context.Background(), "What color is the sky?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(ans.Sources) == 0 {
		t.Fatalf("answer has no sources")
	}
	top := ans.Sources[0].Chunk
	if !strings.Contains(top.Text, "sky is blue") {
		t.Fatalf("top chunk %q does not contain %q", top.Text, "sky is blue")
	}
	if top.SourceID != "colors.txt" {
		t.Fatalf("top chunk source = %q", top.SourceID)
	}
	if strings.TrimSpace(ans.Text) == "" || !strings.Contains(ans.Text, "sky is blue") {
		t.Fatalf("unexpected answer %q", ans.Text)
	}
	if ans.ID == "" || ans.Question != "What color is the sky?" {
		t.Fatalf("unexpected answer metadata %+v", ans)
	}
}

func TestAsk_NoCorpus(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{})
	if _, err := f.svc.Ask(context.Background(), "anything?"); !errors.Is(err, domain.ErrNoCorpus) {
		t.Fatalf("got %v, want ErrNoCorpus", err)
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if _, err := f.svc.Ask(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyQuestion) {
		t.Fatalf("got %v, want ErrEmptyQuestion", err)
	}
}

func TestAsk_EmbeddingFailure(t *testing.T) {
	emb := newKeywordEmbedder()
	gen := &stubGenerator{text: "x"}
	f := newFixture(t, emb, gen, Options{}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	cause := errors.New("quota exceeded")
	emb.err = cause
	_, err := f.svc.Ask(context.Background(), "sky?")
	if !errors.Is(err, domain.ErrEmbeddingFailed) || !errors.Is(err, cause) {
		t.Fatalf("got %v, want embedding failure wrapping the cause", err)
	}
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Provider != "keyword" {
		t.Fatalf("got %v, want ProviderError naming the provider", err)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("generator called after embedding failure")
	}
}

func TestAsk_EmbeddingTimeout(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	f.svc.embedder = blockingEmbedder{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Ask(ctx, "sky?")
	if !errors.Is(err, domain.ErrEmbeddingFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want embedding failure caused by the deadline", err)
	}
}

func TestAsk_GenerationFailure(t *testing.T) {
	cause := errors.New("model overloaded")
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{err: cause}, Options{}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	ans, err := f.svc.Ask(context.Background(), "sky?")
	if ans != nil {
		t.Fatalf("got a partial answer %+v", ans)
	}
	if !errors.Is(err, domain.ErrGenerationFailed) || !errors.Is(err, cause) {
		t.Fatalf("got %v, want generation failure wrapping the cause", err)
	}
}

func TestAsk_EmptyGenerationIsFailure(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "  "}, Options{}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if _, err := f.svc.Ask(context.Background(), "sky?"); !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("got %v, want ErrGenerationFailed", err)
	}
}

func TestAsk_ContextBudgetLimitsSources(t *testing.T) {
	gen := &stubGenerator{text: "answer"}
	// budget fits exactly one 20-rune chunk
	f := newFixture(t, newKeywordEmbedder(), gen, Options{MaxContextChars: 20}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	ans, err := f.svc.Ask(context.Background(), "What color is the sky?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Chunk.Text != "The sky is blue. Gra" {
		t.Fatalf("unexpected sources %+v", ans.Sources)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "The sky is blue. Gra") || strings.Contains(prompt, "Grass is green") {
		t.Fatalf("prompt context does not match sources:\n%s", prompt)
	}
	if !strings.Contains(prompt, "What color is the sky?") {
		t.Fatalf("prompt misses the question:\n%s", prompt)
	}
}

func TestRebuild_NoDocuments(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{})
	if _, err := f.svc.Rebuild(context.Background()); !errors.Is(err, domain.ErrNoDocuments) {
		t.Fatalf("got %v, want ErrNoDocuments", err)
	}
	if f.svc.Stats().Loaded {
		t.Fatalf("empty build produced a snapshot")
	}
}

func TestRebuild_PreservesChunkOrderUnderConcurrency(t *testing.T) {
	emb := &keywordEmbedder{vocab: []string{"zzz"}, jitter: true}
	long := domain.Document{ID: "long.txt", Text: strings.Repeat("abcdefghij", 30)}
	f := newFixture(t, emb, &stubGenerator{text: "x"}, Options{Concurrency: 8, Metric: vectorstore.MetricDot}, long)
	stats, err := f.svc.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	ix := f.svc.index.Load()
	// all vectors are zero, so every score ties and search returns insertion order
	res, err := ix.Search(domain.Vector{1}, stats.Chunks)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for i, r := range res {
		if r.Chunk.Index != i {
			t.Fatalf("result %d is chunk %d, insertion order not preserved", i, r.Chunk.Index)
		}
	}
}

func TestRebuild_FailureKeepsPreviousSnapshot(t *testing.T) {
	emb := newKeywordEmbedder()
	f := newFixture(t, emb, &stubGenerator{text: "ok"}, Options{}, skyDoc)
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	before := f.svc.Stats()

	emb.err = errors.New("provider down")
	f.source.set(domain.Document{ID: "other.txt", Text: "Completely different corpus text here."})
	if _, err := f.svc.Rebuild(context.Background()); !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Fatalf("got %v, want ErrEmbeddingFailed", err)
	}
	if got := f.svc.Stats(); got != before {
		t.Fatalf("snapshot changed after failed build: %+v vs %+v", got, before)
	}
}

func TestRebuild_ReadersSeePreviousSnapshotUntilSwap(t *testing.T) {
	emb := newKeywordEmbedder()
	emb.gateWord = "grass"
	gen := &stubGenerator{text: "ok"}
	f := newFixture(t, emb, gen, Options{}, domain.Document{ID: "sky.txt", Text: "The sky is blue."})
	if _, err := f.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	emb.gate = make(chan struct{})
	f.source.set(skyDoc)
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Rebuild(context.Background())
		done <- err
	}()

	// while the new build is blocked, questions are served from the old index
	for i := 0; i < 5; i++ {
		ans, err := f.svc.Ask(context.Background(), "sky color?")
		if err != nil {
			t.Fatalf("Ask during rebuild failed: %v", err)
		}
		if len(ans.Sources) != 1 || ans.Sources[0].Chunk.SourceID != "sky.txt" {
			t.Fatalf("reader saw a partial or new index: %+v", ans.Sources)
		}
	}
	close(emb.gate)
	if err := <-done; err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if st := f.svc.Stats(); st.Entries != 2 {
		t.Fatalf("got %d entries after swap, want 2", st.Entries)
	}
}

func TestLoadIndex_RoundTripAnswers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "docqa.idx")
	for _, format := range []vectorstore.Format{vectorstore.FormatBinary, vectorstore.FormatSQLite} {
		t.Run(string(format), func(t *testing.T) {
			builder := newFixture(t, newKeywordEmbedder(), extractive.New(3), Options{IndexPath: path, IndexFormat: format}, skyDoc)
			stats, err := builder.svc.Rebuild(context.Background())
			if err != nil {
				t.Fatalf("Rebuild failed: %v", err)
			}
			if stats.Path != path {
				t.Fatalf("got path %q, want %q", stats.Path, path)
			}
			want, err := builder.svc.Ask(context.Background(), "What color is the sky?")
			if err != nil {
				t.Fatalf("Ask failed: %v", err)
			}

			server := newFixture(t, newKeywordEmbedder(), extractive.New(3), Options{})
			if err := server.svc.LoadIndex(context.Background(), path); err != nil {
				t.Fatalf("LoadIndex failed: %v", err)
			}
			got, err := server.svc.Ask(context.Background(), "What color is the sky?")
			if err != nil {
				t.Fatalf("Ask failed: %v", err)
			}
			if got.Text != want.Text || len(got.Sources) != len(want.Sources) {
				t.Fatalf("answers differ after reload: %+v vs %+v", got, want)
			}
			for i := range want.Sources {
				if got.Sources[i] != want.Sources[i] {
					t.Fatalf("source %d differs: %+v vs %+v", i, got.Sources[i], want.Sources[i])
				}
			}
		})
	}
}

func TestLoadIndex_Mismatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.idx")
	builder := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{IndexPath: path}, skyDoc)
	if _, err := builder.svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	wrongMetric := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{Metric: vectorstore.MetricEuclidean})
	if err := wrongMetric.svc.LoadIndex(context.Background(), path); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("got %v, want configuration error for metric mismatch", err)
	}

	wrongDim := newFixture(t, &keywordEmbedder{vocab: []string{"sky"}}, &stubGenerator{text: "x"}, Options{})
	err := wrongDim.svc.LoadIndex(context.Background(), path)
	var dm *domain.DimensionMismatchError
	if !errors.As(err, &dm) || dm.Want != 5 || dm.Got != 1 {
		t.Fatalf("got %v, want dimension mismatch 5 vs 1", err)
	}
	if wrongDim.svc.Stats().Loaded {
		t.Fatalf("mismatched index was installed")
	}
}

func TestLoadIndex_Missing(t *testing.T) {
	f := newFixture(t, newKeywordEmbedder(), &stubGenerator{text: "x"}, Options{})
	err := f.svc.LoadIndex(context.Background(), filepath.Join(t.TempDir(), "missing.idx"))
	var ioErr *domain.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("got %v, want IOError", err)
	}
}

func TestNewRAGService_Validation(t *testing.T) {
	ch, _ := chunker.NewWindowChunker(10, 2)
	deps := Deps{Chunker: ch, Embedder: newKeywordEmbedder(), Generator: &stubGenerator{}}
	if _, err := NewRAGService(deps, Options{TopK: -1, MaxContextChars: 10}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("got %v, want configuration error for negative top_k", err)
	}
	if _, err := NewRAGService(deps, Options{TopK: 1}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("got %v, want configuration error for zero budget", err)
	}
	if _, err := NewRAGService(Deps{}, Options{TopK: 1, MaxContextChars: 10}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("got %v, want configuration error for missing collaborators", err)
	}
}
