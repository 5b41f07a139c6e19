package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docqa/internal/domain"
	"docqa/internal/generation"
	"docqa/internal/telemetry"
	"docqa/internal/vectorstore"
)

// Options tunes retrieval and index handling.
type Options struct {
	TopK            int
	MaxContextChars int
	// Concurrency bounds parallel embedding calls during a build.
	Concurrency int
	Metric      vectorstore.Metric
	// IndexPath is where Rebuild persists the index; empty skips persisting.
	IndexPath   string
	IndexFormat vectorstore.Format
}

// Deps are the collaborators of the service. Logger and Metrics may be nil.
type Deps struct {
	Source    domain.DocumentSource
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Generator domain.Generator
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// RAGService builds the vector index and answers questions against it.
// Questions are served from an immutable index snapshot; Rebuild swaps in
// a new snapshot atomically, so readers never see a partial index.
type RAGService struct {
	source    domain.DocumentSource
	chunker   domain.Chunker
	embedder  domain.Embedder
	generator domain.Generator
	opts      Options
	log       *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer

	index   atomic.Pointer[vectorstore.Index]
	buildMu sync.Mutex
}

// NewRAGService validates options and wires the collaborators.
func NewRAGService(deps Deps, opts Options) (*RAGService, error) {
	if deps.Chunker == nil || deps.Embedder == nil || deps.Generator == nil {
		return nil, domain.Configf("chunker, embedder and generator are required")
	}
	if opts.TopK < 0 {
		return nil, domain.Configf("top_k must not be negative, got %d", opts.TopK)
	}
	if opts.MaxContextChars <= 0 {
		return nil, domain.Configf("max_context_chars must be positive, got %d", opts.MaxContextChars)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Metric == 0 {
		opts.Metric = vectorstore.MetricCosine
	}
	if opts.IndexFormat == "" {
		opts.IndexFormat = vectorstore.FormatBinary
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	metrics := deps.Metrics
	if metrics == nil {
		var err error
		if metrics, err = telemetry.NewMetrics(); err != nil {
			return nil, err
		}
	}
	return &RAGService{
		source:    deps.Source,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		generator: deps.Generator,
		opts:      opts,
		log:       log,
		metrics:   metrics,
		tracer:    otel.Tracer("docqa/service"),
	}, nil
}

// IndexStats describes the served snapshot.
type IndexStats struct {
	Loaded    bool   `json:"loaded"`
	Entries   int    `json:"entries"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

func (s *RAGService) Stats() IndexStats {
	ix := s.index.Load()
	if ix == nil {
		return IndexStats{Metric: s.opts.Metric.String()}
	}
	return IndexStats{Loaded: true, Entries: ix.Len(), Dimension: ix.Dimension(), Metric: ix.Metric().String()}
}

// LoadIndex reads a persisted index and makes it the served snapshot. The
// artifact's metric must match the configured one and its dimension must
// match a probe embedding from the live provider.
func (s *RAGService) LoadIndex(ctx context.Context, path string) error {
	ctx, span := s.tracer.Start(ctx, "rag.load_index", trace.WithAttributes(attribute.String("index.path", path)))
	defer span.End()

	ix, err := vectorstore.LoadContext(ctx, path)
	if err != nil {
		return failSpan(span, err)
	}
	if ix.Metric() != s.opts.Metric {
		return failSpan(span, domain.Configf("index %s was built with metric %s, configured metric is %s", path, ix.Metric(), s.opts.Metric))
	}
	probe, err := s.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return failSpan(span, &domain.ProviderError{Kind: domain.ErrEmbeddingFailed, Provider: s.embedder.Name(), Err: err})
	}
	if len(probe) != ix.Dimension() {
		return failSpan(span, fmt.Errorf("index %s does not match embedder %s: %w", path, s.embedder.Name(),
			&domain.DimensionMismatchError{Position: -1, Want: ix.Dimension(), Got: len(probe)}))
	}
	s.index.Store(ix)
	s.log.Info("index loaded", "path", path, "entries", ix.Len(), "dimension", ix.Dimension(), "metric", ix.Metric().String())
	return nil
}

// Ask answers a question in three phases: embed the question, retrieve the
// top-k chunks, then generate from a budgeted context block. A failure in any
// phase ends the query with a typed error; nothing is retried.
func (s *RAGService) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	start := time.Now()
	id := uuid.NewString()
	log := s.log.With("query_id", id)
	ctx, span := s.tracer.Start(ctx, "rag.ask", trace.WithAttributes(attribute.String("query.id", id)))
	defer span.End()

	answer, err := s.ask(ctx, log, id, strings.TrimSpace(question))
	outcome := outcomeOf(err)
	s.metrics.RecordQuery(ctx, outcome, time.Since(start).Seconds())
	if err != nil {
		log.Warn("query failed", "outcome", outcome, "error", err)
		return nil, failSpan(span, err)
	}
	log.Info("query answered", "sources", len(answer.Sources), "duration", time.Since(start))
	return answer, nil
}

func (s *RAGService) ask(ctx context.Context, log *slog.Logger, id, question string) (*domain.Answer, error) {
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	ix := s.index.Load()
	if ix == nil {
		return nil, domain.ErrNoCorpus
	}

	// Embed
	embedCtx, span := s.tracer.Start(ctx, "rag.embed")
	vec, err := s.embedder.Embed(embedCtx, question)
	span.End()
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ErrEmbeddingFailed, Provider: s.embedder.Name(), Err: err}
	}

	// Retrieve
	_, span = s.tracer.Start(ctx, "rag.retrieve", trace.WithAttributes(attribute.Int("retrieval.k", s.opts.TopK)))
	results, err := ix.Search(vec, s.opts.TopK)
	span.End()
	if err != nil {
		if errors.Is(err, domain.ErrEmptyIndex) {
			return nil, domain.ErrNoCorpus
		}
		return nil, err
	}
	block, used := AssembleContext(results, s.opts.MaxContextChars)
	if dropped := len(results) - len(used); dropped > 0 {
		s.metrics.ContextDropped.Add(ctx, int64(dropped))
		log.Debug("context budget reached", "retrieved", len(results), "used", len(used))
	}

	// Generate
	genCtx, span := s.tracer.Start(ctx, "rag.generate", trace.WithAttributes(attribute.String("generator", s.generator.Name())))
	text, err := s.generator.Generate(genCtx, generation.RenderPrompt(block, question))
	span.End()
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("generator returned an empty answer")
	}
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ErrGenerationFailed, Provider: s.generator.Name(), Err: err}
	}

	return &domain.Answer{ID: id, Question: question, Text: strings.TrimSpace(text), Sources: used}, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoCorpus):
		return "no_corpus"
	case errors.Is(err, domain.ErrEmbeddingFailed):
		return "embedding_failed"
	case errors.Is(err, domain.ErrGenerationFailed):
		return "generation_failed"
	case errors.Is(err, domain.ErrEmptyQuestion):
		return "invalid"
	default:
		return "error"
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
