package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// BuildStats summarizes a completed build.
type BuildStats struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Dimension int           `json:"dimension"`
	Path      string        `json:"path,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Rebuild reads the document source, chunks and embeds every document,
// builds a new index, persists it and then makes it the served snapshot.
// Concurrent calls are serialized. On failure the previous snapshot and any
// previously persisted artifact stay in place.
func (s *RAGService) Rebuild(ctx context.Context) (BuildStats, error) {
	if s.source == nil {
		return BuildStats{}, domain.Configf("no document source configured")
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "rag.build")
	defer span.End()

	stats, ix, err := s.build(ctx)
	stats.Duration = time.Since(start)
	if err != nil {
		s.metrics.RecordBuild(ctx, outcomeOf(err), 0, stats.Duration.Seconds())
		s.log.Error("index build failed", "error", err, "duration", stats.Duration)
		return stats, failSpan(span, err)
	}
	s.index.Store(ix)
	span.SetAttributes(attribute.Int("build.documents", stats.Documents), attribute.Int("build.chunks", stats.Chunks))
	s.metrics.RecordBuild(ctx, "ok", stats.Chunks, stats.Duration.Seconds())
	s.log.Info("index built", "documents", stats.Documents, "chunks", stats.Chunks,
		"dimension", stats.Dimension, "path", stats.Path, "duration", stats.Duration)
	return stats, nil
}

func (s *RAGService) build(ctx context.Context) (BuildStats, *vectorstore.Index, error) {
	var stats BuildStats
	docs, err := s.source.Documents(ctx)
	if err != nil {
		return stats, nil, err
	}
	stats.Documents = len(docs)

	var chunks []domain.Chunk
	for _, doc := range docs {
		for c := range s.chunker.Split(doc) {
			chunks = append(chunks, c)
		}
	}
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return stats, nil, domain.ErrNoDocuments
	}
	s.log.Debug("documents chunked", "documents", len(docs), "chunks", len(chunks))

	entries, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return stats, nil, err
	}
	ix, err := vectorstore.Build(s.opts.Metric, entries)
	if err != nil {
		return stats, nil, err
	}
	stats.Dimension = ix.Dimension()

	if s.opts.IndexPath != "" {
		_, span := s.tracer.Start(ctx, "rag.persist", trace.WithAttributes(attribute.String("index.path", s.opts.IndexPath)))
		err := ix.PersistAs(ctx, s.opts.IndexPath, s.opts.IndexFormat)
		span.End()
		if err != nil {
			return stats, nil, err
		}
		stats.Path = s.opts.IndexPath
	}
	return stats, ix, nil
}

// embedChunks embeds chunks with bounded parallelism. Each result lands in
// the slot of its chunk, so entry order matches chunk order regardless of
// completion order. The first failure cancels the remaining calls.
func (s *RAGService) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "rag.embed_chunks", trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()

	entries := make([]domain.Entry, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := s.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return &domain.ProviderError{
					Kind:     domain.ErrEmbeddingFailed,
					Provider: s.embedder.Name(),
					Err:      fmt.Errorf("chunk %s: %w", chunks[i].ID(), err),
				}
			}
			entries[i] = domain.Entry{Vector: vec, Chunk: chunks[i]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
