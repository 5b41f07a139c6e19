// Package app assembles the retrieval service from configuration.
package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	embgemini "docqa/internal/embedding/gemini"
	"docqa/internal/embedding/hashing"
	embopenai "docqa/internal/embedding/openai"
	"docqa/internal/generation"
	"docqa/internal/generation/extractive"
	gengemini "docqa/internal/generation/gemini"
	genopenai "docqa/internal/generation/openai"
	"docqa/internal/logger"
	"docqa/internal/service"
	"docqa/internal/source"
	"docqa/internal/telemetry"
	"docqa/internal/vectorstore"
)

// Version is reported to the trace and metric exporters.
var Version = "dev"

// App owns the service and everything that must be released on exit.
type App struct {
	Config  *config.AppConfig
	Log     *slog.Logger
	Service *service.RAGService

	closers []func(context.Context) error
}

// Option adjusts assembly.
type Option func(*options)

type options struct {
	source domain.DocumentSource
	log    *slog.Logger
	meters metric.MeterProvider
}

// WithSource replaces the configured documents directory.
func WithSource(src domain.DocumentSource) Option {
	return func(o *options) { o.source = src }
}

// WithLogger skips building a logger from config.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMeterProvider records metrics on mp instead of the OTLP exporter
// configured under telemetry.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

// New builds the logger, tracer, meter, providers and service described by cfg.
// On error everything already opened is released.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Log = o.log
	if a.Log == nil {
		log, closer, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
		if err != nil {
			return nil, domain.Configf("logger: %v", err)
		}
		a.Log = log
		a.onClose(func(context.Context) error { return closer.Close() })
	}

	shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		ServiceName: "docqa",
		Version:     Version,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(shutdown)

	meters := o.meters
	if meters == nil {
		mp, shutdown, err := telemetry.InitMeter(ctx, telemetry.MeterConfig{
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Interval:    seconds(cfg.Telemetry.MetricIntervalSecs),
			ServiceName: "docqa",
			Version:     Version,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(shutdown)
		meters = mp
	}

	emb, err := a.buildEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	gen, err := a.buildGenerator(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.NewWindowChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}
	metric, err := vectorstore.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}
	format, err := vectorstore.ParseFormat(cfg.Index.Format)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetricsWith(meters.Meter(telemetry.InstrumentationName))
	if err != nil {
		return nil, err
	}

	src := o.source
	if src == nil {
		src = source.NewDir(cfg.Documents.Dir, cfg.Documents.Extensions)
	}
	svc, err := service.NewRAGService(service.Deps{
		Source:    src,
		Chunker:   ch,
		Embedder:  emb,
		Generator: gen,
		Logger:    a.Log,
		Metrics:   metrics,
	}, service.Options{
		TopK:            cfg.Retrieval.TopK,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		Concurrency:     cfg.Embedder.Concurrency,
		Metric:          metric,
		IndexPath:       cfg.Index.Path,
		IndexFormat:     format,
	})
	if err != nil {
		return nil, err
	}
	a.Service = svc
	a.Log.Debug("service assembled", "embedder", emb.Name(), "generator", gen.Name(),
		"chunk_size", cfg.Chunker.Size, "chunk_overlap", cfg.Chunker.Overlap, "metric", metric.String())
	return a, nil
}

// LoadPersisted serves the index stored at the configured path. A missing
// artifact is not an error: the service simply starts without a corpus.
func (a *App) LoadPersisted(ctx context.Context) error {
	path := a.Config.Index.Path
	if path == "" {
		return nil
	}
	err := a.Service.LoadIndex(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		a.Log.Info("no persisted index, build one to answer questions", "path", path)
		return nil
	}
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range slices.Backward(a.closers) {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildEmbedder(ctx context.Context) (domain.Embedder, error) {
	cfg := a.Config.Embedder
	var emb domain.Embedder
	switch strings.ToLower(cfg.Type) {
	case "hashing", "":
		h, err := hashing.NewEmbedder(cfg.Dimension)
		if err != nil {
			return nil, err
		}
		emb = h
	case "openai":
		if cfg.OpenAI == nil {
			return nil, domain.Configf("openai embedder config missing")
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   seconds(cfg.OpenAI.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		emb = client
	case "gemini":
		if cfg.Gemini == nil {
			return nil, domain.Configf("gemini embedder config missing")
		}
		client, err := embgemini.NewClient(ctx, embgemini.Config{
			APIKeyEnv: cfg.Gemini.APIKeyEnv,
			Model:     cfg.Gemini.Model,
			Timeout:   seconds(cfg.Gemini.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		emb = client
	default:
		return nil, domain.Configf("unknown embedder: %s", cfg.Type)
	}
	return embedding.WithRateLimit(emb, cfg.RequestsPerSecond, cfg.Concurrency), nil
}

func (a *App) buildGenerator(ctx context.Context) (domain.Generator, error) {
	cfg := a.Config.Generator
	var gen domain.Generator
	switch strings.ToLower(cfg.Type) {
	case "extractive", "":
		return extractive.New(cfg.MaxSentences), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, domain.Configf("openai generator config missing")
		}
		client, err := genopenai.NewClient(genopenai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Timeout:     seconds(cfg.OpenAI.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		gen = client
	case "gemini":
		if cfg.Gemini == nil {
			return nil, domain.Configf("gemini generator config missing")
		}
		client, err := gengemini.NewClient(ctx, gengemini.Config{
			APIKeyEnv:   cfg.Gemini.APIKeyEnv,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			MaxTokens:   int32(cfg.Gemini.MaxTokens),
			Timeout:     seconds(cfg.Gemini.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		gen = client
	default:
		return nil, domain.Configf("unknown generator: %s", cfg.Type)
	}

	// The breaker only wraps remote generators.
	if !cfg.Breaker.Enabled {
		return gen, nil
	}
	return generation.WithBreaker(gen, generation.BreakerConfig{
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     seconds(cfg.Breaker.IntervalSecs),
		Timeout:      seconds(cfg.Breaker.TimeoutSecs),
		FailureRatio: cfg.Breaker.FailureRatio,
		MinRequests:  3,
	}, a.Log), nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
