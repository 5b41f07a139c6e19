package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// DocumentsConfig selects the corpus.
type DocumentsConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

// ChunkerConfig configures the sliding window. Sizes are in runes.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// ProviderConfig holds connection details shared by remote providers.
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Temperature float32 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type              string          `yaml:"type"`
	Dimension         int             `yaml:"dimension"`
	Concurrency       int             `yaml:"concurrency"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	OpenAI            *ProviderConfig `yaml:"openai,omitempty"`
	Gemini            *ProviderConfig `yaml:"gemini,omitempty"`
}

// BreakerConfig configures the circuit breaker around the generator.
type BreakerConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxRequests  uint32  `yaml:"max_requests"`
	IntervalSecs int     `yaml:"interval_secs"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type         string          `yaml:"type"`
	MaxSentences int             `yaml:"max_sentences"`
	OpenAI       *ProviderConfig `yaml:"openai,omitempty"`
	Gemini       *ProviderConfig `yaml:"gemini,omitempty"`
	Breaker      BreakerConfig   `yaml:"breaker"`
}

// IndexConfig locates the persisted index.
type IndexConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	Metric string `yaml:"metric"`
}

// RetrievalConfig tunes the query path.
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// TelemetryConfig configures trace and metric export.
type TelemetryConfig struct {
	OTLPEndpoint       string  `yaml:"otlp_endpoint"`
	Insecure           bool    `yaml:"insecure"`
	SampleRatio        float64 `yaml:"sample_ratio"`
	MetricIntervalSecs int     `yaml:"metric_interval_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Documents DocumentsConfig `yaml:"documents"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// The result is validated.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.Configf("parse %s: %v", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

// Default returns the built-in configuration: local hashing embeddings,
// extractive answers, 1000/500 rune chunks and top-3 retrieval.
func Default() *AppConfig {
	return &AppConfig{
		Documents: DocumentsConfig{Dir: "data", Extensions: []string{".txt", ".md", ".pdf"}},
		Chunker:   ChunkerConfig{Size: 1000, Overlap: 500},
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 1024, Concurrency: 8},
		Generator: GeneratorConfig{
			Type:         "extractive",
			MaxSentences: 5,
			Breaker:      BreakerConfig{Enabled: true, MaxRequests: 1, IntervalSecs: 60, TimeoutSecs: 30, FailureRatio: 0.6},
		},
		Index:     IndexConfig{Path: filepath.Join("index", "docqa.idx"), Format: "binary", Metric: "cosine"},
		Retrieval: RetrievalConfig{TopK: 3, MaxContextChars: 4000},
		Log:       LogConfig{Level: "info", Format: "text"},
		Server:    ServerConfig{Addr: ":8080"},
		Telemetry: TelemetryConfig{SampleRatio: 1, MetricIntervalSecs: 60},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Concurrency <= 0 {
		cfg.Embedder.Concurrency = 1
	}
	cfg.Embedder.OpenAI = providerDefaults(cfg.Embedder.OpenAI, cfg.Embedder.Type == "openai", "OPENAI_API_KEY", "text-embedding-3-small", 30)
	cfg.Embedder.Gemini = providerDefaults(cfg.Embedder.Gemini, cfg.Embedder.Type == "gemini", "GEMINI_API_KEY", "text-embedding-004", 30)
	cfg.Generator.OpenAI = providerDefaults(cfg.Generator.OpenAI, cfg.Generator.Type == "openai", "OPENAI_API_KEY", "gpt-4o-mini", 60)
	cfg.Generator.Gemini = providerDefaults(cfg.Generator.Gemini, cfg.Generator.Type == "gemini", "GEMINI_API_KEY", "gemini-2.0-flash", 60)
}

func providerDefaults(p *ProviderConfig, selected bool, keyEnv, model string, timeoutSecs int) *ProviderConfig {
	if p == nil {
		if !selected {
			return nil
		}
		p = &ProviderConfig{}
	}
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = keyEnv
	}
	if p.Model == "" {
		p.Model = model
	}
	if p.TimeoutSecs == 0 {
		p.TimeoutSecs = timeoutSecs
	}
	return p
}

// Validate reports the first inconsistency as a configuration error.
func (c *AppConfig) Validate() error {
	if c.Chunker.Size <= 0 {
		return domain.Configf("chunker.size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return domain.Configf("chunker.overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	if c.Retrieval.TopK < 0 {
		return domain.Configf("retrieval.top_k must not be negative, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxContextChars < c.Chunker.Size {
		return domain.Configf("retrieval.max_context_chars (%d) must be at least chunker.size (%d)", c.Retrieval.MaxContextChars, c.Chunker.Size)
	}
	switch strings.ToLower(c.Embedder.Type) {
	case "hashing", "":
		if c.Embedder.Dimension <= 0 {
			return domain.Configf("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
		}
	case "openai", "gemini":
	default:
		return domain.Configf("unknown embedder: %s", c.Embedder.Type)
	}
	if c.Embedder.RequestsPerSecond < 0 {
		return domain.Configf("embedder.requests_per_second must not be negative")
	}
	switch strings.ToLower(c.Generator.Type) {
	case "extractive", "", "openai", "gemini":
	default:
		return domain.Configf("unknown generator: %s", c.Generator.Type)
	}
	if r := c.Generator.Breaker.FailureRatio; r < 0 || r > 1 {
		return domain.Configf("generator.breaker.failure_ratio must be in [0, 1], got %v", r)
	}
	switch strings.ToLower(c.Index.Format) {
	case "binary", "sqlite", "":
	default:
		return domain.Configf("unknown index format: %s", c.Index.Format)
	}
	switch strings.ToLower(c.Index.Metric) {
	case "cosine", "dot", "euclidean", "":
	default:
		return domain.Configf("unknown similarity metric: %s", c.Index.Metric)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "":
	default:
		return domain.Configf("unknown log format: %s", c.Log.Format)
	}
	return nil
}
