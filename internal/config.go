package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type EmbeddingsConfig struct {
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	APIKey    string `yaml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	CacheSize int    `yaml:"cache_size"`
}

type ChunkingConfig struct {
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
	Strip    string `yaml:"strip,omitempty"`
	Encoding string `yaml:"encoding"`
}

type IndexSettings struct {
	Trees       int           `yaml:"trees"`
	SearchK     int           `yaml:"search_k,omitempty"`
	Placeholder bool          `yaml:"placeholder"`
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`
}

type OutliersConfig struct {
	Multiplier float64 `yaml:"multiplier"`
}

type ProviderConfig struct {
	Kind    string `yaml:"kind"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

type RetrievalConfig struct {
	K          int    `yaml:"k"`
	ChatWindow int    `yaml:"chat_window"`
	Prompts    string `yaml:"prompts,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Embeddings      EmbeddingsConfig          `yaml:"embeddings"`
	Chunking        ChunkingConfig            `yaml:"chunking"`
	Index           IndexSettings             `yaml:"index"`
	Outliers        OutliersConfig            `yaml:"outliers"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty"`
	DefaultProvider string                    `yaml:"default_provider,omitempty"`
	Retrieval       RetrievalConfig           `yaml:"retrieval"`
	Log             LogConfig                 `yaml:"log"`
	Server          ServerConfig              `yaml:"server"`
}

func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Backend:   "openai",
			Model:     DefaultEmbeddingModel,
			Dimension: DefaultEmbeddingDimension,
			CacheSize: DefaultEmbeddingCacheSize,
		},
		Chunking: ChunkingConfig{
			Size:     DefaultChunkSize,
			Overlap:  DefaultChunkOverlap,
			Encoding: DefaultEncoding,
		},
		Index: IndexSettings{
			Trees: DefaultTrees,
		},
		Outliers: OutliersConfig{
			Multiplier: DefaultOutlierMultiplier,
		},
		Providers: make(map[string]ProviderConfig),
		Retrieval: RetrievalConfig{
			K:          DefaultSearchK,
			ChatWindow: DefaultChatWindow,
		},
		Log: LogConfig{
			Level: "warn",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8733",
		},
	}
}

// LoadConfig reads the scope's config file over the defaults. A missing
// file yields the defaults.
func LoadConfig(scope Scope) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(scope.ConfigPath())
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	return cfg, nil
}

func SaveConfig(scope Scope, cfg *Config) error {
	path := scope.ConfigPath()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension))
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("%w: size %d, overlap %d", ErrInvalidChunking, c.Chunking.Size, c.Chunking.Overlap))
	}
	if c.Index.Trees < 0 {
		errs = append(errs, fmt.Errorf("index.trees must not be negative, got %d", c.Index.Trees))
	}
	if c.Index.SearchK < 0 {
		errs = append(errs, fmt.Errorf("index.search_k must not be negative, got %d", c.Index.SearchK))
	}
	if c.Outliers.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("outliers.multiplier must not be negative, got %v", c.Outliers.Multiplier))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K))
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider %q is not configured", c.DefaultProvider))
		}
	}
	return errors.Join(errs...)
}

// IndexConfig places the scope's indices under its index directory.
func (c *Config) IndexConfig(scope Scope) IndexConfig {
	return IndexConfig{
		Dir:         scope.IndexPath(),
		Dimension:   c.Embeddings.Dimension,
		Trees:       c.Index.Trees,
		SearchK:     c.Index.SearchK,
		Placeholder: c.Index.Placeholder,
		LockTimeout: c.Index.LockTimeout,
	}
}

func (c *Config) ChunkerOptions() []ChunkerOption {
	opts := []ChunkerOption{
		WithChunkSize(c.Chunking.Size),
		WithChunkOverlap(c.Chunking.Overlap),
	}
	if c.Chunking.Strip != "" {
		opts = append(opts, WithStripChars(c.Chunking.Strip))
	}
	return opts
}

// Provider returns the named chat provider, or the default one when name
// is empty.
func (c *Config) Provider(name string) (string, ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	if name == "" {
		return "", ProviderConfig{}, fmt.Errorf("%w: no default provider configured", ErrNoProvider)
	}
	p, ok := c.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
	return name, p, nil
}
