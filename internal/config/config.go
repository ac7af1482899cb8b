// Package config loads and validates the Libris configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	liberrors "github.com/libris-dev/libris/internal/errors"
)

// DefaultConfigName is the per-user config file, looked up in the home
// directory.
const DefaultConfigName = ".libris.yaml"

// Config represents the complete Libris configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Database   DatabaseConfig   `yaml:"database"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Search     SearchConfig     `yaml:"search"`
	Lock       LockConfig       `yaml:"lock"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig configures the on-disk store location.
type DatabaseConfig struct {
	// Path is the database directory (default: ./libris_db).
	Path string `yaml:"path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	Provider string `yaml:"provider"`
	// Model is the embedding model name (Ollama only).
	Model string `yaml:"model"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// Dimensions overrides the embedding dimension (0 = auto-detect).
	Dimensions int `yaml:"dimensions"`
	// BatchSize is the number of chunks embedded per request.
	BatchSize int `yaml:"batch_size"`
	// CacheSize is the number of query embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size"`
}

// ChunkingConfig configures text chunking.
type ChunkingConfig struct {
	// Size is the chunk size in characters.
	Size int `yaml:"size"`
	// Overlap is the number of overlapping characters between chunks.
	Overlap int `yaml:"overlap"`
}

// SearchConfig configures hybrid search.
type SearchConfig struct {
	// MaxResults is the maximum number of books returned per query.
	MaxResults int `yaml:"max_results"`
	// RRFConstant is the reciprocal-rank fusion smoothing parameter.
	RRFConstant int `yaml:"rrf_constant"`
	// KeywordWeight weights the keyword ranking in fusion (0.0-1.0).
	KeywordWeight float64 `yaml:"keyword_weight"`
	// SemanticWeight weights the semantic ranking in fusion (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// LockConfig configures the cross-process database lock.
type LockConfig struct {
	// Timeout is how long Acquire waits before failing with a
	// lock-timeout error.
	Timeout time.Duration `yaml:"timeout"`
	// StaleAfter is the heartbeat age beyond which a lock record is
	// considered abandoned and may be reclaimed.
	StaleAfter time.Duration `yaml:"stale_after"`
	// RenewInterval is how often long-running holders refresh the
	// heartbeat. Must be well under StaleAfter.
	RenewInterval time.Duration `yaml:"renew_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Path: "./libris_db",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  1000,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Search: SearchConfig{
			MaxResults:     5,
			RRFConstant:    60,
			KeywordWeight:  0.4,
			SemanticWeight: 0.6,
		},
		Lock: LockConfig{
			Timeout:       30 * time.Second,
			StaleAfter:    60 * time.Second,
			RenewInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, applying defaults for missing
// fields. A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, liberrors.Wrap(liberrors.ErrCodeConfigInvalid, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, liberrors.New(liberrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse %s: %v", path, err), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from the user's home directory,
// falling back to defaults if no file exists.
func LoadDefault() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), nil
	}
	return Load(filepath.Join(home, DefaultConfigName))
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid, "database.path must not be empty")
	}
	if c.Chunking.Size <= 0 {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid, "chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid,
			"chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid,
			"embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Lock.Timeout <= 0 {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid, "lock.timeout must be positive")
	}
	if c.Lock.StaleAfter <= 0 {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid, "lock.stale_after must be positive")
	}
	// Renewal must outpace staleness or a live holder gets reclaimed.
	if c.Lock.RenewInterval <= 0 || c.Lock.RenewInterval >= c.Lock.StaleAfter/2 {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid,
			"lock.renew_interval must be positive and under half of lock.stale_after")
	}
	if c.Search.MaxResults <= 0 {
		return liberrors.Newf(liberrors.ErrCodeConfigInvalid, "search.max_results must be positive")
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return liberrors.Wrap(liberrors.ErrCodeConfigInvalid, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return liberrors.Wrap(liberrors.ErrCodeConfigInvalid, err)
	}
	return os.WriteFile(path, data, 0644)
}
