// Package config provides configuration loading and structs for the Passage server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Generator GeneratorConfig `yaml:"generator"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Registry  RegistryConfig  `yaml:"registry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// IndexConfig selects and configures the vector backend.
type IndexConfig struct {
	// Backend is "memory" or "qdrant".
	Backend    string `yaml:"backend"`
	Dimensions int    `yaml:"dimensions"`
	// SnapshotPath is where the memory backend persists its contents.
	SnapshotPath string `yaml:"snapshot_path"`
	// ResetOnStartup drops all points when the index is constructed.
	ResetOnStartup bool          `yaml:"reset_on_startup"`
	QdrantURL      string        `yaml:"qdrant_url"`
	QdrantAPIKey   string        `yaml:"qdrant_api_key"`
	Collection     string        `yaml:"collection"`
	Timeout        time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds settings for the remote embedding service.
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// GeneratorConfig holds settings for the remote completion service.
type GeneratorConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
	// ContextTokens caps the estimated token size of the retrieved context
	// included in a prompt. Passages beyond the cap are dropped, not split.
	ContextTokens int `yaml:"context_tokens"`
}

// ChunkingConfig holds chunk window settings (in words).
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
	// ReadRetries bounds retries of search calls when the backend is unreachable.
	ReadRetries int `yaml:"read_retries"`
}

// RegistryConfig holds the document registry database path.
type RegistryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig holds ingest directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, and
// expands relative paths. Returns an error if the file cannot be read,
// parsed, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Index.SnapshotPath = expandPath(cfg.Index.SnapshotPath, configDir)
	cfg.Registry.DatabasePath = expandPath(cfg.Registry.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func Validate(cfg *Config) error {
	if cfg.Index.Backend != "memory" && cfg.Index.Backend != "qdrant" {
		return fmt.Errorf("index.backend must be \"memory\" or \"qdrant\", got %q", cfg.Index.Backend)
	}
	if cfg.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive, got %d", cfg.Index.Dimensions)
	}
	if cfg.Chunking.ChunkSize <= cfg.Chunking.ChunkOverlap {
		return fmt.Errorf("chunking.chunk_size (%d) must exceed chunk_overlap (%d)",
			cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	}
	if cfg.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("chunking.chunk_overlap must not be negative, got %d", cfg.Chunking.ChunkOverlap)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
