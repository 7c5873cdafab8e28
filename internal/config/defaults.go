package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Index.Dimensions == 0 {
		cfg.Index.Dimensions = 384
	}
	if cfg.Index.SnapshotPath == "" {
		cfg.Index.SnapshotPath = "/usr/local/var/passage/data/index/snapshot.bin"
	}
	if cfg.Index.QdrantURL == "" {
		cfg.Index.QdrantURL = "http://127.0.0.1:6333"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "chunks"
	}
	if cfg.Index.Timeout == 0 {
		cfg.Index.Timeout = 15 * time.Second
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-minilm"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Generator.BaseURL == "" {
		cfg.Generator.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "llama3.2:1b"
	}
	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = 120 * time.Second
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 256
	}
	if cfg.Generator.ContextTokens == 0 {
		cfg.Generator.ContextTokens = 1800
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 180
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 30
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 4
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
	if cfg.Retrieval.ReadRetries == 0 {
		cfg.Retrieval.ReadRetries = 2
	}
	if cfg.Registry.DatabasePath == "" {
		cfg.Registry.DatabasePath = "/usr/local/var/passage/data/db/documents.db"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
