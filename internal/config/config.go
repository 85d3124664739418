// Package config loads the service configuration from YAML with
// environment overrides for the store path, embedding dimension, and
// distance metric.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized on top of the config file. They win over
// file values.
const (
	EnvDimension = "KURA_EMBEDDING_DIMENSION"
	EnvMetric    = "KURA_DISTANCE_METRIC"
	EnvStorePath = "KURA_STORE_PATH"
)

// Config holds all configuration for the service and the CLI.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
	Backup    BackupConfig    `yaml:"backup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StoreConfig holds the durable store location: one directory per
// deployment, one subdirectory per collection.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of mock, onnx, http.
	Provider  string `yaml:"provider"`
	Dimension int    `yaml:"dimension"`

	// ONNX provider.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`

	// HTTP provider.
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Limits applied to every provider.
	CacheSize      int     `yaml:"cache_size"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffMS      int     `yaml:"backoff_ms"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	RateLimit      float64 `yaml:"rate_limit"`
}

// IndexConfig pins the similarity index construction for new collections.
// Existing collections keep the configuration they were created with.
type IndexConfig struct {
	// Kind is flat (exact) or hnsw (approximate).
	Kind string `yaml:"kind"`
	// Metric is cosine, dot, or l2.
	Metric      string     `yaml:"metric"`
	HNSW        HNSWConfig `yaml:"hnsw"`
	Compression string     `yaml:"compression"`
}

// HNSWConfig tunes the approximate index. EFSearch is the recall knob.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EFConstruction int `yaml:"ef_construction"`
	EFSearch       int `yaml:"ef_search"`
}

// SearchConfig holds query and chunking settings.
type SearchConfig struct {
	DefaultK     int     `yaml:"default_k"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	HybridWeight float64 `yaml:"hybrid_weight"`
}

// WatchConfig holds directory watch settings: files dropped into the
// directories are ingested into Collection.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Collection  string   `yaml:"collection"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault reports whether to watch recursively; true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// BackupConfig holds the S3-compatible target for snapshot uploads.
type BackupConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Load reads the config file at path, applies environment overrides and
// defaults, and expands relative paths. An empty path loads pure
// defaults-plus-environment, which is enough to run with the mock provider.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Store.Path = expandPath(cfg.Store.Path, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path, 0600 because Backup may carry credentials.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDimension); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%s: %q is not a positive integer", EnvDimension, v)
		}
		cfg.Embedding.Dimension = d
	}
	if v := os.Getenv(EnvMetric); v != "" {
		cfg.Index.Metric = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	return nil
}

// Validate rejects configurations the components would refuse later, so
// startup fails with one clear message instead of a runtime surprise.
func Validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "mock", "onnx", "http":
	default:
		return fmt.Errorf("embedding.provider: %q is not one of mock, onnx, http", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Provider == "http" && cfg.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required for the http provider")
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension: %d is not positive", cfg.Embedding.Dimension)
	}
	switch cfg.Index.Kind {
	case "flat", "hnsw":
	default:
		return fmt.Errorf("index.kind: %q is not one of flat, hnsw", cfg.Index.Kind)
	}
	switch cfg.Index.Metric {
	case "cosine", "dot", "l2":
	default:
		return fmt.Errorf("index.metric: %q is not one of cosine, dot, l2", cfg.Index.Metric)
	}
	switch cfg.Index.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("index.compression: %q is not one of none, lz4, zstd", cfg.Index.Compression)
	}
	if cfg.Search.ChunkOverlap >= cfg.Search.ChunkSize {
		return fmt.Errorf("search.chunk_overlap %d must be below chunk_size %d",
			cfg.Search.ChunkOverlap, cfg.Search.ChunkSize)
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Collection == "" {
		return fmt.Errorf("watch.collection is required when watch.directories is set")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
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
