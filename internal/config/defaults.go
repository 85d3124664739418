package config

// ApplyDefaults fills zero values in cfg with the shipped defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = 60
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./kura_db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.BackoffMS == 0 {
		cfg.Embedding.BackoffMS = 200
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.MaxConcurrent == 0 {
		cfg.Embedding.MaxConcurrent = 4
	}
	if cfg.Index.Kind == "" {
		cfg.Index.Kind = "flat"
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "cosine"
	}
	if cfg.Index.HNSW.M == 0 {
		cfg.Index.HNSW.M = 16
	}
	if cfg.Index.HNSW.EFConstruction == 0 {
		cfg.Index.HNSW.EFConstruction = 200
	}
	if cfg.Index.HNSW.EFSearch == 0 {
		cfg.Index.HNSW.EFSearch = 100
	}
	if cfg.Index.Compression == "" {
		cfg.Index.Compression = "zstd"
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.ChunkSize == 0 {
		cfg.Search.ChunkSize = 1000
	}
	if cfg.Search.ChunkOverlap == 0 {
		cfg.Search.ChunkOverlap = 200
	}
	if cfg.Search.HybridWeight == 0 {
		cfg.Search.HybridWeight = 0.5
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods", ".rtf"}
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = "kura"
	}
}
