package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
// Default paths follow the data/ layout of the chunking collaborators and are
// relative to the config directory.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Chunks.Source == "" {
		cfg.Chunks.Source = ChunkSourceJSON
	}
	if cfg.Chunks.Path == "" {
		cfg.Chunks.Path = "./data/chunks/all_chunks.json"
	}
	if cfg.Chunks.DatabasePath == "" {
		cfg.Chunks.DatabasePath = "./data/chunks/chunks.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderMock
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.OpenAI.Model == "" {
		cfg.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.OpenAI.APIKeyEnv == "" {
		cfg.Embedding.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendFile
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "./data/vector_store"
	}
	if cfg.Index.BoltPath == "" {
		cfg.Index.BoltPath = "./data/vector_store/pair.db"
	}
	if cfg.Index.LockStaleAfter == 0 {
		cfg.Index.LockStaleAfter = 10 * time.Minute
	}
	if cfg.Index.BusyTimeout == 0 {
		cfg.Index.BusyTimeout = 5 * time.Second
	}
	if cfg.Tracker.Path == "" {
		cfg.Tracker.Path = "./data/vector_store/already_embedded.yaml"
	}
	if cfg.Sync.DuplicatePolicy == "" {
		cfg.Sync.DuplicatePolicy = DuplicateAppend
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
}

// DefaultConfig returns a configuration with every default applied and paths left
// unexpanded.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
