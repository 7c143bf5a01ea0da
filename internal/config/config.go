// Package config provides configuration loading and structs for vecsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Chunk store sources.
const (
	ChunkSourceJSON   = "json"
	ChunkSourceSQLite = "sqlite"
)

// Persistence backends.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// Embedding providers.
const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
)

// Duplicate-id policies for chunks repeated inside one delta.
const (
	DuplicateAppend = "append"
	DuplicateFirst  = "first"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogFile   string          `yaml:"log_file"`
	Server    ServerConfig    `yaml:"server"`
	Chunks    ChunksConfig    `yaml:"chunks"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Sync      SyncConfig      `yaml:"sync"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Watch     WatchConfig     `yaml:"watch"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ChunksConfig selects where the consolidated chunk set is read from.
type ChunksConfig struct {
	Source       string `yaml:"source"`
	Path         string `yaml:"path"`
	DatabasePath string `yaml:"database_path"`
}

// WatchedPath returns the file whose changes should trigger a sync.
func (c *ChunksConfig) WatchedPath() string {
	if c.Source == ChunkSourceSQLite {
		return c.DatabasePath
	}
	return c.Path
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"`
	ModelPath  string       `yaml:"model_path"`
	Dimensions int          `yaml:"dimensions"`
	MaxTokens  int          `yaml:"max_tokens"`
	CacheSize  int          `yaml:"cache_size"`
	BatchSize  int          `yaml:"batch_size"`
	OpenAI     OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// IndexConfig holds persisted pair settings.
type IndexConfig struct {
	Type           string        `yaml:"type"`
	Backend        string        `yaml:"backend"`
	Dir            string        `yaml:"dir"`
	BoltPath       string        `yaml:"bolt_path"`
	LockStaleAfter time.Duration `yaml:"lock_stale_after"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
}

// TrackerConfig holds the advisory tracker location.
type TrackerConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig holds incremental sync behaviour.
type SyncConfig struct {
	DuplicatePolicy string `yaml:"duplicate_policy"`
}

// PipelineConfig lists the collaborator stages run before the embed stage.
type PipelineConfig struct {
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig describes one external collaborator command.
type StageConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
}

// WatchConfig holds chunk store watch settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// Validate reports configuration values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Chunks.Source {
	case ChunkSourceJSON, ChunkSourceSQLite:
	default:
		return fmt.Errorf("unknown chunks.source %q", c.Chunks.Source)
	}
	switch c.Embedding.Provider {
	case ProviderMock, ProviderONNX, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case BackendFile, BackendBolt:
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}
	switch c.Sync.DuplicatePolicy {
	case DuplicateAppend, DuplicateFirst:
	default:
		return fmt.Errorf("unknown sync.duplicate_policy %q", c.Sync.DuplicatePolicy)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed, or a value is invalid.
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
	ExpandPaths(&cfg, filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths makes every filesystem path in cfg absolute relative to configDir.
func ExpandPaths(cfg *Config, configDir string) {
	cfg.LogFile = expandPath(cfg.LogFile, configDir)
	cfg.Chunks.Path = expandPath(cfg.Chunks.Path, configDir)
	cfg.Chunks.DatabasePath = expandPath(cfg.Chunks.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Index.Dir = expandPath(cfg.Index.Dir, configDir)
	cfg.Index.BoltPath = expandPath(cfg.Index.BoltPath, configDir)
	cfg.Tracker.Path = expandPath(cfg.Tracker.Path, configDir)
	for i := range cfg.Pipeline.Stages {
		cfg.Pipeline.Stages[i].Dir = expandPath(cfg.Pipeline.Stages[i].Dir, configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
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
