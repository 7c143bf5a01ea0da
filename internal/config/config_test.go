package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
chunks:
  path: "./chunks.json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if want := filepath.Join(filepath.Dir(path), "chunks.json"); cfg.Chunks.Path != want {
		t.Errorf("chunks.path = %s, want %s", cfg.Chunks.Path, want)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, "debug: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
log_file: "./logs/pipeline.log"
index:
  dir: "./store"
tracker:
  path: "./store/already_embedded.yaml"
pipeline:
  stages:
    - name: chunk
      command: python3
      dir: "./scripts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	checks := map[string][2]string{
		"log_file":     {cfg.LogFile, filepath.Join(dir, "logs", "pipeline.log")},
		"index.dir":    {cfg.Index.Dir, filepath.Join(dir, "store")},
		"tracker.path": {cfg.Tracker.Path, filepath.Join(dir, "store", "already_embedded.yaml")},
		"stage.dir":    {cfg.Pipeline.Stages[0].Dir, filepath.Join(dir, "scripts")},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %s, want %s", name, c[0], c[1])
		}
	}
}

func TestLoad_durations(t *testing.T) {
	path := writeConfig(t, `
index:
  lock_stale_after: 30s
  busy_timeout: 2s
watch:
  enabled: true
  debounce: 500ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.LockStaleAfter != 30*time.Second {
		t.Errorf("lock_stale_after = %v", cfg.Index.LockStaleAfter)
	}
	if cfg.Index.BusyTimeout != 2*time.Second {
		t.Errorf("busy_timeout = %v", cfg.Index.BusyTimeout)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("watch = %+v", cfg.Watch)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad source", "chunks:\n  source: csv\n", "chunks.source"},
		{"bad provider", "embedding:\n  provider: magic\n", "embedding.provider"},
		{"bad backend", "index:\n  backend: s3\n", "index.backend"},
		{"bad policy", "sync:\n  duplicate_policy: last\n", "duplicate_policy"},
		{"negative dims", "embedding:\n  dimensions: -3\n", "dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Chunks.Source != ChunkSourceJSON {
		t.Errorf("default source: %s", cfg.Chunks.Source)
	}
	if cfg.Embedding.Provider != ProviderMock || cfg.Embedding.Dimensions != 384 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if cfg.Index.Backend != BackendFile || cfg.Index.Type != "memory" {
		t.Errorf("default index: %+v", cfg.Index)
	}
	if cfg.Index.BusyTimeout != 5*time.Second {
		t.Errorf("default busy timeout: %v", cfg.Index.BusyTimeout)
	}
	if cfg.Sync.DuplicatePolicy != DuplicateAppend {
		t.Errorf("default duplicate policy: %s", cfg.Sync.DuplicatePolicy)
	}
	if cfg.Search.DefaultLimit != 10 || cfg.Search.MaxLimit != 100 {
		t.Errorf("default search: %+v", cfg.Search)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestChunksConfig_WatchedPath(t *testing.T) {
	c := ChunksConfig{Source: ChunkSourceJSON, Path: "/a.json", DatabasePath: "/b.db"}
	if c.WatchedPath() != "/a.json" {
		t.Errorf("json watched path: %s", c.WatchedPath())
	}
	c.Source = ChunkSourceSQLite
	if c.WatchedPath() != "/b.db" {
		t.Errorf("sqlite watched path: %s", c.WatchedPath())
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{Server: ServerConfig{Host: "localhost", Port: 9090}}
	ApplyDefaults(cfg)
	cfg.Index.LockStaleAfter = time.Minute
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Index.LockStaleAfter != time.Minute {
		t.Errorf("loaded lock_stale_after: got %v", loaded.Index.LockStaleAfter)
	}
}
