package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/vecsync/internal/chunkstore"
	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/server"
	"go.uber.org/zap"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"vector databases", "-limit", "5"},
			expected: []string{"-limit", "5", "vector databases"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "5", "vector databases"},
			expected: []string{"-limit", "5", "vector databases"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"vector databases"},
			expected: []string{"vector databases"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-output", "json"},
			expected: []string{"-output", "json", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"hyperjump"}, "hyperjump"},
		{"multiple words", []string{"hyperjump", "profile"}, "hyperjump profile"},
		{"single quoted phrase", []string{"hyperjump profile"}, "hyperjump profile"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSearchConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		defaultPath string
		want        string
	}{
		{"no config flag", []string{"-limit", "5", "query"}, "/default.yaml", "/default.yaml"},
		{"-config present", []string{"-config", "/custom.yaml", "query"}, "/default.yaml", "/custom.yaml"},
		{"--config present", []string{"--config", "/other.yaml"}, "/default.yaml", "/other.yaml"},
		{"config at end", []string{"query", "-config", "/end.yaml"}, "/default.yaml", "/end.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchConfigPathFromArgs(tt.args, tt.defaultPath)
			if got != tt.want {
				t.Errorf("searchConfigPathFromArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSearchLimitDefaultFromConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
search:
  default_limit: 25
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if got := searchLimitDefaultFromConfig(configPath); got != 25 {
		t.Errorf("searchLimitDefaultFromConfig() = %d, want 25", got)
	}
	if got := searchLimitDefaultFromConfig(filepath.Join(dir, "nonexistent.yaml")); got != 10 {
		t.Errorf("searchLimitDefaultFromConfig(nonexistent) = %d, want 10", got)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
chunks:
  path: "./chunks.json"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
	if filepath.Base(cfg.Chunks.Path) != "chunks.json" || !filepath.IsAbs(cfg.Chunks.Path) {
		t.Errorf("chunks path = %q, want absolute path ending in chunks.json", cfg.Chunks.Path)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_defaultsWithoutConfigFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("system config present")
	}
	dir := t.TempDir()
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty for built-in defaults", resolved)
	}
	if cfg.Embedding.Provider != config.ProviderMock || cfg.Index.Backend != config.BackendFile {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !filepath.IsAbs(cfg.Index.Dir) {
		t.Errorf("index dir = %q, want absolute", cfg.Index.Dir)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("VECSYNC_TEST_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, t.TempDir())
	t.Setenv("VECSYNC_TEST_KEY", "")
	os.Unsetenv("VECSYNC_TEST_KEY")

	if err := loadEnv(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("VECSYNC_TEST_KEY"); got != "from-dotenv" {
		t.Errorf("VECSYNC_TEST_KEY = %q", got)
	}
	if err := loadEnv(""); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	config.ExpandPaths(cfg, dir)
	cfg.Embedding.Dimensions = 8
	return cfg
}

func writeChunks(t *testing.T, path string, texts ...string) {
	t.Helper()
	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		c, err := models.NewChunk(string(rune('a'+i)), text, nil)
		if err != nil {
			t.Fatal(err)
		}
		chunks = append(chunks, c)
	}
	if err := chunkstore.WriteJSONFile(path, chunks); err != nil {
		t.Fatal(err)
	}
}

func TestInitializeComponents_syncAndSearch(t *testing.T) {
	cfg := testConfig(t)
	writeChunks(t, cfg.Chunks.Path, "alpha beta", "gamma delta", "epsilon")

	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	report, err := c.Runner.Embed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report == nil || report.Embedded != 3 {
		t.Fatalf("report = %+v", report)
	}
	resp, err := c.Engine.Search(ctx, &models.SearchQuery{Query: "gamma delta", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Record.ID != "b" {
		t.Errorf("results = %+v", resp.Results)
	}
	state, found, err := c.Tracker.Load()
	if err != nil || !found || state.Count != 3 {
		t.Errorf("tracker = %+v, %v, %v", state, found, err)
	}
}

func TestInitializeComponents_unknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "word2vec"
	if _, err := initializeComponents(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestHTTPClients(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	srv := server.NewServer(c.Engine, c.Runner, c.Store, c.Tracker, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	report, err := syncViaHTTP(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if report != nil {
		t.Fatalf("sync without chunks should be skipped, got %+v", report)
	}

	writeChunks(t, cfg.Chunks.Path, "one fish", "two fish")
	report, err = syncViaHTTP(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if report == nil || report.Embedded != 2 || !report.Persisted {
		t.Fatalf("report = %+v", report)
	}

	resp, err := searchViaHTTP(ts.URL, &models.SearchQuery{Query: "two fish"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || resp.Results[0].Record.ID != "b" {
		t.Errorf("response = %+v", resp)
	}

	var status map[string]interface{}
	if err := getJSON(ts.URL+"/api/v1/status", &status); err != nil {
		t.Fatal(err)
	}
	if _, ok := status["index"]; !ok {
		t.Errorf("status missing index: %v", status)
	}

	if _, err := searchViaHTTP(ts.URL, &models.SearchQuery{}); err == nil {
		t.Error("empty query should fail")
	}
}
