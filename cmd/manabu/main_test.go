package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/server"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"cell biology", "-limit", "5"},
			expected: []string{"-limit", "5", "cell biology"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-fuzzy", "cell biology"},
			expected: []string{"-fuzzy", "cell biology"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"cell biology"},
			expected: []string{"cell biology"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "--user", "alice"},
			expected: []string{"--user", "alice", "one", "two"},
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
		{"single word", []string{"photosynthesis"}, "photosynthesis"},
		{"multiple words", []string{"cell", "biology"}, "cell biology"},
		{"single quoted phrase", []string{"cell biology"}, "cell biology"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	origWd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(origWd) }()
	require.NoError(t, os.Chdir(dir))

	cfg, resolved, err := loadConfig(defaultConfigPath)
	require.NoError(t, err)
	// t.TempDir() may sit behind a symlink (macOS /var -> /private/var).
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	assert.Equal(t, configPathCanon, resolvedCanon)
	assert.True(t, cfg.Debug, "debug should be true from cwd config.yaml")
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
watch:
  user_id: alice
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, resolved, err := loadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, configPath, resolved)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "alice", cfg.Watch.UserID)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: ./data/manabu.db
  bleve_index_path: ./data/bleve
  upload_dir: ./data/uploads
provider:
  default_type: mock
  mock_latency: 1ms
pipeline:
  workers: 2
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	return configPath
}

func TestComponents_ingestAndStatus(t *testing.T) {
	cfg, _, err := loadConfig(writeTestConfig(t))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755))

	c, err := initializeComponents(cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	inbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "cells.md"), []byte("# Cells\n\nMitochondria make energy."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "photo.png"), []byte{0x89, 'P', 'N', 'G'}, 0644))

	ctx := context.Background()
	n, err := c.ingest(ctx, "alice", inbox, cfg.Watch.Extensions)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := c.status(ctx, cfg, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", st.User)
	assert.EqualValues(t, 1, st.Stats.TotalFiles)
	assert.EqualValues(t, 1, st.Stats.CompletedFiles)
	assert.EqualValues(t, 1, st.IndexedDocs)
	assert.Equal(t, cfg.Storage.DatabasePath, st.DatabasePath)

	other, err := c.status(ctx, cfg, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 0, other.Stats.TotalFiles)

	resp, err := c.Documents.Search(ctx, "alice", models.SearchQuery{Query: "mitochondria"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "cells.md", resp.Results[0].Document.OriginalFilename)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("First line\n\nSecond paragraph"), 0644))

	res, err := parseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "First line\n\nSecond paragraph", res.CanonicalText)
	require.NotEmpty(t, res.Blocks)
	for _, b := range res.Blocks {
		assert.Equal(t, b.Text, res.CanonicalText[b.StartOffset:b.EndOffset])
	}

	_, err = parseFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestAPIClient(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPaths []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPaths = append(gotPaths, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		if r.Header.Get(server.UserIDHeader) != "alice" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/documents/search":
			_ = json.NewEncoder(w).Encode(models.SearchResponse{Query: r.URL.Query().Get("q"), Total: 0, AutoFuzzy: true})
		case r.URL.Path == "/api/v1/documents/stats":
			_ = json.NewEncoder(w).Encode(models.DocumentStats{TotalFiles: 4, CompletedFiles: 3})
		case r.URL.Path == "/api/v1/watch/directories" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string][]string{"directories": {"/inbox"}})
		case r.URL.Path == "/api/v1/watch/directories" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"directory not found"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	client := newAPIClient(ts.URL+"/", "alice")

	resp, err := client.search(models.SearchQuery{Query: "cell biology", Page: 2, Fuzzy: true})
	require.NoError(t, err)
	assert.Equal(t, "cell biology", resp.Query)
	assert.True(t, resp.AutoFuzzy)

	stats, err := client.stats()
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalFiles)

	dirs, err := client.watchDirectories()
	require.NoError(t, err)
	assert.Equal(t, []string{"/inbox"}, dirs)

	err = client.addWatchDirectory("/nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory not found")

	require.NoError(t, client.removeWatchDirectory("/inbox"))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(gotPaths[0], "GET /api/v1/documents/search?"))
	assert.Contains(t, gotPaths[0], "fuzzy=true")
	assert.Contains(t, gotPaths[0], "page=2")
	assert.Equal(t, "DELETE /api/v1/watch/directories?path=%2Finbox", gotPaths[len(gotPaths)-1])

}

func TestAPIClient_rejectedUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := newAPIClient(ts.URL, "bob").stats()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
