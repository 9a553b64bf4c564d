package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 300, cfg.Search.CacheTTLSec)
	require.Equal(t, 50, cfg.Search.CacheMaxItems)
	require.Equal(t, 5, cfg.Search.RateLimitSec)
	require.True(t, cfg.OpenLibrary.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9090", "request_timeout_sec": 5},
		"search": {"currency": "EUR", "max_results": 3, "cache_ttl_sec": 60,
		           "cache_max_items": 10, "rate_limit_sec": 2, "source_timeout_sec": 8},
		"sites": [{"name": "ExampleBooks", "base_url": "https://books.example.com",
		           "search_url_template": "https://books.example.com/search?q={query}"}]
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "EUR", cfg.Search.Currency)
	require.Equal(t, 60, cfg.Search.CacheTTLSec)
	require.Len(t, cfg.Sites, 1)
	require.Equal(t, "ExampleBooks", cfg.Sites[0].Name)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": "9090"}}`), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("RATE_LIMIT_SEC", "9")
	t.Setenv("OPENLIBRARY_ENABLED", "false")
	t.Setenv("BOOKFINDER_DB", "/tmp/custom.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, 9, cfg.Search.RateLimitSec)
	require.False(t, cfg.OpenLibrary.Enabled)
	require.Equal(t, "/tmp/custom.db", cfg.DBPath)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
