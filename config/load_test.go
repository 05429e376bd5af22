package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "lifespan.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.Query.DefaultLimit)
	assert.True(t, cfg.Query.CacheEnabled)
	assert.Equal(t, 30, cfg.Query.CacheTTLSeconds)
	assert.Equal(t, 1, cfg.Maintenance.Workers)
	assert.Equal(t, 20, cfg.Maintenance.ChunkSize)
}

func TestEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("LIFESPAN_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("LIFESPAN_MAINTENANCE_CHUNK_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Maintenance.ChunkSize)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "lifespan.toml")

	content := `
[database]
path = "custom.db"

[query]
cache_enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.False(t, cfg.Query.CacheEnabled)
	// Defaults still apply for keys the file omits
	assert.Equal(t, 1024, cfg.Query.CacheSize)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
