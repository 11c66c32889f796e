package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.WatchFolder = "Recordings"

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.EqualValues(t, 24*1024*1024, cfg.Pipeline.TargetBytes)
	assert.EqualValues(t, 25*1024*1024, cfg.Pipeline.ProviderLimitBytes)
	assert.Equal(t, float64(600), cfg.Pipeline.ChunkWindowSeconds)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetriesPerStage)
	assert.Equal(t, 1, cfg.Pipeline.MaxConcurrentChunks)
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.Equal(t, "whisper-1", cfg.Whisper.Model)
	assert.Equal(t, 2, cfg.Worker.Count)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateRejectsTargetAboveLimit(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.WatchFolder = "Recordings"
	cfg.Pipeline.TargetBytes = 30 * 1024 * 1024
	cfg.Pipeline.ProviderLimitBytes = 25 * 1024 * 1024

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.WatchFolder = "Recordings"
	cfg.Storage.Provider = "s3"

	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresWatchFolder(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresWatchDirWhenLocalWatching(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.WatchFolder = "Recordings"
	cfg.Worker.WatchLocal = true

	assert.Error(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
pipeline:
  chunk_window_seconds: 300
  max_concurrent_chunks: 4
storage:
  provider: local
  watch_folder: inbox
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, float64(300), cfg.Pipeline.ChunkWindowSeconds)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrentChunks)
	assert.Equal(t, "inbox", cfg.Storage.WatchFolder)
	// Defaults still applied for everything unset.
	assert.Equal(t, 3, cfg.Pipeline.MaxRetriesPerStage)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
