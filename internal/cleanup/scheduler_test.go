package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclane/transcript-pipeline/internal/logger"
)

func TestSweepRemovesOnlyExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))

	old := filepath.Join(jobDir, "chunk_000.mp3")
	fresh := filepath.Join(jobDir, "chunk_001.mp3")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	s := NewScheduler(dir, time.Hour, time.Hour, logger.New("error"))
	deleted := s.Sweep()

	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestSweepPrunesEmptyJobDirs(t *testing.T) {
	dir := t.TempDir()
	jobDir := filepath.Join(dir, "job-2")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))

	expired := filepath.Join(jobDir, "source.mp3")
	require.NoError(t, os.WriteFile(expired, []byte("x"), 0o644))
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(expired, stale, stale))

	s := NewScheduler(dir, time.Hour, time.Hour, logger.New("error"))
	s.Sweep()

	assert.NoDirExists(t, jobDir)
	assert.DirExists(t, dir)
}
