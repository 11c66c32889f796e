package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

type captureHandler struct {
	mu    sync.Mutex
	files []types.FileCandidate
	seen  chan struct{}
}

func (h *captureHandler) handle(ctx context.Context, file types.FileCandidate) error {
	h.mu.Lock()
	h.files = append(h.files, file)
	h.mu.Unlock()
	h.seen <- struct{}{}
	return nil
}

func TestWatcherPicksUpNewMedia(t *testing.T) {
	dir := t.TempDir()
	handler := &captureHandler{seen: make(chan struct{}, 4)}

	w, err := New(dir, handler.handle, logger.New("error"))
	require.NoError(t, err)
	w.settleDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	// Give the watch loop a beat to come up.
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(dir, "standup.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	select {
	case <-handler.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the new file")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.files, 1)
	assert.Equal(t, path, handler.files[0].ID)
	assert.Equal(t, ".mp3", handler.files[0].Extension)
	assert.Equal(t, int64(5), handler.files[0].SizeBytes)
}

func TestWatcherIgnoresNonMedia(t *testing.T) {
	dir := t.TempDir()
	handler := &captureHandler{seen: make(chan struct{}, 4)}

	w, err := New(dir, handler.handle, logger.New("error"))
	require.NoError(t, err)
	w.settleDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text"), 0o644))

	select {
	case <-handler.seen:
		t.Fatal("non-media file reached the handler")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIsMediaFile(t *testing.T) {
	assert.True(t, isMediaFile("/a/b/clip.MP3"))
	assert.True(t, isMediaFile("meeting.webm"))
	assert.False(t, isMediaFile("readme.md"))
	assert.False(t, isMediaFile("archive"))
}
