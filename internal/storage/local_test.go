package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	watch := t.TempDir()
	out := t.TempDir()
	p, err := NewLocalProvider(watch, out)
	require.NoError(t, err)
	return p, watch
}

func writeFile(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func TestLocalListChangesInitialSync(t *testing.T) {
	p, watch := newLocal(t)
	base := time.Now().Add(-time.Hour)
	writeFile(t, watch, "one.mp3", base)
	writeFile(t, watch, "two.m4a", base.Add(time.Minute))

	files, cursor, err := p.ListChanges(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, ".mp3", files[0].Extension)
	assert.Equal(t, ".m4a", files[1].Extension)
	assert.NotEmpty(t, cursor)
}

func TestLocalListChangesOnlyNewFiles(t *testing.T) {
	p, watch := newLocal(t)
	base := time.Now().Add(-time.Hour)
	writeFile(t, watch, "old.mp3", base)

	_, cursor, err := p.ListChanges(context.Background(), "")
	require.NoError(t, err)

	// Nothing changed since the cursor.
	files, cursor2, err := p.ListChanges(context.Background(), cursor)
	require.NoError(t, err)
	assert.Empty(t, files)

	writeFile(t, watch, "new.wav", base.Add(2*time.Hour))
	files, _, err = p.ListChanges(context.Background(), cursor2)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ".wav", files[0].Extension)
}

func TestLocalListChangesRejectsBadToken(t *testing.T) {
	p, _ := newLocal(t)
	bad := &Cursor{Version: CursorVersion, Token: "not-a-number"}
	_, _, err := p.ListChanges(context.Background(), bad.Encode())
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestLocalDownloadStreamsContent(t *testing.T) {
	p, watch := newLocal(t)
	writeFile(t, watch, "clip.mp3", time.Now())

	files, _, err := p.ListChanges(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 1)

	rc, err := p.Download(context.Background(), files[0])
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
}

func TestLocalUploadCreatesNestedPath(t *testing.T) {
	watch := t.TempDir()
	out := t.TempDir()
	p, err := NewLocalProvider(watch, out)
	require.NoError(t, err)

	require.NoError(t, p.Upload(context.Background(), "transcripts/clip/clip.txt",
		strings.NewReader("hello")))

	data, err := os.ReadFile(filepath.Join(out, "transcripts", "clip", "clip.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
