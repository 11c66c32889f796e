package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// LocalProvider implements Provider over a directory on disk. It backs
// local ingestion and keeps tests independent of any remote service.
type LocalProvider struct {
	watchDir  string
	outputDir string
}

// NewLocalProvider validates the watched directory and prepares the
// output root.
func NewLocalProvider(watchDir, outputDir string) (*LocalProvider, error) {
	info, err := os.Stat(watchDir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %s is not a directory", watchDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &LocalProvider{watchDir: watchDir, outputDir: outputDir}, nil
}

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// ListChanges returns files modified strictly after the cursor's
// high-water mark. The cursor token is the newest modification time seen,
// in unix nanoseconds.
func (p *LocalProvider) ListChanges(ctx context.Context, cursor string) ([]types.FileCandidate, string, error) {
	decoded, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var since time.Time
	if !decoded.IsEmpty() {
		nanos, err := strconv.ParseInt(decoded.Token, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad local token %q", ErrInvalidCursor, decoded.Token)
		}
		since = time.Unix(0, nanos)
	}

	entries, err := os.ReadDir(p.watchDir)
	if err != nil {
		return nil, "", fmt.Errorf("read watch dir: %w", err)
	}

	highWater := since
	var out []types.FileCandidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(since) {
			continue
		}
		out = append(out, types.FileCandidate{
			ID:         filepath.Join(p.watchDir, entry.Name()),
			Path:       filepath.Join(p.watchDir, entry.Name()),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
			Extension:  strings.ToLower(filepath.Ext(entry.Name())),
		})
		if info.ModTime().After(highWater) {
			highWater = info.ModTime()
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedAt.Before(out[j].ModifiedAt) })

	next := &Cursor{Version: CursorVersion, Token: strconv.FormatInt(highWater.UnixNano(), 10)}
	return out, next.Encode(), nil
}

// Download opens the file for streaming.
func (p *LocalProvider) Download(ctx context.Context, file types.FileCandidate) (io.ReadCloser, error) {
	f, err := os.Open(file.ID)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.ID, err)
	}
	return f, nil
}

// Upload writes content under the output root.
func (p *LocalProvider) Upload(ctx context.Context, providerPath string, r io.Reader) error {
	dest := filepath.Join(p.outputDir, filepath.FromSlash(providerPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}
