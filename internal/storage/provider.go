// Package storage abstracts the file storage provider: change listing
// behind an opaque cursor, streaming download, and upload of results.
package storage

import (
	"context"
	"io"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Provider is the narrow contract the pipeline needs from a storage
// backend. Cursors are opaque strings owned by the implementation.
type Provider interface {
	// Name identifies the provider for cursor persistence.
	Name() string

	// ListChanges returns the file entries that changed since cursor and
	// the cursor marking the new position. An empty cursor means a full
	// initial listing of the watch folder.
	ListChanges(ctx context.Context, cursor string) ([]types.FileCandidate, string, error)

	// Download opens a streaming reader for the file. The caller closes it.
	Download(ctx context.Context, file types.FileCandidate) (io.ReadCloser, error)

	// Upload writes the reader's content at the given provider path.
	Upload(ctx context.Context, path string, r io.Reader) error
}
