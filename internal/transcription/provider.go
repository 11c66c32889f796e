// Package transcription calls the speech-to-text provider, one bounded
// slice of audio at a time.
package transcription

import (
	"context"
	"io"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Provider turns one audio payload into timed segments. Implementations
// must reject payloads above the provider's size limit; the caller keeps
// slices under it.
type Provider interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (*Result, error)
}

// Result is the provider response for one payload. Segment times are
// relative to the payload, not the original file.
type Result struct {
	Text            string
	Language        string
	DurationSeconds float64
	Segments        []types.TranscriptSegment
}
