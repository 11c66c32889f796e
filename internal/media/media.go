// Package media wraps the ffmpeg/ffprobe invocations used by the
// pipeline: probing duration, re-encoding toward a target size, and
// cutting time slices for chunked transcription.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Speech-oriented encode settings, shared by compression and slicing:
// mono at a reduced sample rate keeps chunks small without hurting
// transcription accuracy.
const (
	sampleRate = "22050"
	channels   = "1"
	audioCodec = "libmp3lame"
)

// Info is the probed shape of a media file.
type Info struct {
	DurationSeconds float64
	BitrateBps      int
}

// FFmpeg performs media operations through an Executor.
type FFmpeg struct {
	exec Executor
}

// New creates an FFmpeg processor.
func New(exec Executor) *FFmpeg {
	return &FFmpeg{exec: exec}
}

// probeFormat matches the ffprobe -of json format block.
type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe reads duration and bitrate. An unreadable or zero-duration file
// is reported as corrupt media.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	out, err := f.exec.Execute(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration,bit_rate",
		"-of", "json",
		path,
	)
	if err != nil {
		return Info{}, fmt.Errorf("%w: probe %s: %v", types.ErrCorruptMedia, path, err)
	}

	var probed probeFormat
	if err := json.Unmarshal([]byte(out), &probed); err != nil {
		return Info{}, fmt.Errorf("%w: unparseable probe output for %s", types.ErrCorruptMedia, path)
	}

	duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return Info{}, fmt.Errorf("%w: no usable duration for %s", types.ErrCorruptMedia, path)
	}

	// bit_rate can be absent for some containers; duration is the only
	// hard requirement.
	bitrate, _ := strconv.Atoi(probed.Format.BitRate)

	return Info{DurationSeconds: duration, BitrateBps: bitrate}, nil
}

// Compress re-encodes src into dst as mono mp3 at the target bitrate,
// dropping any video stream.
func (f *FFmpeg) Compress(ctx context.Context, src, dst string, bitrateBps int) error {
	_, err := f.exec.Execute(ctx, "ffmpeg",
		"-i", src,
		"-vn",
		"-ac", channels,
		"-ar", sampleRate,
		"-c:a", audioCodec,
		"-b:a", strconv.Itoa(bitrateBps),
		"-y",
		dst,
	)
	if err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	return nil
}

// ExtractChunk cuts the [start, end) slice of src into dst, re-encoding
// at the given bitrate so the slice stays under the provider limit.
func (f *FFmpeg) ExtractChunk(ctx context.Context, src, dst string, chunk types.ChunkDescriptor, bitrateBps int) error {
	_, err := f.exec.Execute(ctx, "ffmpeg",
		"-ss", formatSeconds(chunk.StartSeconds),
		"-i", src,
		"-t", formatSeconds(chunk.Duration()),
		"-vn",
		"-ac", channels,
		"-ar", sampleRate,
		"-c:a", audioCodec,
		"-b:a", strconv.Itoa(bitrateBps),
		"-y",
		dst,
	)
	if err != nil {
		return fmt.Errorf("extract chunk %d of %s: %w", chunk.Index, src, err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
