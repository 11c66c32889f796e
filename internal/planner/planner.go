// Package planner decides whether a media file needs compression and/or
// chunking before it can be sent to the transcription provider.
package planner

import (
	"fmt"
	"math"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Speech-quality bitrate clamp. Below the floor the audio stops being
// intelligible, above the ceiling compression buys nothing for speech.
const (
	FloorBitrate   = 16_000
	CeilingBitrate = 64_000

	// MinWindowSeconds bounds the recursive window halving.
	MinWindowSeconds = 60
)

// Limits carries the provider constraints the planner works against.
type Limits struct {
	TargetBytes            int64
	ProviderLimitBytes     int64
	WindowSeconds          float64
	MaxCallDurationSeconds float64
}

// Decision is the immutable outcome for one file.
type Decision struct {
	// Compress is set when the source must be re-encoded first.
	Compress bool
	// TargetBitrate is the re-encode bitrate in bits per second.
	TargetBitrate int
	// Plan always covers [0, duration); a single chunk means no splitting.
	Plan types.ChunkPlan
}

// Chunked reports whether the file will be split.
func (d Decision) Chunked() bool {
	return len(d.Plan.Chunks) > 1
}

// Plan computes the processing decision for a file of the given duration
// and size.
func Plan(durationSeconds float64, sizeBytes int64, limits Limits) (Decision, error) {
	if durationSeconds <= 0 {
		return Decision{}, fmt.Errorf("%w: non-positive duration %.2fs", types.ErrCorruptMedia, durationSeconds)
	}

	if sizeBytes <= limits.TargetBytes && durationSeconds <= limits.MaxCallDurationSeconds {
		return Decision{
			Plan: singleChunkPlan(durationSeconds),
		}, nil
	}

	bitrate := clampBitrate(durationSeconds, sizeBytes, limits.TargetBytes)

	estimated := estimateBytes(bitrate, durationSeconds)
	if estimated <= limits.ProviderLimitBytes && durationSeconds <= limits.MaxCallDurationSeconds {
		return Decision{
			Compress:      true,
			TargetBitrate: bitrate,
			Plan:          singleChunkPlan(durationSeconds),
		}, nil
	}

	plan, err := SplitPlan(durationSeconds, bitrate, limits)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Compress:      true,
		TargetBitrate: bitrate,
		Plan:          plan,
	}, nil
}

// SplitPlan partitions [0, durationSeconds) into fixed windows sized so
// that each chunk at the given bitrate stays under the provider limit.
// The window is halved until the estimate fits; hitting the minimum
// window is fatal.
func SplitPlan(durationSeconds float64, bitrateBps int, limits Limits) (types.ChunkPlan, error) {
	window := limits.WindowSeconds
	if window > limits.MaxCallDurationSeconds {
		window = limits.MaxCallDurationSeconds
	}

	for estimateBytes(bitrateBps, window) > limits.ProviderLimitBytes {
		window /= 2
		if window < MinWindowSeconds {
			return types.ChunkPlan{}, fmt.Errorf(
				"%w: %d bps cannot fit %d bytes even at %ds windows",
				types.ErrChunkWindowFloor, bitrateBps, limits.ProviderLimitBytes, MinWindowSeconds)
		}
	}

	count := int(math.Ceil(durationSeconds / window))
	chunks := make([]types.ChunkDescriptor, count)
	for i := 0; i < count; i++ {
		end := float64(i+1) * window
		if end > durationSeconds {
			end = durationSeconds
		}
		chunks[i] = types.ChunkDescriptor{
			Index:        i,
			StartSeconds: float64(i) * window,
			EndSeconds:   end,
		}
	}

	return types.ChunkPlan{WindowSeconds: window, Chunks: chunks}, nil
}

func singleChunkPlan(durationSeconds float64) types.ChunkPlan {
	return types.ChunkPlan{
		WindowSeconds: durationSeconds,
		Chunks: []types.ChunkDescriptor{
			{Index: 0, StartSeconds: 0, EndSeconds: durationSeconds},
		},
	}
}

// clampBitrate targets targetBytes over the file duration, bounded to the
// speech range and never above the source's own bitrate.
func clampBitrate(durationSeconds float64, sizeBytes, targetBytes int64) int {
	bitrate := int(float64(targetBytes) * 8 / durationSeconds)
	original := int(float64(sizeBytes) * 8 / durationSeconds)

	if bitrate > original {
		bitrate = original
	}
	if bitrate > CeilingBitrate {
		bitrate = CeilingBitrate
	}
	if bitrate < FloorBitrate {
		bitrate = FloorBitrate
	}
	return bitrate
}

func estimateBytes(bitrateBps int, seconds float64) int64 {
	return int64(float64(bitrateBps) * seconds / 8)
}
