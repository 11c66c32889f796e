// Package merge reassembles per-chunk transcription results into one
// continuous transcript on the original file's timeline.
package merge

import (
	"fmt"
	"strings"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Epsilon tolerates sub-second timing slop between consecutive segments
// when verifying monotonicity.
const Epsilon = 0.5

// Merge rebases every chunk's segments by the chunk start offset and
// concatenates them in index order.
//
// All chunk results must be present; a missing chunk is an error, never a
// partial transcript. When a chunk's trailing segments spill past the next
// chunk's start (an overlap window, or encoder slop at the boundary), the
// later chunk's segments win: they were transcribed with full leading
// context. Monotonic ordering of the final list is verified, not assumed.
func Merge(plan types.ChunkPlan, results []types.ChunkResult) (*types.Transcript, error) {
	if len(plan.Chunks) == 0 {
		return nil, fmt.Errorf("empty chunk plan")
	}

	byIndex := make(map[int]types.ChunkResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}

	var segments []types.TranscriptSegment
	for _, chunk := range plan.Chunks {
		result, ok := byIndex[chunk.Index]
		if !ok {
			return nil, fmt.Errorf("missing result for chunk %d", chunk.Index)
		}

		// Later chunk wins inside the boundary region: drop already
		// accumulated segments that start at or past this chunk's offset.
		if chunk.Index > 0 {
			segments = trimFrom(segments, chunk.StartSeconds)
		}

		for _, seg := range result.Segments {
			segments = append(segments, types.TranscriptSegment{
				Start: seg.Start + chunk.StartSeconds,
				End:   seg.End + chunk.StartSeconds,
				Text:  seg.Text,
			})
		}
	}

	if err := verifyMonotonic(segments); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Text != "" {
			texts = append(texts, seg.Text)
		}
	}

	return &types.Transcript{
		Text:            strings.Join(texts, " "),
		Segments:        segments,
		DurationSeconds: plan.Chunks[len(plan.Chunks)-1].EndSeconds,
		ChunkCount:      len(plan.Chunks),
		ProcessedAt:     time.Now().UTC(),
	}, nil
}

// trimFrom removes trailing segments whose start lies at or beyond cut.
// Accumulated segments are already ordered, so only the tail is affected.
func trimFrom(segments []types.TranscriptSegment, cut float64) []types.TranscriptSegment {
	for len(segments) > 0 && segments[len(segments)-1].Start >= cut {
		segments = segments[:len(segments)-1]
	}
	return segments
}

// verifyMonotonic checks the ordering invariant on the merged list:
// starts never regress and consecutive segments overlap by at most
// Epsilon.
func verifyMonotonic(segments []types.TranscriptSegment) error {
	for i := 1; i < len(segments); i++ {
		prev, cur := segments[i-1], segments[i]
		if cur.Start < prev.Start {
			return fmt.Errorf("segment %d starts at %.2fs before segment %d at %.2fs",
				i, cur.Start, i-1, prev.Start)
		}
		if prev.End > cur.Start+Epsilon {
			return fmt.Errorf("segment %d ends at %.2fs, overlapping segment %d starting at %.2fs",
				i-1, prev.End, i, cur.Start)
		}
	}
	return nil
}
