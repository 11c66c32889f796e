package format

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Artifact is one rendered output file ready for upload.
type Artifact struct {
	Name    string
	Content []byte
}

// Render produces the full artifact set for a finished transcript: plain
// text, SRT subtitles, and a metadata sidecar.
func Render(jobID, sourceName string, transcript *types.Transcript, model string) ([]Artifact, error) {
	base := BaseName(sourceName, transcript.ProcessedAt)

	meta, err := renderMeta(jobID, sourceName, transcript, model)
	if err != nil {
		return nil, err
	}

	return []Artifact{
		{Name: base + ".txt", Content: []byte(transcript.Text + "\n")},
		{Name: base + ".srt", Content: []byte(RenderSRT(transcript.Segments))},
		{Name: base + "_meta.json", Content: meta},
	}, nil
}

// BaseName derives the artifact stem from the source file name and the
// processing time, e.g. 20250123_143022_podcast_episode.
func BaseName(sourceName string, processedAt time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	return processedAt.Format("20060102_150405") + "_" + sanitize(stem)
}

// RenderSRT renders segments as SubRip subtitles. Entries are numbered
// from 1 and timestamps use comma-separated milliseconds.
func RenderSRT(segments []types.TranscriptSegment) string {
	var b strings.Builder
	entry := 0
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		entry++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			entry, srtTimestamp(seg.Start), srtTimestamp(seg.End), text)
	}
	return b.String()
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func renderMeta(jobID, sourceName string, transcript *types.Transcript, model string) ([]byte, error) {
	metadata := map[string]interface{}{
		"job_id":           jobID,
		"source_name":      sourceName,
		"duration_seconds": transcript.DurationSeconds,
		"word_count":       transcript.WordCount(),
		"chunk_count":      transcript.ChunkCount,
		"model_used":       model,
		"language":         transcript.Language,
		"created_at":       transcript.ProcessedAt,
		"segments":         transcript.Segments,
	}
	out, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return out, nil
}

// sanitize strips path separators and characters that are unsafe in
// filenames, and bounds the length.
func sanitize(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	name = replacer.Replace(name)
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
