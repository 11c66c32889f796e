package format

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

func TestSRTTimestampFormatting(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.042, "00:01:01,042"},
		{3661.999, "01:01:01,999"},
		{-3, "00:00:00,000"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, srtTimestamp(c.seconds))
	}
}

func TestRenderSRTNumbersAndSkipsEmpty(t *testing.T) {
	srt := RenderSRT([]types.TranscriptSegment{
		{Start: 0, End: 2.5, Text: "hello there"},
		{Start: 2.5, End: 3, Text: "   "},
		{Start: 3, End: 5, Text: "general conversation"},
	})

	want := "1\n00:00:00,000 --> 00:00:02,500\nhello there\n\n" +
		"2\n00:00:03,000 --> 00:00:05,000\ngeneral conversation\n\n"
	assert.Equal(t, want, srt)
}

func TestBaseNameSanitizes(t *testing.T) {
	at := time.Date(2025, 1, 23, 14, 30, 22, 0, time.UTC)
	got := BaseName("incoming/my: weird*name?.mp3", at)
	assert.Equal(t, "20250123_143022_my__weird_name_", got)
}

func TestRenderProducesArtifactSet(t *testing.T) {
	at := time.Date(2025, 1, 23, 14, 30, 22, 0, time.UTC)
	transcript := &types.Transcript{
		Text:            "hello world",
		Language:        "en",
		DurationSeconds: 12.5,
		ChunkCount:      2,
		ProcessedAt:     at,
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 12.5, Text: "hello world"},
		},
	}

	artifacts, err := Render("job-1", "episode.mp3", transcript, "whisper-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	assert.Equal(t, "20250123_143022_episode.txt", artifacts[0].Name)
	assert.Equal(t, "hello world\n", string(artifacts[0].Content))
	assert.Equal(t, "20250123_143022_episode.srt", artifacts[1].Name)
	assert.Contains(t, string(artifacts[1].Content), "00:00:00,000 --> 00:00:12,500")

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(artifacts[2].Content, &meta))
	assert.Equal(t, "job-1", meta["job_id"])
	assert.Equal(t, float64(2), meta["chunk_count"])
	assert.Equal(t, float64(2), meta["word_count"])
	assert.Equal(t, "whisper-1", meta["model_used"])
}
