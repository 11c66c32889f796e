package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// fakeExecutor records invocations and replays canned output.
type fakeExecutor struct {
	output string
	err    error
	calls  [][]string
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.output, f.err
}

func TestProbe(t *testing.T) {
	exec := &fakeExecutor{output: `{"format":{"duration":"2700.480000","bit_rate":"128000"}}`}
	f := New(exec)

	info, err := f.Probe(context.Background(), "talk.mp4")
	require.NoError(t, err)

	assert.InDelta(t, 2700.48, info.DurationSeconds, 0.001)
	assert.Equal(t, 128000, info.BitrateBps)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "ffprobe", exec.calls[0][0])
	assert.Contains(t, exec.calls[0], "talk.mp4")
}

func TestProbeMissingBitrate(t *testing.T) {
	exec := &fakeExecutor{output: `{"format":{"duration":"90.0"}}`}
	info, err := New(exec).Probe(context.Background(), "voice.ogg")
	require.NoError(t, err)
	assert.Equal(t, 0, info.BitrateBps)
	assert.Equal(t, 90.0, info.DurationSeconds)
}

func TestProbeCorruptMedia(t *testing.T) {
	cases := map[string]*fakeExecutor{
		"ffprobe failure":  {err: errors.New("moov atom not found")},
		"bad json":         {output: "not json"},
		"missing duration": {output: `{"format":{}}`},
		"zero duration":    {output: `{"format":{"duration":"0"}}`},
	}
	for name, exec := range cases {
		_, err := New(exec).Probe(context.Background(), "broken.mp4")
		assert.ErrorIs(t, err, types.ErrCorruptMedia, name)
	}
}

func TestCompressArgs(t *testing.T) {
	exec := &fakeExecutor{}
	f := New(exec)

	require.NoError(t, f.Compress(context.Background(), "in.mp4", "out.mp3", 48000))

	require.Len(t, exec.calls, 1)
	args := strings.Join(exec.calls[0], " ")
	assert.Contains(t, args, "ffmpeg")
	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "-b:a 48000")
	assert.Contains(t, args, "-ac 1")
}

func TestExtractChunkArgs(t *testing.T) {
	exec := &fakeExecutor{}
	f := New(exec)

	chunk := types.ChunkDescriptor{Index: 2, StartSeconds: 1200, EndSeconds: 1500}
	require.NoError(t, f.ExtractChunk(context.Background(), "in.mp3", "chunk_2.mp3", chunk, 32000))

	args := strings.Join(exec.calls[0], " ")
	assert.Contains(t, args, "-ss 1200.000")
	assert.Contains(t, args, "-t 300.000")
	assert.Contains(t, args, "chunk_2.mp3")
}

func TestExtractChunkFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("boom")}
	f := New(exec)

	err := f.ExtractChunk(context.Background(), "in.mp3", "c.mp3", types.ChunkDescriptor{}, 32000)
	assert.Error(t, err)
}
