package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// fakeSlicer writes a tiny file so the stage has something to stat.
type fakeSlicer struct {
	size int
	err  error
}

func (s *fakeSlicer) ExtractChunk(ctx context.Context, src, dst string, chunk types.ChunkDescriptor, bitrateBps int) error {
	if s.err != nil {
		return s.err
	}
	size := s.size
	if size == 0 {
		size = 16
	}
	return os.WriteFile(dst, make([]byte, size), 0644)
}

// scriptedProvider fails selected chunks and records attempt counts.
type scriptedProvider struct {
	mu       sync.Mutex
	attempts map[string]int
	fail     func(filename string, attempt int) error
}

func newScriptedProvider(fail func(string, int) error) *scriptedProvider {
	return &scriptedProvider{attempts: make(map[string]int), fail: fail}
}

func (p *scriptedProvider) Transcribe(ctx context.Context, audio io.Reader, filename string) (*Result, error) {
	p.mu.Lock()
	p.attempts[filename]++
	attempt := p.attempts[filename]
	p.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(filename, attempt); err != nil {
			return nil, err
		}
	}
	return &Result{
		Text:     "hello",
		Segments: []types.TranscriptSegment{{Start: 10, End: 20, Text: "hello"}},
	}, nil
}

func threeChunkPlan() types.ChunkPlan {
	return types.ChunkPlan{
		WindowSeconds: 600,
		Chunks: []types.ChunkDescriptor{
			{Index: 0, StartSeconds: 0, EndSeconds: 600},
			{Index: 1, StartSeconds: 600, EndSeconds: 1200},
			{Index: 2, StartSeconds: 1200, EndSeconds: 1800},
		},
	}
}

func TestTranscribeAll(t *testing.T) {
	provider := newScriptedProvider(nil)
	stage := NewStage(provider, &fakeSlicer{}, 1<<20, 3, 2, logger.New("error"))

	var persisted []int
	results, err := stage.TranscribeAll(context.Background(), "src.mp3", threeChunkPlan(), 32000, t.TempDir(),
		nil, func(r types.ChunkResult) error {
			persisted = append(persisted, r.Index)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		require.Len(t, r.Segments, 1)
	}
	assert.Len(t, persisted, 3)
}

func TestRetryBoundExactAttempts(t *testing.T) {
	provider := newScriptedProvider(func(string, int) error {
		return types.Transient(errors.New("flaky"))
	})
	plan := types.ChunkPlan{Chunks: []types.ChunkDescriptor{{Index: 0, StartSeconds: 0, EndSeconds: 600}}}
	stage := NewStage(provider, &fakeSlicer{}, 1<<20, 3, 1, logger.New("error"))

	_, err := stage.TranscribeAll(context.Background(), "src.mp3", plan, 32000, t.TempDir(), nil, nil)
	require.Error(t, err)

	var chunkErr *types.ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 0, chunkErr.Index)
	assert.Equal(t, 3, chunkErr.Attempts)
	assert.Equal(t, 3, provider.attempts["chunk_000.mp3"])
}

func TestPermanentFailureNoRetry(t *testing.T) {
	provider := newScriptedProvider(func(string, int) error {
		return errors.New("unprocessable audio")
	})
	plan := types.ChunkPlan{Chunks: []types.ChunkDescriptor{{Index: 0, StartSeconds: 0, EndSeconds: 600}}}
	stage := NewStage(provider, &fakeSlicer{}, 1<<20, 3, 1, logger.New("error"))

	_, err := stage.TranscribeAll(context.Background(), "src.mp3", plan, 32000, t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, provider.attempts["chunk_000.mp3"])
}

func TestFailClosedOnMiddleChunk(t *testing.T) {
	provider := newScriptedProvider(func(filename string, _ int) error {
		if filename == "chunk_001.mp3" {
			return errors.New("permanent")
		}
		return nil
	})
	stage := NewStage(provider, &fakeSlicer{}, 1<<20, 3, 1, logger.New("error"))

	results, err := stage.TranscribeAll(context.Background(), "src.mp3", threeChunkPlan(), 32000, t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.Nil(t, results, "no partial result set on chunk failure")

	var chunkErr *types.ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Index)
}

func TestResumeSkipsFinishedChunks(t *testing.T) {
	provider := newScriptedProvider(nil)
	stage := NewStage(provider, &fakeSlicer{}, 1<<20, 3, 1, logger.New("error"))

	done := map[int]types.ChunkResult{
		0: {Index: 0, Segments: []types.TranscriptSegment{{Start: 1, End: 2, Text: "cached"}}},
		1: {Index: 1, Segments: []types.TranscriptSegment{{Start: 3, End: 4, Text: "cached"}}},
	}

	results, err := stage.TranscribeAll(context.Background(), "src.mp3", threeChunkPlan(), 32000, t.TempDir(), done, nil)
	require.NoError(t, err)

	assert.Equal(t, "cached", results[0].Segments[0].Text)
	assert.Equal(t, "cached", results[1].Segments[0].Text)
	// Only the missing chunk hit the provider.
	assert.Len(t, provider.attempts, 1)
	assert.Equal(t, 1, provider.attempts["chunk_002.mp3"])
}

func TestOversizedSliceFailsChunk(t *testing.T) {
	provider := newScriptedProvider(nil)
	stage := NewStage(provider, &fakeSlicer{size: 2048}, 1024, 3, 1, logger.New("error"))
	plan := types.ChunkPlan{Chunks: []types.ChunkDescriptor{{Index: 0, StartSeconds: 0, EndSeconds: 600}}}

	_, err := stage.TranscribeAll(context.Background(), "src.mp3", plan, 32000, t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider limit")
	assert.Empty(t, provider.attempts)
}

func TestBackoffDelayHonorsRetryAfter(t *testing.T) {
	// Plain transient failure: exponential with at most 20% jitter.
	delay := backoffDelay(1, types.Transient(errors.New("flaky")))
	assert.GreaterOrEqual(t, delay, 800*time.Millisecond)
	assert.LessOrEqual(t, delay, 1200*time.Millisecond)

	// A provider Retry-After beyond the computed delay wins.
	throttled := &types.TransientError{Err: errors.New("rate limited"), RetryAfter: 10 * time.Second}
	assert.Equal(t, 10*time.Second, backoffDelay(1, throttled))

	// A Retry-After already covered by the backoff changes nothing.
	short := &types.TransientError{Err: errors.New("rate limited"), RetryAfter: time.Millisecond}
	delay = backoffDelay(3, short)
	assert.GreaterOrEqual(t, delay, 3200*time.Millisecond)
}

func TestSlicerFailureFailsChunk(t *testing.T) {
	provider := newScriptedProvider(nil)
	stage := NewStage(provider, &fakeSlicer{err: fmt.Errorf("ffmpeg exploded")}, 1<<20, 3, 1, logger.New("error"))
	plan := types.ChunkPlan{Chunks: []types.ChunkDescriptor{{Index: 0, StartSeconds: 0, EndSeconds: 600}}}

	_, err := stage.TranscribeAll(context.Background(), "src.mp3", plan, 32000, t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.Empty(t, provider.attempts)
}
