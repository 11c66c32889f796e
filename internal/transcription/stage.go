package transcription

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Backoff shape for transient provider failures.
const (
	baseDelay    = time.Second
	maxDelay     = 30 * time.Second
	jitterFactor = 0.2
)

// Slicer cuts one chunk of audio out of a source file. Satisfied by
// media.FFmpeg.
type Slicer interface {
	ExtractChunk(ctx context.Context, src, dst string, chunk types.ChunkDescriptor, bitrateBps int) error
}

// Stage runs the per-chunk transcription calls for one job. Chunks are
// independent, so they run under an errgroup with a concurrency cap tied
// to the provider's rate limits.
type Stage struct {
	provider      Provider
	slicer        Slicer
	limitBytes    int64
	maxRetries    int
	maxConcurrent int
	log           logger.Logger
}

// NewStage wires a chunk transcription stage.
func NewStage(provider Provider, slicer Slicer, limitBytes int64, maxRetries, maxConcurrent int, log logger.Logger) *Stage {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Stage{
		provider:      provider,
		slicer:        slicer,
		limitBytes:    limitBytes,
		maxRetries:    maxRetries,
		maxConcurrent: maxConcurrent,
		log:           log,
	}
}

// TranscribeAll produces one ChunkResult per chunk of the plan.
//
// done holds results already persisted from a previous run of the same
// job; their chunks are skipped, which makes a restarted job resume
// instead of re-paying for finished chunks. persist is called as each
// fresh chunk completes, before the stage returns. Any permanently failed
// chunk fails the whole stage; no partial result set is returned.
func (s *Stage) TranscribeAll(
	ctx context.Context,
	src string,
	plan types.ChunkPlan,
	bitrateBps int,
	workDir string,
	done map[int]types.ChunkResult,
	persist func(types.ChunkResult) error,
) ([]types.ChunkResult, error) {
	results := make([]types.ChunkResult, len(plan.Chunks))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, chunk := range plan.Chunks {
		if prior, ok := done[chunk.Index]; ok {
			s.log.Debug("chunk %d already transcribed, skipping", chunk.Index)
			results[chunk.Index] = prior
			continue
		}

		chunk := chunk
		g.Go(func() error {
			segments, err := s.transcribeChunk(ctx, src, chunk, bitrateBps, workDir)
			if err != nil {
				return err
			}
			result := types.ChunkResult{Index: chunk.Index, Segments: segments}
			if persist != nil {
				if err := persist(result); err != nil {
					return fmt.Errorf("persist chunk %d: %w", chunk.Index, err)
				}
			}
			mu.Lock()
			results[chunk.Index] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// transcribeChunk extracts one slice and sends it to the provider,
// retrying transient failures with exponential backoff up to maxRetries
// total attempts.
func (s *Stage) transcribeChunk(ctx context.Context, src string, chunk types.ChunkDescriptor, bitrateBps int, workDir string) ([]types.TranscriptSegment, error) {
	slicePath := filepath.Join(workDir, fmt.Sprintf("chunk_%03d.mp3", chunk.Index))
	if err := s.slicer.ExtractChunk(ctx, src, slicePath, chunk, bitrateBps); err != nil {
		return nil, &types.ChunkError{Index: chunk.Index, Attempts: 0, Err: err}
	}
	defer os.Remove(slicePath)

	info, err := os.Stat(slicePath)
	if err != nil {
		return nil, &types.ChunkError{Index: chunk.Index, Err: err}
	}
	if info.Size() > s.limitBytes {
		return nil, &types.ChunkError{
			Index: chunk.Index,
			Err:   fmt.Errorf("slice is %d bytes, provider limit is %d", info.Size(), s.limitBytes),
		}
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := os.Open(slicePath)
		if err != nil {
			return nil, &types.ChunkError{Index: chunk.Index, Attempts: attempt, Err: err}
		}
		result, err := s.provider.Transcribe(ctx, f, filepath.Base(slicePath))
		f.Close()

		if err == nil {
			s.log.Debug("chunk %d transcribed on attempt %d (%d segments)",
				chunk.Index, attempt, len(result.Segments))
			return result.Segments, nil
		}

		lastErr = err
		if !types.IsTransient(err) {
			return nil, &types.ChunkError{Index: chunk.Index, Attempts: attempt, Err: err}
		}
		if attempt == s.maxRetries {
			break
		}

		delay := backoffDelay(attempt, err)
		s.log.Warn("chunk %d attempt %d/%d failed, retrying in %s: %v",
			chunk.Index, attempt, s.maxRetries, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &types.ChunkError{Index: chunk.Index, Attempts: s.maxRetries, Err: lastErr}
}

// backoffDelay doubles per attempt with jitter, capped at maxDelay. When
// the failure carries a Retry-After from the provider longer than the
// computed delay, the provider's wait wins.
func backoffDelay(attempt int, err error) time.Duration {
	delay := baseDelay << (attempt - 1)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := 1 + jitterFactor*(2*rand.Float64()-1)
	d := time.Duration(float64(delay) * jitter)

	var te *types.TransientError
	if errors.As(err, &te) && te.RetryAfter > d {
		d = te.RetryAfter
	}
	return d
}
