package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the failure taxonomy. Fatal errors move a job to
// FAILED without retry; transient errors are retried at the stage level.
var (
	// ErrBadSignature rejects a request before any other processing.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrUnsupportedFile marks a candidate filtered by the extension
	// allow-list. Never surfaced to the sender.
	ErrUnsupportedFile = errors.New("unsupported file extension")

	// ErrQuotaExceeded is fatal for the current run.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrCorruptMedia is fatal, the source cannot be decoded.
	ErrCorruptMedia = errors.New("corrupt media")

	// ErrChunkWindowFloor is fatal: halving the chunk window reached the
	// minimum length and a chunk still exceeds the provider limit.
	ErrChunkWindowFloor = errors.New("chunk window floor reached")
)

// TransientError wraps a failure worth retrying with backoff.
type TransientError struct {
	Err error
	// RetryAfter is the wait the provider asked for before the next
	// attempt. Zero when the provider did not say.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable at the stage level.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ChunkError reports a permanently failed chunk. It fails the whole job:
// partial transcripts are never emitted.
type ChunkError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// StageError records which pipeline stage a job died in.
type StageError struct {
	Stage JobState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
