package gateway

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soniclane/transcript-pipeline/internal/dispatch"
	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/notify"
	"github.com/soniclane/transcript-pipeline/internal/storage"
	"github.com/soniclane/transcript-pipeline/internal/store"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// supportedExtensions are the media types the pipeline will transcribe.
var supportedExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".wav": true, ".aac": true,
	".flac": true, ".ogg": true, ".mp4": true, ".mov": true,
	".webm": true, ".mkv": true,
}

// Service turns provider change notifications into transcription jobs.
// It owns the dedup and cursor handshake; HTTP framing lives in Handler.
type Service struct {
	store      *store.Store
	provider   storage.Provider
	dispatcher dispatch.Dispatcher
	secret     string
	log        logger.Logger
}

// NewService wires a gateway service.
func NewService(st *store.Store, provider storage.Provider, dispatcher dispatch.Dispatcher,
	secret string, log logger.Logger) *Service {
	return &Service{
		store:      st,
		provider:   provider,
		dispatcher: dispatcher,
		secret:     secret,
		log:        log,
	}
}

// VerifySignature checks the body HMAC in constant time. It must be
// the first thing a notification touches: a bad signature means zero
// side effects.
func (s *Service) VerifySignature(body []byte, signature string) error {
	expected := notify.Sign(s.secret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return types.ErrBadSignature
	}
	return nil
}

// ProcessNotification runs one change sync: list changes since the
// stored cursor, filter to supported media, acquire each file exactly
// once, dispatch, and finally commit the advanced cursor. The cursor
// commit comes last so a crash mid-batch re-delivers the batch; the
// acquisition step makes that re-delivery harmless.
func (s *Service) ProcessNotification(ctx context.Context) (int, error) {
	cursor, version, err := s.store.Cursor(s.provider.Name())
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	files, next, err := s.provider.ListChanges(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("list changes: %w", err)
	}

	accepted := 0
	for _, file := range files {
		if !supportedExtensions[file.Extension] {
			s.log.Debug("skipping unsupported file %s", file.Path)
			continue
		}
		ok, err := s.AcceptFile(ctx, file)
		if err != nil {
			return accepted, err
		}
		if ok {
			accepted++
		}
	}

	if next != cursor {
		if err := s.store.CommitCursor(s.provider.Name(), next, version); err != nil {
			if errors.Is(err, store.ErrCursorConflict) {
				// A concurrent delivery advanced the cursor first. The
				// files it saw were deduped above, so nothing is lost.
				s.log.Debug("cursor advanced by concurrent delivery")
				return accepted, nil
			}
			return accepted, fmt.Errorf("commit cursor: %w", err)
		}
	}
	return accepted, nil
}

// AcceptFile creates and dispatches a job if this is the first delivery
// of the file. Reports whether a new job was created.
func (s *Service) AcceptFile(ctx context.Context, file types.FileCandidate) (bool, error) {
	jobID := uuid.New().String()

	job := &types.TranscriptionJob{
		ID:        jobID,
		File:      file,
		State:     types.StateQueued,
		CreatedAt: time.Now().UTC(),
	}
	// One transaction covers the ledger acquire and the job insert: a
	// failed insert releases the file instead of stranding it behind a
	// job record that was never written.
	won, err := s.store.CreateJobForFile(job)
	if err != nil {
		return false, fmt.Errorf("create job for %s: %w", file.ID, err)
	}
	if !won {
		s.log.Debug("file %s already owned, skipping", file.ID)
		return false, nil
	}

	if err := s.dispatcher.Submit(ctx, jobID); err != nil {
		// The job is durable; the queued-job sweep will pick it up.
		s.log.Warn("dispatch of job %s deferred: %v", jobID, err)
	}
	s.log.Info("job %s created for %s (%d bytes)", jobID, file.Path, file.SizeBytes)
	return true, nil
}

// ResumeQueued re-dispatches jobs that were queued but never ran, e.g.
// after a crash or a full dispatch buffer. Called on startup and by the
// periodic sweep.
func (s *Service) ResumeQueued(ctx context.Context) error {
	for {
		job, err := s.store.NextQueued()
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		// Move it out of QUEUED before dispatch so the sweep never
		// writes over a state the runner has already advanced past; the
		// runner accepts DOWNLOADING as its entry point.
		job.State = types.StateDownloading
		if err := s.store.UpdateJob(job); err != nil {
			return err
		}
		if err := s.dispatcher.Submit(ctx, job.ID); err != nil {
			job.State = types.StateQueued
			if uerr := s.store.UpdateJob(job); uerr != nil {
				s.log.Error("reverting job %s to queued: %v", job.ID, uerr)
			}
			return err
		}
		s.log.Info("resumed queued job %s", job.ID)
	}
}
