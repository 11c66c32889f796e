package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/format"
	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/media"
	"github.com/soniclane/transcript-pipeline/internal/merge"
	"github.com/soniclane/transcript-pipeline/internal/notify"
	"github.com/soniclane/transcript-pipeline/internal/planner"
	"github.com/soniclane/transcript-pipeline/internal/storage"
	"github.com/soniclane/transcript-pipeline/internal/store"
	"github.com/soniclane/transcript-pipeline/internal/types"
)

// Media is the slice of ffmpeg behavior the orchestrator needs.
type Media interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	Compress(ctx context.Context, src, dst string, bitrateBps int) error
}

// ChunkTranscriber runs the per-chunk provider calls for one job.
type ChunkTranscriber interface {
	TranscribeAll(
		ctx context.Context,
		src string,
		plan types.ChunkPlan,
		bitrateBps int,
		workDir string,
		done map[int]types.ChunkResult,
		persist func(types.ChunkResult) error,
	) ([]types.ChunkResult, error)
}

// Options bundle the pipeline knobs.
type Options struct {
	Limits       planner.Limits
	Model        string
	TempDir      string
	OutputFolder string
	MaxRetries   int
	JobTimeout   time.Duration
}

// Orchestrator drives one job through the full state machine. It is
// re-entrant: a job interrupted mid-flight is re-run from the top, and
// chunk results persisted on the previous run are not paid for again.
type Orchestrator struct {
	store    *store.Store
	provider storage.Provider
	media    Media
	stage    ChunkTranscriber
	notifier notify.Notifier
	opts     Options
	log      logger.Logger

	// OnTransition, when set, observes every persisted state change.
	OnTransition func(job *types.TranscriptionJob)
}

// New wires an orchestrator.
func New(st *store.Store, provider storage.Provider, m Media, stage ChunkTranscriber,
	notifier notify.Notifier, opts Options, log logger.Logger) *Orchestrator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Hour
	}
	return &Orchestrator{
		store:    st,
		provider: provider,
		media:    m,
		stage:    stage,
		notifier: notifier,
		opts:     opts,
		log:      log,
	}
}

// Run executes the job to a terminal state. Terminal jobs are a no-op,
// which makes duplicate dispatches harmless.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.State.Terminal() {
		o.log.Debug("job %s already %s, skipping", job.ID, job.State)
		return nil
	}
	if job.State != types.StateQueued {
		o.log.Info("job %s resuming from %s", job.ID, job.State)
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	workDir := filepath.Join(o.opts.TempDir, job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return o.fail(job, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	if err := o.process(ctx, job, workDir); err != nil {
		return o.fail(job, err)
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, job *types.TranscriptionJob, workDir string) error {
	// Download.
	srcPath := filepath.Join(workDir, "source"+job.File.Extension)
	if err := o.runStage(ctx, job, types.StateDownloading, func() error {
		return o.download(ctx, job.File, srcPath)
	}); err != nil {
		return err
	}

	// Size and plan.
	var decision planner.Decision
	var duration float64
	if err := o.runStage(ctx, job, types.StateSizing, func() error {
		info, err := o.media.Probe(ctx, srcPath)
		if err != nil {
			return err
		}
		st, err := os.Stat(srcPath)
		if err != nil {
			return err
		}
		duration = info.DurationSeconds
		decision, err = planner.Plan(duration, st.Size(), o.opts.Limits)
		return err
	}); err != nil {
		return err
	}

	// Compress, when the whole file is sent in one call. Chunked jobs
	// re-encode at slice time instead.
	audioPath := srcPath
	if decision.Compress && !decision.Chunked() {
		compressed := filepath.Join(workDir, "compressed.mp3")
		if err := o.runStage(ctx, job, types.StateCompressing, func() error {
			return o.media.Compress(ctx, srcPath, compressed, decision.TargetBitrate)
		}); err != nil {
			return err
		}

		// The encoder does not hit the target exactly. If the result is
		// still over the hard limit, escalate to chunking instead of
		// re-encoding again; slices re-encode from the original source.
		st, err := os.Stat(compressed)
		if err != nil {
			return &types.StageError{Stage: types.StateCompressing, Err: err}
		}
		if st.Size() > o.opts.Limits.ProviderLimitBytes {
			o.log.Warn("job %s: compressed to %d bytes, still over limit, chunking instead",
				job.ID, st.Size())
			plan, err := planner.SplitPlan(duration, decision.TargetBitrate, o.opts.Limits)
			if err != nil {
				return &types.StageError{Stage: types.StateCompressing, Err: err}
			}
			decision.Plan = plan
		} else {
			audioPath = compressed
		}
	}

	// Persist the chunk plan before any provider call so a resumed job
	// slices the file the same way.
	if decision.Chunked() {
		if err := o.runStage(ctx, job, types.StateChunking, func() error {
			plan := decision.Plan
			job.Plan = &plan
			return nil
		}); err != nil {
			return err
		}
	} else {
		job.Plan = &decision.Plan
	}

	// Transcribe. The stage itself retries transient chunk failures, so
	// no extra retry wrapper here.
	var results []types.ChunkResult
	if err := o.advance(job, types.StateTranscribing); err != nil {
		return err
	}
	done, err := o.store.ChunkResults(job.ID)
	if err != nil {
		return err
	}
	results, err = o.stage.TranscribeAll(ctx, audioPath, *job.Plan, decision.TargetBitrate, workDir, done,
		func(r types.ChunkResult) error { return o.store.SaveChunkResult(job.ID, r) })
	if err != nil {
		return err
	}

	// Merge.
	var transcript *types.Transcript
	if err := o.runStage(ctx, job, types.StateMerging, func() error {
		var err error
		transcript, err = merge.Merge(*job.Plan, results)
		return err
	}); err != nil {
		return err
	}
	transcript.ProcessedAt = time.Now().UTC()

	// Format.
	var artifacts []format.Artifact
	if err := o.runStage(ctx, job, types.StateFormatting, func() error {
		var err error
		artifacts, err = format.Render(job.ID, job.File.Path, transcript, o.opts.Model)
		return err
	}); err != nil {
		return err
	}

	// Upload.
	if err := o.runStage(ctx, job, types.StateUploading, func() error {
		for _, artifact := range artifacts {
			dest := path.Join(o.opts.OutputFolder, artifact.Name)
			if err := o.provider.Upload(ctx, dest, bytes.NewReader(artifact.Content)); err != nil {
				return fmt.Errorf("upload %s: %w", artifact.Name, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Notify. Delivery failure never un-completes the work.
	if err := o.advance(job, types.StateNotifying); err != nil {
		return err
	}
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = path.Join(o.opts.OutputFolder, a.Name)
	}
	if err := o.notifier.Notify(ctx, notify.Event{
		JobID:     job.ID,
		State:     string(types.StateCompleted),
		File:      job.File.Path,
		Artifacts: names,
		At:        time.Now().UTC(),
	}); err != nil {
		o.log.Warn("job %s: notification failed: %v", job.ID, err)
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := o.advance(job, types.StateCompleted); err != nil {
		return err
	}
	if err := o.store.SetFileStatus(job.File.ID, store.FileCompleted); err != nil {
		o.log.Warn("job %s: marking file completed: %v", job.ID, err)
	}
	o.log.Info("job %s completed (%d chunks, %ds audio)",
		job.ID, transcript.ChunkCount, int(transcript.DurationSeconds))
	return nil
}

// runStage advances the job, then runs fn with bounded retry. Only
// transient failures are retried; attempts are recorded on the job so
// operators can see where retries went.
func (o *Orchestrator) runStage(ctx context.Context, job *types.TranscriptionJob, state types.JobState, fn func() error) error {
	if err := o.advance(job, state); err != nil {
		return err
	}

	var err error
	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		if job.Attempts == nil {
			job.Attempts = make(map[types.JobState]int)
		}
		job.Attempts[state] = attempt

		if err = fn(); err == nil {
			return nil
		}
		if !types.IsTransient(err) || attempt == o.opts.MaxRetries {
			break
		}

		delay := time.Duration(attempt*attempt) * time.Second
		o.log.Warn("job %s: %s attempt %d/%d failed, retrying in %s: %v",
			job.ID, state, attempt, o.opts.MaxRetries, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &types.StageError{Stage: state, Err: err}
}

// advance validates and persists a state transition.
func (o *Orchestrator) advance(job *types.TranscriptionJob, next types.JobState) error {
	if !isValidTransition(job.State, next) {
		return fmt.Errorf("invalid transition %s -> %s for job %s", job.State, next, job.ID)
	}
	o.log.Info("job %s: %s -> %s", job.ID, job.State, next)
	job.State = next
	if err := o.store.UpdateJob(job); err != nil {
		return fmt.Errorf("persist %s: %w", next, err)
	}
	if o.OnTransition != nil {
		o.OnTransition(job)
	}
	return nil
}

// fail moves the job to FAILED and releases the file for a future
// retry acquisition.
func (o *Orchestrator) fail(job *types.TranscriptionJob, cause error) error {
	job.Error = cause.Error()
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := o.advance(job, types.StateFailed); err != nil {
		o.log.Error("job %s: persisting failure: %v", job.ID, err)
	}
	if err := o.store.SetFileStatus(job.File.ID, store.FileFailed); err != nil {
		o.log.Warn("job %s: marking file failed: %v", job.ID, err)
	}

	if nerr := o.notifier.Notify(context.Background(), notify.Event{
		JobID: job.ID,
		State: string(types.StateFailed),
		File:  job.File.Path,
		Error: cause.Error(),
		At:    now,
	}); nerr != nil {
		o.log.Warn("job %s: failure notification failed: %v", job.ID, nerr)
	}
	return cause
}

func (o *Orchestrator) download(ctx context.Context, file types.FileCandidate, dest string) error {
	rc, err := o.provider.Download(ctx, file)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}
