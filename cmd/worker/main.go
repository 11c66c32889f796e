// The worker binary runs the pipeline without the HTTP gateway: it
// ingests files dropped into a local directory and periodically sweeps
// for queued jobs, which suits single-machine deployments.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/cleanup"
	"github.com/soniclane/transcript-pipeline/internal/config"
	"github.com/soniclane/transcript-pipeline/internal/dispatch"
	"github.com/soniclane/transcript-pipeline/internal/gateway"
	"github.com/soniclane/transcript-pipeline/internal/logger"
	"github.com/soniclane/transcript-pipeline/internal/media"
	"github.com/soniclane/transcript-pipeline/internal/notify"
	"github.com/soniclane/transcript-pipeline/internal/orchestrator"
	"github.com/soniclane/transcript-pipeline/internal/planner"
	"github.com/soniclane/transcript-pipeline/internal/storage"
	"github.com/soniclane/transcript-pipeline/internal/store"
	"github.com/soniclane/transcript-pipeline/internal/transcription"
	"github.com/soniclane/transcript-pipeline/internal/types"
	"github.com/soniclane/transcript-pipeline/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	jobID := flag.String("job", "", "run a single job to completion and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *jobID == "" && !cfg.Worker.WatchLocal {
		log.Fatal("worker.watch_local must be enabled for the worker binary")
	}

	logg := logger.New(cfg.Logging.Level)

	if err := os.MkdirAll(cfg.Storage.TempDir, 0o755); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}

	st, err := store.Open(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider storage.Provider
	if *jobID != "" {
		provider, err = buildProvider(ctx, cfg)
	} else {
		if err := os.MkdirAll(cfg.Worker.WatchDir, 0o755); err != nil {
			log.Fatalf("Failed to create watch directory: %v", err)
		}
		provider, err = storage.NewLocalProvider(cfg.Worker.WatchDir, cfg.Storage.LocalOutputDir)
	}
	if err != nil {
		log.Fatalf("Failed to build storage provider: %v", err)
	}

	ffmpeg := media.New(media.NewExecutor())
	whisper := transcription.NewWhisperClient(
		cfg.Whisper.BaseURL, cfg.Whisper.APIKey, cfg.Whisper.Model,
		cfg.Whisper.RequestsPerSecond, cfg.Whisper.Burst)
	stage := transcription.NewStage(whisper, ffmpeg,
		cfg.Pipeline.ProviderLimitBytes, cfg.Pipeline.MaxRetriesPerStage,
		cfg.Pipeline.MaxConcurrentChunks, logg)

	var notifier notify.Notifier = &notify.LogNotifier{Log: logg}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Server.WebhookSecret)
	}

	orch := orchestrator.New(st, provider, ffmpeg, stage, notifier, orchestrator.Options{
		Limits: planner.Limits{
			TargetBytes:            cfg.Pipeline.TargetBytes,
			ProviderLimitBytes:     cfg.Pipeline.ProviderLimitBytes,
			WindowSeconds:          cfg.Pipeline.ChunkWindowSeconds,
			MaxCallDurationSeconds: cfg.Pipeline.MaxCallDurationSeconds,
		},
		Model:        cfg.Whisper.Model,
		TempDir:      cfg.Storage.TempDir,
		OutputFolder: cfg.Storage.OutputFolder,
		MaxRetries:   cfg.Pipeline.MaxRetriesPerStage,
		JobTimeout:   time.Duration(cfg.Pipeline.JobTimeoutMinutes) * time.Minute,
	}, logg)

	// Single-job mode: the execution platform invokes one job per
	// process, as on a per-job container scheduler.
	if *jobID != "" {
		if err := orch.Run(ctx, *jobID); err != nil {
			log.Fatalf("Job %s failed: %v", *jobID, err)
		}
		return
	}

	pool := dispatch.NewPool(orch, cfg.Worker.Count, 100, logg)
	pool.Start(ctx)
	defer pool.Stop()

	service := gateway.NewService(st, provider, pool, cfg.Server.WebhookSecret, logg)
	if err := service.ResumeQueued(ctx); err != nil {
		logg.Warn("resuming queued jobs: %v", err)
	}

	cleaner := cleanup.NewScheduler(cfg.Storage.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour, logg)
	cleaner.Start()
	defer cleaner.Stop()

	w, err := watcher.New(cfg.Worker.WatchDir, func(ctx context.Context, file types.FileCandidate) error {
		_, err := service.AcceptFile(ctx, file)
		return err
	}, logg)
	if err != nil {
		log.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	// Queued-job sweep catches jobs whose dispatch was deferred.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := service.ResumeQueued(ctx); err != nil {
					logg.Warn("queued-job sweep: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logg.Info("worker watching %s", cfg.Worker.WatchDir)
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Watcher failed: %v", err)
	}
}

func buildProvider(ctx context.Context, cfg *config.Config) (storage.Provider, error) {
	switch cfg.Storage.Provider {
	case "drive":
		return storage.NewDriveProvider(ctx,
			cfg.Storage.CredentialsFile, cfg.Storage.TokenFile, cfg.Storage.WatchFolder)
	default:
		if err := os.MkdirAll(cfg.Storage.WatchFolder, 0o755); err != nil {
			return nil, err
		}
		return storage.NewLocalProvider(cfg.Storage.WatchFolder, cfg.Storage.LocalOutputDir)
	}
}
