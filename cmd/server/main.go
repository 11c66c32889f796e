package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

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
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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

	provider, err := buildProvider(ctx, cfg)
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

	var dispatcher dispatch.Dispatcher
	if cfg.Worker.Endpoint != "" {
		dispatcher = dispatch.NewHTTPTrigger(cfg.Worker.Endpoint)
		logg.Info("dispatching jobs to remote worker at %s", cfg.Worker.Endpoint)
	} else {
		pool := dispatch.NewPool(orch, cfg.Worker.Count, 100, logg)
		pool.Start(ctx)
		defer pool.Stop()
		dispatcher = pool
	}

	service := gateway.NewService(st, provider, dispatcher, cfg.Server.WebhookSecret, logg)
	bus := gateway.NewEventBus()
	handler := gateway.NewHandler(service, st, bus,
		time.Duration(cfg.Server.WebhookDeadlineSeconds)*time.Second, logg)
	orch.OnTransition = handler.PublishTransition

	// Jobs stranded in QUEUED by a previous crash run again.
	if err := service.ResumeQueued(ctx); err != nil {
		logg.Warn("resuming queued jobs: %v", err)
	}

	cleaner := cleanup.NewScheduler(cfg.Storage.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour, logg)
	cleaner.Start()
	defer cleaner.Stop()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, " + gateway.SignatureHeader,
	}))
	handler.Register(app)

	go func() {
		<-ctx.Done()
		logg.Info("shutting down gracefully...")
		app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logg.Info("server listening on %s (provider: %s)", addr, provider.Name())
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
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
