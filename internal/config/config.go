package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the single configuration struct for both binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
	Whisper  WhisperConfig  `yaml:"whisper"`
	Worker   WorkerConfig   `yaml:"worker"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// WebhookSecret is the shared secret the sender signs request bodies
	// with. Loaded from the environment when empty.
	WebhookSecret string `yaml:"webhook_secret"`
	// WebhookDeadlineSeconds bounds the time spent handling one
	// notification, dispatch included.
	WebhookDeadlineSeconds int `yaml:"webhook_deadline_seconds"`
}

// PipelineConfig enumerates the knobs driving compression and chunking.
type PipelineConfig struct {
	TargetBytes         int64   `yaml:"target_bytes"`
	ProviderLimitBytes  int64   `yaml:"provider_limit_bytes"`
	ChunkWindowSeconds  float64 `yaml:"chunk_window_seconds"`
	MaxRetriesPerStage  int     `yaml:"max_retries_per_stage"`
	MaxConcurrentChunks int     `yaml:"max_concurrent_chunks"`
	// MaxCallDurationSeconds caps the duration sent in one provider call.
	MaxCallDurationSeconds float64 `yaml:"max_call_duration_seconds"`
	// JobTimeoutMinutes bounds one job's wall clock.
	JobTimeoutMinutes int `yaml:"job_timeout_minutes"`
}

type StorageConfig struct {
	// Provider selects "drive" or "local".
	Provider        string `yaml:"provider"`
	Database        string `yaml:"database"`
	TempDir         string `yaml:"temp_dir"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	// WatchFolder is the provider folder (or local directory) holding
	// inbound recordings.
	WatchFolder  string `yaml:"watch_folder"`
	OutputFolder string `yaml:"output_folder"`
	// LocalOutputDir is where the local provider roots its uploads.
	LocalOutputDir string `yaml:"local_output_dir"`
}

type WhisperConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// RequestsPerSecond and Burst feed the provider rate limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type WorkerConfig struct {
	Count int `yaml:"count"`
	// Endpoint, when set, makes the server POST job triggers to a remote
	// worker instead of running jobs in-process.
	Endpoint string `yaml:"endpoint"`
	// WatchLocal enables the fsnotify drop-directory ingestion path.
	WatchLocal bool   `yaml:"watch_local"`
	WatchDir   string `yaml:"watch_dir"`
}

type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	MaxAgeHours     int `yaml:"max_age_hours"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.WebhookSecret == "" {
		c.Server.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	}
	if c.Server.WebhookDeadlineSeconds == 0 {
		c.Server.WebhookDeadlineSeconds = 45
	}

	if c.Pipeline.TargetBytes == 0 {
		c.Pipeline.TargetBytes = 24 * 1024 * 1024
	}
	if c.Pipeline.ProviderLimitBytes == 0 {
		c.Pipeline.ProviderLimitBytes = 25 * 1024 * 1024
	}
	if c.Pipeline.TargetBytes > c.Pipeline.ProviderLimitBytes {
		return fmt.Errorf("pipeline.target_bytes must not exceed pipeline.provider_limit_bytes")
	}
	if c.Pipeline.ChunkWindowSeconds == 0 {
		c.Pipeline.ChunkWindowSeconds = 600
	}
	if c.Pipeline.MaxRetriesPerStage == 0 {
		c.Pipeline.MaxRetriesPerStage = 3
	}
	if c.Pipeline.MaxConcurrentChunks == 0 {
		c.Pipeline.MaxConcurrentChunks = 1
	}
	if c.Pipeline.MaxCallDurationSeconds == 0 {
		c.Pipeline.MaxCallDurationSeconds = 3600
	}
	if c.Pipeline.JobTimeoutMinutes == 0 {
		c.Pipeline.JobTimeoutMinutes = 120
	}

	if c.Storage.Provider == "" {
		c.Storage.Provider = "local"
	}
	if c.Storage.Provider != "local" && c.Storage.Provider != "drive" {
		return fmt.Errorf("storage.provider must be \"local\" or \"drive\", got %q", c.Storage.Provider)
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/pipeline.db"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "data/temp"
	}
	if c.Storage.WatchFolder == "" {
		return fmt.Errorf("storage.watch_folder is required")
	}
	if c.Storage.OutputFolder == "" {
		c.Storage.OutputFolder = "Transcripts"
	}
	if c.Storage.LocalOutputDir == "" {
		c.Storage.LocalOutputDir = "data/outputs"
	}

	if c.Whisper.BaseURL == "" {
		c.Whisper.BaseURL = "https://api.openai.com/v1"
	}
	if c.Whisper.APIKey == "" {
		c.Whisper.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "whisper-1"
	}
	if c.Whisper.RequestsPerSecond == 0 {
		c.Whisper.RequestsPerSecond = 1
	}
	if c.Whisper.Burst == 0 {
		c.Whisper.Burst = 2
	}

	if c.Worker.Count == 0 {
		c.Worker.Count = 2
	}
	if c.Worker.WatchLocal && c.Worker.WatchDir == "" {
		return fmt.Errorf("worker.watch_dir is required when worker.watch_local is set")
	}

	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}
