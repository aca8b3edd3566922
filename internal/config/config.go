// Package config loads gitpulse configuration from a TOML file with
// environment variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full gitpulse configuration.
type Config struct {
	GitHub    GitHubConfig    `toml:"github"`
	Storage   StorageConfig   `toml:"storage"`
	Queue     QueueConfig     `toml:"queue"`
	Throttle  ThrottleConfig  `toml:"throttle"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Verbose   bool            `toml:"verbose"`
}

// GitHubConfig holds GitHub API settings.
type GitHubConfig struct {
	// Token is the personal access token. The GITHUB_TOKEN environment
	// variable overrides it so tokens stay out of config files.
	Token string `toml:"token"`
}

// StorageConfig holds local storage settings.
type StorageConfig struct {
	// DataDir is where the SQLite database lives. Empty uses
	// ~/.gitpulse/data.
	DataDir string `toml:"data_dir"`
}

// QueueConfig tunes capture job scheduling.
type QueueConfig struct {
	// MaxRetries is how many times a retriable job failure re-enters
	// the queue.
	MaxRetries int `toml:"max_retries"`
}

// ThrottleConfig holds sync throttle windows.
type ThrottleConfig struct {
	WebhookWindow    duration `toml:"webhook_window"`
	DependencyWindow duration `toml:"dependency_window"`
	ScheduledWindow  duration `toml:"scheduled_window"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend; only "openai" is
	// supported.
	Provider string `toml:"provider"`

	// APIKey is the provider key. The OPENAI_API_KEY environment
	// variable overrides it.
	APIKey string `toml:"api_key"`

	// Model is the embedding model name.
	Model string `toml:"model"`

	// BaseURL overrides the provider endpoint for compatible APIs.
	BaseURL string `toml:"base_url"`
}

// SchedulerConfig holds background scheduling intervals.
type SchedulerConfig struct {
	SyncInterval      duration `toml:"sync_interval"`
	EmbeddingInterval duration `toml:"embedding_interval"`
}

// duration wraps time.Duration with TOML string parsing ("12h", "30m").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d duration) Std() time.Duration {
	return time.Duration(d)
}

// WebhookWindowOr returns the configured webhook window or def.
func (t ThrottleConfig) WebhookWindowOr(def time.Duration) time.Duration {
	if t.WebhookWindow > 0 {
		return t.WebhookWindow.Std()
	}
	return def
}

// DependencyWindowOr returns the configured dependency window or def.
func (t ThrottleConfig) DependencyWindowOr(def time.Duration) time.Duration {
	if t.DependencyWindow > 0 {
		return t.DependencyWindow.Std()
	}
	return def
}

// ScheduledWindowOr returns the configured scheduled window or def.
func (t ThrottleConfig) ScheduledWindowOr(def time.Duration) time.Duration {
	if t.ScheduledWindow > 0 {
		return t.ScheduledWindow.Std()
	}
	return def
}

// SyncIntervalOr returns the configured sync interval or def.
func (s SchedulerConfig) SyncIntervalOr(def time.Duration) time.Duration {
	if s.SyncInterval > 0 {
		return s.SyncInterval.Std()
	}
	return def
}

// EmbeddingIntervalOr returns the configured embedding interval or def.
func (s SchedulerConfig) EmbeddingIntervalOr(def time.Duration) time.Duration {
	if s.EmbeddingInterval > 0 {
		return s.EmbeddingInterval.Std()
	}
	return def
}

// DefaultPath returns the default config file location,
// ~/.gitpulse/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".gitpulse", "config.toml"), nil
}

// Load reads configuration from path. A missing file yields defaults;
// environment variables override credentials either way.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment only.
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		cfg.GitHub.Token = tok
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
}
