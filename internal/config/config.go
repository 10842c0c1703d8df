package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrEmptyPath          = errors.New("config path is empty")
	ErrNilConfig          = errors.New("config is nil")
	ErrMissingClientID    = errors.New("google.client_id is required for calendar sync")
	ErrInvalidDuration    = errors.New("export.duration_minutes must be non-negative")
	ErrInvalidPollTimeout = errors.New("google.init_timeout must be longer than google.poll_interval")
)

// Environment overrides. Values from a .env file are loaded by the CLI
// before Load runs, so they take part here as well.
const (
	EnvClientID     = "F1SYNC_GOOGLE_CLIENT_ID"
	EnvClientSecret = "F1SYNC_GOOGLE_CLIENT_SECRET"
	EnvListen       = "F1SYNC_LISTEN"
	EnvAIKey        = "F1SYNC_AI_API_KEY"
	EnvLogLevel     = "F1SYNC_LOG_LEVEL"
)

// GoogleConfig holds the remote calendar provider settings.
type GoogleConfig struct {
	// ClientID is the OAuth client identifier. Required for sync only.
	ClientID string `yaml:"client_id" json:"client_id"`
	// ClientSecret is optional for PKCE-capable desktop clients; web
	// clients need it for the code exchange.
	ClientSecret string `yaml:"client_secret,omitempty" json:"-"`
	// RedirectURL is the public callback used by the web sync flow, e.g.
	// "http://127.0.0.1:8080/sync/google/callback".
	RedirectURL string `yaml:"redirect_url" json:"redirect_url"`
	// CalendarID is the target calendar; "primary" unless overridden.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	InitTimeout  time.Duration `yaml:"init_timeout" json:"init_timeout"`
}

// ScheduleConfig describes where event records come from.
type ScheduleConfig struct {
	// Source is a file path or http(s) URL to a .json/.yaml/.ics schedule.
	Source string `yaml:"source" json:"source"`
	// Refresh is a cron-style spec for periodic reloads in serve mode.
	// Empty disables refreshing.
	Refresh string `yaml:"refresh" json:"refresh"`
	// CacheDir holds ETag/Last-Modified metadata for remote sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// ExportConfig controls file and link exports.
type ExportConfig struct {
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
	OutputDir       string `yaml:"output_dir" json:"output_dir"`
}

// BasicAuthConfig protects the HTTP surface. Both fields must be set for
// it to take effect.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// Season is the championship year used in provider summaries and the
	// full-season file name.
	Season int `yaml:"season" json:"season"`

	// DisplayTimezone is the secondary IANA zone shown next to venue
	// local time.
	DisplayTimezone string `yaml:"display_timezone" json:"display_timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Google   GoogleConfig   `yaml:"google" json:"google"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Export   ExportConfig   `yaml:"export" json:"export"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// AIAPIKey is only consumed by the schedule generator, which lives
	// outside this module. Never written back to disk.
	AIAPIKey string `yaml:"-" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Season:          2026,
		DisplayTimezone: "Asia/Kolkata",
		LogLevel:        "info",
		Google: GoogleConfig{
			RedirectURL:  "http://127.0.0.1:8080/sync/google/callback",
			CalendarID:   "primary",
			PollInterval: 100 * time.Millisecond,
			InitTimeout:  10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Source:   "schedule.json",
			CacheDir: "./var/schedule-cache",
		},
		Export: ExportConfig{
			DurationMinutes: 120,
			OutputDir:       ".",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Season <= 0 {
		c.Season = def.Season
	}
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = def.DisplayTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = def.Google.CalendarID
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = "http://" + c.Listen + "/sync/google/callback"
	}
	if c.Google.PollInterval <= 0 {
		c.Google.PollInterval = def.Google.PollInterval
	}
	if c.Google.InitTimeout <= 0 {
		c.Google.InitTimeout = def.Google.InitTimeout
	}
	if c.Schedule.CacheDir == "" {
		c.Schedule.CacheDir = def.Schedule.CacheDir
	}
	// Zero is a legal duration; only the unset-by-omission case is
	// indistinguishable, and the default covers it.
	if c.Export.DurationMinutes == 0 {
		c.Export.DurationMinutes = def.Export.DurationMinutes
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = def.Export.OutputDir
	}
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvClientID)); v != "" {
		c.Google.ClientID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvClientSecret)); v != "" {
		c.Google.ClientSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	c.AIAPIKey = strings.TrimSpace(os.Getenv(EnvAIKey))
}

// Validate checks invariants that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Export.DurationMinutes < 0 {
		return ErrInvalidDuration
	}
	if c.Google.InitTimeout <= c.Google.PollInterval {
		return ErrInvalidPollTimeout
	}
	return nil
}

// ValidateSync checks the settings that only calendar sync needs.
func (c *Config) ValidateSync() error {
	if strings.TrimSpace(c.Google.ClientID) == "" {
		return ErrMissingClientID
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return ErrNilConfig
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".f1sync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
