package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	appLog "saroolsync/internal/log"
	"saroolsync/internal/sarool"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. The account password is never part of it.

// PasswordEnv names the environment variable read for the account password.
const PasswordEnv = "SAROOL_PASSWORD"

const (
	defaultListen           = "127.0.0.1:8080"
	defaultHTTPTimeout      = 15
	defaultRefreshSeconds   = 300
	defaultScheduleDays     = 7
	defaultStartupAttempts  = 3
	defaultManualRefreshSec = 30
	defaultLogLevel         = "info"
	minRefreshSeconds       = 30
)

// CredentialsConfig holds the account identity and the issued tokens.
type CredentialsConfig struct {
	Username   string `yaml:"username" json:"username"`
	// DeviceName is the label sent as Descriptif on authentication.
	DeviceName string `yaml:"device_name" json:"device_name" validate:"required,max=64"`
	PK         string `yaml:"pk,omitempty" json:"-"`
	UK         string `yaml:"uk,omitempty" json:"-"`
}

// Tokens returns the persisted PK/UK pair.
func (c CredentialsConfig) Tokens() sarool.Credentials {
	return sarool.Credentials{PK: c.PK, UK: c.UK}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// APIBaseURL overrides the remote API root.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url" validate:"required,http_url"`

	HTTPTimeoutSeconds   int `yaml:"http_timeout_seconds" json:"http_timeout_seconds" validate:"gte=1,lte=300"`
	RefreshSeconds       int `yaml:"refresh_seconds" json:"refresh_seconds" validate:"gte=30"`
	ScheduleDays         int `yaml:"schedule_days" json:"schedule_days" validate:"gte=1,lte=62"`
	StartupAttempts      int `yaml:"startup_attempts" json:"startup_attempts" validate:"gte=1,lte=20"`
	ManualRefreshSeconds int `yaml:"manual_refresh_seconds" json:"manual_refresh_seconds" validate:"gte=1"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               defaultListen,
		APIBaseURL:           sarool.DefaultBaseURL,
		HTTPTimeoutSeconds:   defaultHTTPTimeout,
		RefreshSeconds:       defaultRefreshSeconds,
		ScheduleDays:         defaultScheduleDays,
		StartupAttempts:      defaultStartupAttempts,
		ManualRefreshSeconds: defaultManualRefreshSec,
		LogLevel:             defaultLogLevel,
		Credentials: CredentialsConfig{
			DeviceName: sarool.DefaultDeviceLabel,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = sarool.DefaultBaseURL
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = defaultHTTPTimeout
	}
	if c.RefreshSeconds <= 0 {
		c.RefreshSeconds = defaultRefreshSeconds
	}
	// Polling faster than this only burns the remote quota.
	if c.RefreshSeconds < minRefreshSeconds {
		c.RefreshSeconds = minRefreshSeconds
	}
	if c.ScheduleDays <= 0 {
		c.ScheduleDays = defaultScheduleDays
	}
	if c.StartupAttempts <= 0 {
		c.StartupAttempts = defaultStartupAttempts
	}
	if c.ManualRefreshSeconds <= 0 {
		c.ManualRefreshSeconds = defaultManualRefreshSec
	}
	if lvl, ok := appLog.ParseLevel(c.LogLevel); ok {
		c.LogLevel = strings.ToLower(string(lvl))
	} else {
		c.LogLevel = defaultLogLevel
	}
	if c.Credentials.DeviceName == "" {
		c.Credentials.DeviceName = sarool.DefaultDeviceLabel
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

var validate = validator.New()

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HasTokens reports whether PK and UK were persisted.
func (c *Config) HasTokens() bool {
	return c.Credentials.Tokens().Valid()
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

func (c *Config) ScheduleHorizon() time.Duration {
	return time.Duration(c.ScheduleDays) * 24 * time.Hour
}

func (c *Config) ManualRefreshInterval() time.Duration {
	return time.Duration(c.ManualRefreshSeconds) * time.Second
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
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

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
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".saroolsync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

	// Tokens are secrets; keep the file private.
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

// StoreTokens records freshly issued tokens and persists the file.
func (c *Config) StoreTokens(path string, creds sarool.Credentials) error {
	if !creds.Valid() {
		return errors.New("refusing to store incomplete credentials")
	}
	c.Credentials.PK = creds.PK
	c.Credentials.UK = creds.UK
	return Save(path, c)
}
