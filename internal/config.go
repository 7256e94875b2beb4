package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/postsync/internal/publish"
	"github.com/starford/postsync/internal/remote"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Remote RemoteConfig      `yaml:"remote"`
	Sync   SyncConfig        `yaml:"sync"`
	Lock   LockConfig        `yaml:"lock"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig locates the local content: backing files, the SQLite records
// and uploaded media.
type StoreConfig struct {
	Root       string `yaml:"root"`
	SQLitePath string `yaml:"sqlite_path"`
	MediaRoot  string `yaml:"media_root"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.MediaRoot, validation.Required),
	)
}

// RemoteConfig identifies the GitHub repository posts are synced with.
type RemoteConfig struct {
	APIURL     string        `yaml:"api_url"`
	Owner      string        `yaml:"owner"`
	Repo       string        `yaml:"repo"`
	Branch     string        `yaml:"branch"`
	ContentDir string        `yaml:"content_dir"`
	ImageDir   string        `yaml:"image_dir"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	APIVersion string        `yaml:"api_version"`

	// ImageURLPrefix is the site path the published site serves ImageDir from.
	ImageURLPrefix string `yaml:"image_url_prefix"`
}

// Validate validates the remote configuration. The token may be empty for
// public repositories; publish then fails with a not-authenticated error.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIURL, validation.Required, is.URL),
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Branch, validation.Required),
		validation.Field(&c.ContentDir, validation.Required),
		validation.Field(&c.ImageDir, validation.Required),
		validation.Field(&c.ImageURLPrefix, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
	)
}

// Client returns the remote client configuration.
func (c *RemoteConfig) Client() remote.Config {
	return remote.Config{
		BaseURL:    c.APIURL,
		Owner:      c.Owner,
		Repo:       c.Repo,
		Branch:     c.Branch,
		Token:      c.Token,
		Timeout:    c.Timeout,
		APIVersion: c.APIVersion,
	}
}

// Publish returns the publish pipeline layout.
func (c *RemoteConfig) Publish() publish.Config {
	return publish.Config{ContentDir: c.ContentDir, ImageDir: c.ImageDir, ImageURLPrefix: c.ImageURLPrefix}
}

// SyncConfig tunes sync passes and the retry policy around remote calls.
type SyncConfig struct {
	ProtectionWindow time.Duration `yaml:"protection_window"`
	Concurrency      int           `yaml:"concurrency"`
	Retry            RetryConfig   `yaml:"retry"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ProtectionWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(32)),
	); err != nil {
		return err
	}
	return c.Retry.Validate()
}

// RetryConfig holds backoff settings for retryable remote failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&c.BaseDelay, validation.Required),
	)
}

// LockConfig selects the pass lock shared by sync and publish.
//
// Backend "local" serializes passes within one process. "redis" extends that
// to every process pointing at the same Redis, for deployments running the
// API server and CLI commands against one store.
type LockConfig struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Validate validates the lock configuration.
func (c *LockConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = LockBackendLocal
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(LockBackendLocal, LockBackendRedis)),
		validation.Field(&c.RedisURL, validation.When(c.Backend == LockBackendRedis, validation.Required)),
		validation.Field(&c.TTL, validation.When(c.Backend == LockBackendRedis, validation.Required, validation.Min(time.Second))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
// Remote owner and repo have no default.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Root:       "./data/posts",
			SQLitePath: "./data/postsync.db",
			MediaRoot:  "./data/media",
		},
		Remote: RemoteConfig{
			APIURL:         remote.DefaultBaseURL,
			Branch:         "main",
			ContentDir:     publish.DefaultContentDir,
			ImageDir:       publish.DefaultImageDir,
			ImageURLPrefix: publish.DefaultImageURLPrefix,
			Timeout:        15 * time.Second,
			APIVersion:     remote.DefaultAPIVersion,
		},
		Sync: SyncConfig{
			ProtectionWindow: 24 * time.Hour,
			Concurrency:      4,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
			},
		},
		Lock: LockConfig{
			Backend: LockBackendLocal,
			TTL:     2 * time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
