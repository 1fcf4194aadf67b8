package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	// CronSecret protects the sync-all trigger. Empty disables the endpoint.
	CronSecret string `mapstructure:"cron_secret"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// VaultConfig holds the credential vault master key settings.
type VaultConfig struct {
	// MasterKey is a base64 encoded key of at least 32 bytes.
	MasterKey string `mapstructure:"master_key"`

	// UseKeyring makes the vault fall back to the system keyring when
	// MasterKey is empty.
	UseKeyring bool `mapstructure:"use_keyring"`
}

// ProviderConfig holds the mailbox provider OAuth client and endpoints.
type ProviderConfig struct {
	Kind         string `mapstructure:"kind" validate:"oneof=gmail imap"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`

	// IMAPHost and IMAPPort are used when Kind is "imap".
	IMAPHost string `mapstructure:"imap_host" validate:"required_if=Kind imap"`
	IMAPPort int    `mapstructure:"imap_port" validate:"min=0,max=65535"`

	// AuthURL, TokenURL and Scopes describe the OAuth2 server of an IMAP
	// provider. Gmail uses Google's endpoints.
	AuthURL  string `mapstructure:"auth_url"`
	TokenURL string `mapstructure:"token_url" validate:"required_if=Kind imap"`
	Scopes   string `mapstructure:"scopes"`

	// CallTimeout bounds every provider API call.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
}

// QueueConfig holds the outbound request queue settings.
type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
	MinBackoff  time.Duration `mapstructure:"min_backoff" validate:"gt=0"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" validate:"gtefield=MinBackoff"`
}

// AIConfig holds the classification/summarization service settings.
type AIConfig struct {
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model" validate:"required"`
	MaxTokens int    `mapstructure:"max_tokens" validate:"min=1"`

	// BodyPrefix is how many characters of the body are sent.
	BodyPrefix int `mapstructure:"body_prefix" validate:"min=1"`
}

// UnsubscribeConfig holds the unsubscribe executor settings.
type UnsubscribeConfig struct {
	// ArtifactDir is the local artifact root. Ignored when S3Bucket is set.
	ArtifactDir string `mapstructure:"artifact_dir"`

	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`

	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" validate:"gt=0"`
	SettleInterval    time.Duration `mapstructure:"settle_interval" validate:"gte=0"`
	BulkDelay         time.Duration `mapstructure:"bulk_delay" validate:"gte=0"`
	Headless          bool          `mapstructure:"headless"`
}

// SyncConfig holds the sync coordinator settings.
type SyncConfig struct {
	LookbackHours int           `mapstructure:"lookback_hours" validate:"min=1"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	Parallelism   int           `mapstructure:"parallelism" validate:"min=1"`

	// MaxMessageAttempts is how many runs may fail on one message before
	// the watermark moves past it.
	MaxMessageAttempts int `mapstructure:"max_message_attempts" validate:"min=1"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Queue       QueueConfig       `mapstructure:"queue"`
	AI          AIConfig          `mapstructure:"ai"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Log         LogConfig         `mapstructure:"log"`
}

// envPrefix namespaces environment overrides, e.g. MAILSWEEP_VAULT_MASTER_KEY.
const envPrefix = "MAILSWEEP"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsweep/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsweep", "config.yaml")
}

// defaults is applied to every viper instance. Every key is listed so
// AutomaticEnv can override it.
var defaults = map[string]any{
	"server.listen_addr":             ":8080",
	"server.cron_secret":             "",
	"database.path":                  "mailsweep.db",
	"vault.master_key":               "",
	"vault.use_keyring":              false,
	"provider.kind":                  "gmail",
	"provider.client_id":             "",
	"provider.client_secret":         "",
	"provider.redirect_url":          "",
	"provider.imap_host":             "",
	"provider.imap_port":             993,
	"provider.auth_url":              "",
	"provider.token_url":             "",
	"provider.scopes":                "",
	"provider.call_timeout":          "30s",
	"queue.concurrency":              5,
	"queue.min_backoff":              "1s",
	"queue.max_backoff":              "10s",
	"ai.base_url":                    "https://api.anthropic.com",
	"ai.api_key":                     "",
	"ai.model":                       "claude-sonnet-4-5-20250929",
	"ai.max_tokens":                  512,
	"ai.body_prefix":                 2000,
	"unsubscribe.artifact_dir":       "artifacts",
	"unsubscribe.s3_bucket":          "",
	"unsubscribe.s3_endpoint":        "",
	"unsubscribe.s3_region":          "us-east-1",
	"unsubscribe.s3_access_key":      "",
	"unsubscribe.s3_secret_key":      "",
	"unsubscribe.request_timeout":    "15s",
	"unsubscribe.navigation_timeout": "30s",
	"unsubscribe.settle_interval":    "3s",
	"unsubscribe.bulk_delay":         "5s",
	"unsubscribe.headless":           true,
	"sync.lookback_hours":            24,
	"sync.poll_interval":             "0s",
	"sync.parallelism":               4,
	"sync.max_message_attempts":      3,
	"log.level":                      "info",
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// then applies MAILSWEEP_* environment overrides. A missing file is not an
// error; defaults and the environment still apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// Schedulers usually inject the trigger secret under a short name.
	_ = v.BindEnv("server.cron_secret", envPrefix+"_SERVER_CRON_SECRET", envPrefix+"_CRON_SECRET")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
