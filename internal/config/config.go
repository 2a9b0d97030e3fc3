// Package config loads slotboard configuration from a YAML file, a .env file and
// SLOTBOARD_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Remote backend identifiers.
const (
	BackendGitHub = "github"
	BackendS3     = "s3"
	BackendFile   = "file"
)

// Config is the root configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Data   DataConfig   `mapstructure:"data" yaml:"data"`
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Queue  QueueConfig  `mapstructure:"queue" yaml:"queue"`
	Netmon NetmonConfig `mapstructure:"netmon" yaml:"netmon"`
	Notify NotifyConfig `mapstructure:"notify" yaml:"notify"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

// DataConfig locates the local sqlite database.
type DataConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
}

// RemoteConfig selects and configures the shared document store.
type RemoteConfig struct {
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	GitHub            GitHubConfig  `mapstructure:"github" yaml:"github"`
	S3                S3Config      `mapstructure:"s3" yaml:"s3"`
	File              FileConfig    `mapstructure:"file" yaml:"file"`
}

// GitHubConfig addresses a JSON file in a GitHub repository.
type GitHubConfig struct {
	Owner      string `mapstructure:"owner" yaml:"owner"`
	Repo       string `mapstructure:"repo" yaml:"repo"`
	Branch     string `mapstructure:"branch" yaml:"branch"`
	Path       string `mapstructure:"path" yaml:"path"`
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	RawBaseURL string `mapstructure:"raw_base_url" yaml:"raw_base_url"`
}

// S3Config addresses one object in an S3-compatible bucket.
type S3Config struct {
	Provider     string `mapstructure:"provider" yaml:"provider"` // aws, minio, r2
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	Key          string `mapstructure:"key" yaml:"key"`
	Region       string `mapstructure:"region" yaml:"region"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
	AccountID    string `mapstructure:"account_id" yaml:"account_id"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// FileConfig points at a shared directory holding the document.
type FileConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SyncConfig tunes the sync cycle.
type SyncConfig struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	AutoUpload         bool          `mapstructure:"auto_upload" yaml:"auto_upload"`
	Interval           time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxConflictRetries int           `mapstructure:"max_conflict_retries" yaml:"max_conflict_retries"`
	ConflictBackoff    time.Duration `mapstructure:"conflict_backoff" yaml:"conflict_backoff"`
	DefaultAdminName   string        `mapstructure:"default_admin_name" yaml:"default_admin_name"`
}

// QueueConfig tunes the operation queue.
type QueueConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	ParkedCap  int           `mapstructure:"parked_cap" yaml:"parked_cap"`
}

// NetmonConfig tunes the network quality monitor.
type NetmonConfig struct {
	Endpoints     []string      `mapstructure:"endpoints" yaml:"endpoints"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	GoodThreshold time.Duration `mapstructure:"good_threshold" yaml:"good_threshold"`
	FairThreshold time.Duration `mapstructure:"fair_threshold" yaml:"fair_threshold"`
}

// NotifyConfig selects the cross-context change notification transport.
type NotifyConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"` // local or redis
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	Channel       string `mapstructure:"channel" yaml:"channel"`
}

// ServerConfig is used by the desktop host only.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.compress", true)

	v.SetDefault("remote.backend", BackendGitHub)
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("remote.requests_per_second", 2.0)
	v.SetDefault("remote.github.branch", "main")
	v.SetDefault("remote.github.path", "data.json")
	v.SetDefault("remote.github.api_base_url", "https://api.github.com")
	v.SetDefault("remote.github.raw_base_url", "https://raw.githubusercontent.com")
	v.SetDefault("remote.s3.provider", "aws")
	v.SetDefault("remote.s3.key", "data.json")
	v.SetDefault("remote.s3.region", "us-east-1")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.auto_upload", true)
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.max_conflict_retries", 3)
	v.SetDefault("sync.conflict_backoff", "1s")
	v.SetDefault("sync.default_admin_name", "System Administrator")

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay", "5s")
	v.SetDefault("queue.parked_cap", 20)

	v.SetDefault("netmon.endpoints", []string{
		"https://www.google.com/generate_204",
		"https://api.github.com",
		"https://www.cloudflare.com/cdn-cgi/trace",
	})
	v.SetDefault("netmon.timeout", "5s")
	v.SetDefault("netmon.interval", "30s")
	v.SetDefault("netmon.good_threshold", "800ms")
	v.SetDefault("netmon.fair_threshold", "3s")

	v.SetDefault("notify.driver", "local")
	v.SetDefault("notify.redis_addr", "localhost:6379")
	v.SetDefault("notify.channel", "slotboard:changes")

	v.SetDefault("server.addr", "127.0.0.1:8090")
}

// Default returns the configuration made of defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration. Priority: environment > config file > defaults.
// A .env file in the working directory, when present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("slotboard")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SLOTBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case BackendGitHub:
		if c.Remote.GitHub.Owner == "" || c.Remote.GitHub.Repo == "" {
			return fmt.Errorf("config: remote.github.owner and remote.github.repo are required")
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("config: remote.s3.bucket is required")
		}
		if c.Remote.S3.Provider == "r2" && c.Remote.S3.AccountID == "" {
			return fmt.Errorf("config: remote.s3.account_id is required for r2")
		}
	case BackendFile:
		if c.Remote.File.Dir == "" {
			return fmt.Errorf("config: remote.file.dir is required")
		}
	default:
		return fmt.Errorf("config: unknown remote.backend %q", c.Remote.Backend)
	}

	if c.Sync.MaxConflictRetries < 1 {
		return fmt.Errorf("config: sync.max_conflict_retries must be at least 1")
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("config: queue.max_retries must be at least 1")
	}
	if c.Queue.ParkedCap < 1 {
		return fmt.Errorf("config: queue.parked_cap must be at least 1")
	}
	if c.Netmon.GoodThreshold >= c.Netmon.FairThreshold {
		return fmt.Errorf("config: netmon.good_threshold must be below netmon.fair_threshold")
	}
	if c.Notify.Driver != "local" && c.Notify.Driver != "redis" {
		return fmt.Errorf("config: unknown notify.driver %q", c.Notify.Driver)
	}
	return nil
}

// Dump renders the effective configuration as YAML with secrets omitted.
func Dump(c *Config) ([]byte, error) {
	redacted := *c
	if redacted.Notify.RedisPassword != "" {
		redacted.Notify.RedisPassword = "***"
	}
	return yaml.Marshal(&redacted)
}
