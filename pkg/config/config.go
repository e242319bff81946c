package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable override, e.g.
	// GRAVEWHISPER_AUTH_SECRET overrides auth.secret.
	EnvPrefix = "GRAVEWHISPER"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSessionTTL is the validity window of an admin session.
	DefaultSessionTTL = "24h"

	// DefaultSQLitePath is the database used when none is configured.
	DefaultSQLitePath = "./data/gravewhisper.db"
)

// Config is the root configuration for gravewhisper.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Media    MediaConfig    `yaml:"media" mapstructure:"media"`
}

// Load reads and merges the given configuration files in order, applies
// defaults for anything left unset and finally applies environment
// variable overrides. With no paths the defaults and environment alone
// are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for _, path := range paths {
		v.SetConfigFile(path)

		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every key. Registering the key also
// makes viper consult the environment for it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.window", "60s")
	v.SetDefault("server.rate_limit.auth.requests_per_minute", 10)
	v.SetDefault("server.rate_limit.submissions.requests_per_minute", 5)
	v.SetDefault("server.rate_limit.comments", 6)
	v.SetDefault("server.rate_limit.video_uploads", 4)
	v.SetDefault("server.rate_limit.image_uploads", 10)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.session_ttl", DefaultSessionTTL)
	v.SetDefault("auth.backdoor_code", "")
	v.SetDefault("auth.allow_registration", false)
	v.SetDefault("auth.seed_admin.username", "admin")
	v.SetDefault("auth.seed_admin.password", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "gravewhisper")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("media.max_image_size", "2.5MB")
	v.SetDefault("media.max_image_dimension", 4096)
	v.SetDefault("media.max_image_pixels", 8_000_000)
	v.SetDefault("media.max_video_size", "80MiB")
	v.SetDefault("media.max_database_size", "50MiB")
	v.SetDefault("media.local.enabled", true)
	v.SetDefault("media.local.dir", "./data/uploads")
	v.SetDefault("media.local.public_prefix", "/uploads")
	v.SetDefault("media.local.owner", "")
	v.SetDefault("media.s3.enabled", false)
	v.SetDefault("media.s3.endpoint_url", "")
	v.SetDefault("media.s3.region", "")
	v.SetDefault("media.s3.bucket", "")
	v.SetDefault("media.s3.access_key_id", "")
	v.SetDefault("media.s3.secret_access_key", "")
	v.SetDefault("media.s3.force_path_style", false)
	v.SetDefault("media.s3.prefix", "uploads")
	v.SetDefault("media.s3.public_base_url", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Server.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("server.environment: unknown value %q", c.Server.Environment)
	}

	if _, err := c.SessionTTL(); err != nil {
		return err
	}

	if _, err := c.RateLimitWindow(); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres host and database are required")
		}
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}

	if _, err := c.Media.Sizes(); err != nil {
		return err
	}

	localOn := c.Media.Local != nil && c.Media.Local.Enabled
	s3On := c.Media.S3 != nil && c.Media.S3.Enabled

	switch {
	case localOn && s3On:
		return fmt.Errorf("media: only one of local or s3 may be enabled")
	case !localOn && !s3On:
		return fmt.Errorf("media: one of local or s3 must be enabled")
	case localOn && c.Media.Local.Dir == "":
		return fmt.Errorf("media.local.dir is required")
	case s3On && (c.Media.S3.Bucket == "" || c.Media.S3.PublicBaseURL == ""):
		return fmt.Errorf("media.s3 bucket and public_base_url are required")
	}

	if c.Server.IsProduction() && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required in production")
	}

	return nil
}

// SessionTTL returns the parsed auth.session_ttl.
func (c *Config) SessionTTL() (time.Duration, error) {
	ttl, err := time.ParseDuration(c.Auth.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("auth.session_ttl: %w", err)
	}

	if ttl <= 0 {
		return 0, fmt.Errorf("auth.session_ttl must be positive")
	}

	return ttl, nil
}

// RateLimitWindow returns the parsed server.rate_limit.window.
func (c *Config) RateLimitWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.RateLimit.Window)
	if err != nil {
		return 0, fmt.Errorf("server.rate_limit.window: %w", err)
	}

	return d, nil
}

// MediaSizes holds the upload ceilings in bytes.
type MediaSizes struct {
	Image    int64
	Video    int64
	Database int64
}

// Sizes parses the human readable size limits ("2.5MB", "80MiB").
func (m *MediaConfig) Sizes() (MediaSizes, error) {
	var (
		sizes MediaSizes
		err   error
	)

	if sizes.Image, err = parseSize("media.max_image_size", m.MaxImageSize); err != nil {
		return sizes, err
	}

	if sizes.Video, err = parseSize("media.max_video_size", m.MaxVideoSize); err != nil {
		return sizes, err
	}

	if sizes.Database, err = parseSize("media.max_database_size", m.MaxDatabaseSize); err != nil {
		return sizes, err
	}

	return sizes, nil
}

func parseSize(key, value string) (int64, error) {
	n, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}

	return n, nil
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c *Config) Redacted() *Config {
	out := *c

	mask := func(s string) string {
		if s == "" {
			return ""
		}

		return "********"
	}

	out.Auth.Secret = mask(c.Auth.Secret)
	out.Auth.BackdoorCode = mask(c.Auth.BackdoorCode)
	out.Auth.SeedAdmin.Password = mask(c.Auth.SeedAdmin.Password)
	out.Database.Postgres.Password = mask(c.Database.Postgres.Password)

	if c.Media.S3 != nil {
		s3 := *c.Media.S3
		s3.SecretAccessKey = mask(s3.SecretAccessKey)
		out.Media.S3 = &s3
	}

	return &out
}
