package config

// Environment names accepted by server.environment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	Environment string          `yaml:"environment" mapstructure:"environment"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// IsProduction reports whether the server runs with production semantics
// (secure cookies, backdoor login disabled).
func (s *ServerConfig) IsProduction() bool {
	return s.Environment == EnvProduction
}

// RateLimitConfig configures the write quotas of the public surface.
//
// Submissions and Auth are in-memory per-IP token buckets. The remaining
// tiers are counted against the audit log over Window.
type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Window       string        `yaml:"window" mapstructure:"window"`
	Auth         RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Submissions  RateLimitTier `yaml:"submissions,omitempty" mapstructure:"submissions"`
	Comments     int           `yaml:"comments" mapstructure:"comments"`
	VideoUploads int           `yaml:"video_uploads" mapstructure:"video_uploads"`
	ImageUploads int           `yaml:"image_uploads" mapstructure:"image_uploads"`
}

// RateLimitTier defines request limits for a token bucket tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains admin authentication settings.
type AuthConfig struct {
	Secret            string          `yaml:"secret" mapstructure:"secret"`
	SessionTTL        string          `yaml:"session_ttl" mapstructure:"session_ttl"`
	BackdoorCode      string          `yaml:"backdoor_code,omitempty" mapstructure:"backdoor_code"`
	AllowRegistration bool            `yaml:"allow_registration" mapstructure:"allow_registration"`
	SeedAdmin         SeedAdminConfig `yaml:"seed_admin,omitempty" mapstructure:"seed_admin"`
}

// SeedAdminConfig is the admin account upserted by the seed command.
type SeedAdminConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}
