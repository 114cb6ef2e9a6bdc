package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema         string        `mapstructure:"DB_SCHEMA"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	WorkloadCacheTTL time.Duration `mapstructure:"WORKLOAD_CACHE_TTL"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	BlobDriver       string        `mapstructure:"BLOB_DRIVER"`
	BlobS3Bucket     string        `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region     string        `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint   string        `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle  bool          `mapstructure:"BLOB_S3_PATH_STYLE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"REDIS_URL", "WORKLOAD_CACHE_TTL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BLOB_DRIVER", "BLOB_S3_BUCKET", "BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PATH_STYLE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("WORKLOAD_CACHE_TTL", "15s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BLOB_DRIVER", "memory")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT issuer, JWKS endpoint or signing key is required, since the dev
// middleware grants every request the admin role.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q; "+
				"refusing to start without authentication", c.Env)
	}

	switch c.BlobDriver {
	case "", "memory":
	case "s3":
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be \"memory\" or \"s3\", got %q", c.BlobDriver)
	}

	if c.WorkloadCacheTTL < 0 {
		return fmt.Errorf("WORKLOAD_CACHE_TTL must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
