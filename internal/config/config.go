package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // clinic time zones must resolve on minimal images

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
	AuthModeOIDC        = "oidc"
)

const (
	RangesEmbedded = "embedded"
	RangesFile     = "file"
	RangesRedis    = "redis"
)

type Config struct {
	Port         string        `mapstructure:"PORT"`
	Env          string        `mapstructure:"ENV"`
	AuthMode     string        `mapstructure:"AUTH_MODE"`
	DatabaseURL  string        `mapstructure:"DATABASE_URL"`
	DBSchema     string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns   int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer   string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string        `mapstructure:"AUTH_AUDIENCE"`
	SigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins  []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit    string        `mapstructure:"BODY_LIMIT"`
	Timeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	Metrics      bool          `mapstructure:"METRICS_ENABLED"`

	ClinicTimezone        string `mapstructure:"CLINIC_TIMEZONE"`
	ClinicCalendarEnabled bool   `mapstructure:"CLINIC_CALENDAR_ENABLED"`
	VisitProtocolFile     string `mapstructure:"VISIT_PROTOCOL_FILE"`

	RangesSource  string `mapstructure:"REFERENCE_RANGES_SOURCE"`
	RangesFile    string `mapstructure:"REFERENCE_RANGES_FILE"`
	RangesWatch   bool   `mapstructure:"REFERENCE_RANGES_WATCH"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	RangesKey     string `mapstructure:"REFERENCE_RANGES_KEY"`
	RangesChannel string `mapstructure:"REFERENCE_RANGES_CHANNEL"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE",
	"DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"METRICS_ENABLED",
	"CLINIC_TIMEZONE", "CLINIC_CALENDAR_ENABLED", "VISIT_PROTOCOL_FILE",
	"REFERENCE_RANGES_SOURCE", "REFERENCE_RANGES_FILE", "REFERENCE_RANGES_WATCH",
	"REDIS_URL", "REFERENCE_RANGES_KEY", "REFERENCE_RANGES_CHANNEL",
}

// Load reads the environment and an optional .env file in the working
// directory. The database is optional: only the migrate command and the
// pregnancy routes need it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred, see ResolvedAuthMode
	v.SetDefault("DB_SCHEMA", "prenatal")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("CLINIC_TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("CLINIC_CALENDAR_ENABLED", false)
	v.SetDefault("REFERENCE_RANGES_SOURCE", RangesEmbedded)
	v.SetDefault("REFERENCE_RANGES_WATCH", true)
	v.SetDefault("REFERENCE_RANGES_KEY", "prenatal:reference-ranges")
	v.SetDefault("REFERENCE_RANGES_CHANNEL", "prenatal:reference-ranges:reload")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get development auth, a shared signing key selects "jwt",
// and everything else is "oidc".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.SigningKey != "" {
		return AuthModeJWT
	}
	return AuthModeOIDC
}

// Location resolves CLINIC_TIMEZONE. "Today" is taken in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// RequireDatabase fails when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE %q is not allowed when ENV=production", mode)
		}
	case AuthModeJWT:
		if len(c.SigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes for AUTH_MODE %q", mode)
		}
	case AuthModeOIDC:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is %q (current ENV=%q). "+
					"Refusing to start without authentication configuration", mode, c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q or %q, got %q",
			AuthModeDevelopment, AuthModeJWT, AuthModeOIDC, mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.RangesSource {
	case RangesEmbedded:
	case RangesFile:
		if c.RangesFile == "" {
			return fmt.Errorf("REFERENCE_RANGES_FILE is required when REFERENCE_RANGES_SOURCE is %q", RangesFile)
		}
	case RangesRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when REFERENCE_RANGES_SOURCE is %q", RangesRedis)
		}
	default:
		return fmt.Errorf("REFERENCE_RANGES_SOURCE must be %q, %q or %q, got %q",
			RangesEmbedded, RangesFile, RangesRedis, c.RangesSource)
	}

	return nil
}
