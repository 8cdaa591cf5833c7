package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all the environment-based configurations.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite3"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:"file:hotspot.db?_busy_timeout=5000&_txlock=immediate"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPass     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	MirrorEnabled bool          `envconfig:"ACCT_MIRROR_ENABLED" default:"true"`
	MirrorTTL     time.Duration `envconfig:"ACCT_MIRROR_TTL" default:"24h"`

	LogFilePath string `envconfig:"LOG_FILE_PATH"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	PortalBaseURL   string `envconfig:"PORTAL_BASE_URL" default:"http://localhost:8080"`
	PortalStatusURL string `envconfig:"PORTAL_STATUS_URL" default:"http://wifly-portal.com/status"`

	JWTSecret         string        `envconfig:"JWT_SECRET"`
	JWTIssuer         string        `envconfig:"JWT_ISSUER" default:"hotspot-admin"`
	JWTTTL            time.Duration `envconfig:"JWT_TTL" default:"60m"`
	AdminEmail        string        `envconfig:"ADMIN_EMAIL"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// TrustedProxies are addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	RedeemRatePerMinute int `envconfig:"REDEEM_RATE_PER_MINUTE" default:"10"`
	RedeemBurst         int `envconfig:"REDEEM_BURST" default:"5"`
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AdminEnabled reports whether the admin API should be mounted.
func (c Config) AdminEnabled() bool {
	return c.JWTSecret != ""
}

func (c Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.AdminEnabled() && c.AdminPasswordHash == "" {
		return errors.New("ADMIN_PASSWORD_HASH is required when JWT_SECRET is set")
	}
	if c.RedeemRatePerMinute <= 0 || c.RedeemBurst <= 0 {
		return errors.New("REDEEM_RATE_PER_MINUTE and REDEEM_BURST must be positive")
	}
	return nil
}
