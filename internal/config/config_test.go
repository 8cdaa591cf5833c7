package config

import (
	"testing"
	"time"
)

func TestLoad_FromEnv(t *testing.T) {

	t.Run("default", func(t *testing.T) {

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if cfg.HTTPAddr != ":8080" {
			t.Errorf("expected default http addr, got %s", cfg.HTTPAddr)
		}
		if cfg.DatabaseDriver != "sqlite3" {
			t.Errorf("expected sqlite3 driver, got %s", cfg.DatabaseDriver)
		}
		if cfg.RedisAddr != "localhost:6379" {
			t.Errorf("expected default redis addr, got %s", cfg.RedisAddr)
		}
		if cfg.MirrorTTL != 24*time.Hour {
			t.Errorf("expected 24h mirror ttl, got %s", cfg.MirrorTTL)
		}
		if cfg.AdminEnabled() {
			t.Error("admin api should be disabled without JWT_SECRET")
		}
		if len(cfg.TrustedProxies) != 0 {
			t.Errorf("expected no trusted proxies, got %v", cfg.TrustedProxies)
		}
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "pgx")
		t.Setenv("DATABASE_URL", "postgres://radius@localhost/radius")
		t.Setenv("ACCT_MIRROR_TTL", "2h")
		t.Setenv("TRUSTED_PROXIES", "10.0.0.1,172.16.0.0/12")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if cfg.DatabaseDriver != "pgx" || cfg.MirrorTTL != 2*time.Hour {
			t.Errorf("unexpected config: %+v", cfg)
		}
		if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "172.16.0.0/12" {
			t.Errorf("unexpected trusted proxies: %v", cfg.TrustedProxies)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "mysql")

		if _, err := Load(); err == nil {
			t.Fatal("expected error for unsupported driver")
		}
	})

	t.Run("admin without password hash", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")

		if _, err := Load(); err == nil {
			t.Fatal("expected error when ADMIN_PASSWORD_HASH is missing")
		}
	})
}
