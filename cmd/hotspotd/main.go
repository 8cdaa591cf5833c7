package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/mohit83k/hotspot/internal/adminauth"
	"github.com/mohit83k/hotspot/internal/authz"
	"github.com/mohit83k/hotspot/internal/bridge"
	"github.com/mohit83k/hotspot/internal/config"
	"github.com/mohit83k/hotspot/internal/gateway"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/metrics"
	"github.com/mohit83k/hotspot/internal/redisclient"
	"github.com/mohit83k/hotspot/internal/server"
	"github.com/mohit83k/hotspot/internal/store/sqlstore"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log, err := logger.NewLogrusLogger(cfg.LogFilePath, cfg.LogLevel)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logger.Logger) error {
	st, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	m := metrics.New()
	engineOpts := []authz.Option{authz.WithMetrics(m)}

	proxies, err := gateway.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}

	deps := server.Deps{
		Metrics:       m,
		Log:           log,
		RatePerMinute: cfg.RedeemRatePerMinute,
		Burst:         cfg.RedeemBurst,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		Proxies:       proxies,
	}

	if cfg.MirrorEnabled {
		rs := redisclient.NewRedisStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.MirrorTTL)
		defer rs.Close()
		mirror := redisclient.NewBreakerStore(rs, func(from, to string) {
			log.WithFields(map[string]any{"from": from, "to": to}).Warn("Accounting mirror circuit changed state")
		})
		engineOpts = append(engineOpts, authz.WithMirror(mirror))
		deps.History = mirror
	} else {
		log.Info("Accounting mirror disabled")
	}

	engine := authz.New(st, log, engineOpts...)
	deps.Sessions = engine
	deps.Gateway = gateway.New(engine, log, cfg.PortalStatusURL, gateway.WithTrustedProxies(proxies))
	deps.Portal = bridge.New(st, engine, log,
		bridge.WithMetrics(m),
		bridge.WithPortalURL(cfg.PortalBaseURL),
	)

	if cfg.AdminEnabled() {
		tokens := adminauth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
		deps.Tokens = tokens
		deps.Auth = adminauth.NewAuthenticator(cfg.AdminEmail, cfg.AdminPasswordHash, tokens)
	} else {
		log.Warn("JWT_SECRET not set, admin API disabled")
	}

	return server.NewServer(cfg.HTTPAddr, deps).ListenAndServe(ctx)
}
