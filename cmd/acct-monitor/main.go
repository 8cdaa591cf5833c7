package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/mohit83k/hotspot/internal/config"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/redisclient"
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
		panic("failed to init logger: " + err.Error())
	}

	store := redisclient.NewRedisStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.MirrorTTL)
	defer store.Close()

	// Keyspace notifications must include string SET events (notify-keyspace-events "E$").
	pubsub := store.Client().PSubscribe(ctx, "__keyevent@*__:set")
	log.Info("Started Redis subscriber for accounting SET events")

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down Redis subscriber")
			_ = pubsub.Close()
			return

		case msg, ok := <-pubsub.Channel():
			if !ok {
				log.Warn("Redis subscription closed")
				return
			}
			if !strings.HasPrefix(msg.Payload, redisclient.KeyPrefix) {
				continue
			}

			fields := map[string]any{
				"received_at": time.Now().Format("2006-01-02 15:04:05.000000"),
				"key":         msg.Payload,
			}
			rec, err := store.Record(ctx, msg.Payload)
			switch {
			case errors.Is(err, redisclient.ErrRecordGone):
				log.WithFields(fields).Warn("Accounting key expired before it could be read")
				continue
			case err != nil:
				log.WithFields(fields).Error(err)
				continue
			}

			fields["username"] = rec.Username
			fields["acct_session_id"] = rec.AcctSessionID
			fields["status"] = rec.AcctStatusType
			fields["calling_station_id"] = rec.CallingStationID
			fields["nas_ip"] = rec.NASIPAddress
			fields["start_time"] = rec.StartTime
			log.WithFields(fields).Info("Received RADIUS accounting record")
		}
	}
}
