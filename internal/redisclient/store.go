package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohit83k/hotspot/internal/model"
)

// KeyPrefix namespaces mirrored accounting records.
const KeyPrefix = "radius:acct:"

const scanBatch = 100

// Store mirrors accounting records to Redis for live monitoring.
type Store interface {
	Save(ctx context.Context, record model.AccountingRecord) error
	Recent(ctx context.Context, username string, limit int) ([]model.AccountingRecord, error)
}

// RedisStore implements the Store interface using go-redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a new RedisStore with auto-reconnect and retry.
// A zero ttl keeps records until evicted by Redis.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		MaxRetries:      5,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
	})
	return &RedisStore{client: client, ttl: ttl}
}

// Key is radius:acct:<username>:<session id>:<start time>.
func Key(record model.AccountingRecord) string {
	return fmt.Sprintf("%s%s:%s:%s", KeyPrefix, record.Username, record.AcctSessionID, record.StartTime.UTC().Format("20060102T150405"))
}

// ParseKey splits a mirror key back into username and session id.
func ParseKey(key string) (username, sessionID string, ok bool) {
	rest, found := strings.CutPrefix(key, KeyPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Save stores the accounting record in Redis with the configured TTL.
func (r *RedisStore) Save(ctx context.Context, record model.AccountingRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = r.client.Set(ctx, Key(record), string(value), r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to save record in redis: %w", err)
	}

	return nil
}

// Recent returns up to limit mirrored records for username, newest first.
func (r *RedisStore) Recent(ctx context.Context, username string, limit int) ([]model.AccountingRecord, error) {
	match := KeyPrefix + username + ":*"

	var keys []string
	var cursor uint64
	for {
		page, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan accounting keys: %w", err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	records := make([]model.AccountingRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := r.Record(ctx, key)
		if errors.Is(err, ErrRecordGone) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ErrRecordGone is returned for a key that expired or was never written.
var ErrRecordGone = errors.New("accounting record no longer in redis")

// Record reads and decodes the record stored under key.
func (r *RedisStore) Record(ctx context.Context, key string) (model.AccountingRecord, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return model.AccountingRecord{}, ErrRecordGone
	}
	if err != nil {
		return model.AccountingRecord{}, fmt.Errorf("failed to read %s: %w", key, err)
	}
	var rec model.AccountingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.AccountingRecord{}, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return rec, nil
}

// Client exposes the underlying client for subscribers sharing the connection settings.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
