package redisclient

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mohit83k/hotspot/internal/model"
)

// BreakerStore wraps a Store so a Redis outage fails fast instead of adding
// retry latency to every gateway authentication.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore trips after 5 consecutive failures and probes again after 30s.
func NewBreakerStore(inner Store, onStateChange func(from, to string)) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "acct-mirror",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onStateChange(from.String(), to.String())
		}
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerStore) Save(ctx context.Context, record model.AccountingRecord) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Save(ctx, record)
	})
	return err
}

func (b *BreakerStore) Recent(ctx context.Context, username string, limit int) ([]model.AccountingRecord, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Recent(ctx, username, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]model.AccountingRecord), nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}
