// Package bridge turns vouchers and payments into RADIUS credentials.
//
// Every redemption or claim runs in a single store transaction together with
// the credential writes, so a voucher is never marked used without a session
// and a session never exists for a voucher left unused.
package bridge

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/metrics"
	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
)

// Sessions provisions credentials inside a caller-owned transaction.
type Sessions interface {
	CreateSessionTx(ctx context.Context, tx store.Tx, mac string, sessionTimeout int, label string) (model.Credential, error)
}

// Result is what the portal UI receives after a redemption or claim.
type Result struct {
	Success         bool             `json:"success"`
	Message         string           `json:"message"`
	CredentialToken string           `json:"credentialToken,omitempty"`
	Credential      model.Credential `json:"-"`
}

func success(message string, cred model.Credential) Result {
	return Result{Success: true, Message: message, CredentialToken: cred.Token(), Credential: cred}
}

// Bridge owns vouchers and payments.
type Bridge struct {
	store     store.Store
	sessions  Sessions
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	rand      io.Reader
	portalURL string
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithMetrics(m *metrics.Metrics) Option { return func(b *Bridge) { b.metrics = m } }

func WithClock(now func() time.Time) Option { return func(b *Bridge) { b.now = now } }

func WithRand(r io.Reader) Option { return func(b *Bridge) { b.rand = r } }

// WithPortalURL sets the base used for checkout confirmation links.
func WithPortalURL(u string) Option { return func(b *Bridge) { b.portalURL = u } }

// New returns a Bridge over st that provisions sessions through sessions.
func New(st store.Store, sessions Sessions, log logger.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		store:    st,
		sessions: sessions,
		log:      log,
		now:      time.Now,
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// randomBase36 returns n upper-case base36 characters without modulo bias.
func (b *Bridge) randomBase36(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(b.rand, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, c := range buf {
			if c >= 252 {
				continue
			}
			out = append(out, base36[c%36])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// classify leaves typed errors alone and reports anything else, such as a
// failed commit, as a storage failure.
func classify(err error, msg string) error {
	if err == nil || apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Storage(msg, err)
}
