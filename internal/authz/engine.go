// Package authz is the authorization engine: it mints credentials bound to a
// MAC address and a time budget, validates them for the gateway, and extends
// or revokes them.
package authz

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/credential"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/metrics"
	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
)

const maxUsernameAttempts = 5

// Mirror receives a copy of every accounting record after it is committed.
type Mirror interface {
	Save(ctx context.Context, record model.AccountingRecord) error
}

// Engine owns credentials and authorization records.
type Engine struct {
	store   store.Store
	gen     *credential.Generator
	mirror  Mirror
	log     logger.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithGenerator(g *credential.Generator) Option { return func(e *Engine) { e.gen = g } }

func WithMirror(m Mirror) Option { return func(e *Engine) { e.mirror = m } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithSessionIDs replaces the accounting session id source.
func WithSessionIDs(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// New returns an Engine over st.
func New(st store.Store, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		gen:   credential.NewGenerator(),
		log:   log,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSession provisions a credential for mac with durationMinutes of access.
func (e *Engine) CreateSession(ctx context.Context, mac string, durationMinutes int, label string) (model.Credential, error) {
	if durationMinutes <= 0 {
		return model.Credential{}, apperr.Validation("duration must be positive")
	}
	var cred model.Credential
	err := e.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		cred, err = e.CreateSessionTx(ctx, tx, mac, VoucherTimeout(durationMinutes), label)
		return err
	})
	if err != nil {
		return model.Credential{}, err
	}
	e.metrics.SessionCreated(label)
	return cred, nil
}

// CreateSessionTx writes the check and reply entries for a new credential
// inside the caller's transaction. sessionTimeout is in seconds.
func (e *Engine) CreateSessionTx(ctx context.Context, tx store.Tx, mac string, sessionTimeout int, label string) (model.Credential, error) {
	canonical, ok := model.NormalizeMAC(mac)
	if !ok {
		return model.Credential{}, apperr.Validation("invalid MAC address")
	}
	if sessionTimeout <= 0 {
		return model.Credential{}, apperr.Validation("session timeout must be positive")
	}

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		cred, err := e.gen.Generate(canonical, attempt)
		if err != nil {
			return model.Credential{}, fmt.Errorf("generate credential: %w", err)
		}

		created, err := tx.Create(ctx, cred.Username, model.PasswordEntry(cred.Password))
		if err != nil {
			return model.Credential{}, apperr.Storage("store credential", err)
		}
		if !created {
			e.log.WithFields(map[string]any{"username": cred.Username, "attempt": attempt}).
				Warn("Username already taken, deriving another")
			continue
		}

		if err := tx.Put(ctx, cred.Username, model.TimeoutEntry(sessionTimeout)); err != nil {
			return model.Credential{}, apperr.Storage("store session timeout", err)
		}
		if err := tx.Put(ctx, cred.Username, model.BindingEntry(canonical)); err != nil {
			return model.Credential{}, apperr.Storage("store MAC binding", err)
		}

		e.log.WithFields(map[string]any{
			"username":        cred.Username,
			"mac":             canonical,
			"session_timeout": sessionTimeout,
			"plan":            label,
			"state":           model.StateProvisioning,
		}).Info("Provisioned RADIUS credential")
		return cred, nil
	}
	return model.Credential{}, apperr.Conflict("could not allocate a unique username")
}

// ExtendSession adds additionalMinutes to the stored Session-Timeout.
func (e *Engine) ExtendSession(ctx context.Context, username string, additionalMinutes int) error {
	if additionalMinutes <= 0 {
		return apperr.Validation("additional minutes must be positive")
	}
	err := e.store.Tx(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, username, model.AddTimeoutEntry(VoucherTimeout(additionalMinutes)))
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("session not found")
	}
	if err != nil {
		return apperr.Storage("extend session", err)
	}

	e.metrics.SessionChanged("extend")
	e.log.WithFields(map[string]any{"username": username, "minutes": additionalMinutes}).
		Info("Extended session")
	return nil
}

// RevokeSession deletes every entry for username. Revoking an unknown or
// already revoked username succeeds.
func (e *Engine) RevokeSession(ctx context.Context, username string) error {
	var removed int64
	err := e.store.Tx(ctx, func(tx store.Tx) error {
		var err error
		removed, err = tx.DeleteAll(ctx, username)
		return err
	})
	if err != nil {
		return apperr.Storage("revoke session", err)
	}

	e.metrics.SessionChanged("revoke")
	e.log.WithFields(map[string]any{
		"username": username,
		"removed":  removed,
		"state":    model.StateRevoked,
	}).Info("Revoked session")
	return nil
}

// Lookup returns the current authorization record for username. Expiry is
// computed for display only; validation does not enforce it.
func (e *Engine) Lookup(ctx context.Context, username string) (model.AuthorizationRecord, error) {
	rec := model.AuthorizationRecord{Username: username, SessionTimeout: DefaultSessionTimeout}
	err := e.store.Tx(ctx, func(tx store.Tx) error {
		entries, err := tx.Entries(ctx, username)
		if err != nil {
			return err
		}
		hasPassword := false
		for _, entry := range entries {
			switch entry.Attribute {
			case model.CleartextPassword:
				hasPassword = true
			case model.SessionTimeout:
				if rec.SessionTimeout, err = entry.Seconds(); err != nil {
					return err
				}
			case model.CallingStationID:
				rec.CallingStationID = entry.Value
			}
		}
		if !hasPassword {
			return store.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.AuthorizationRecord{}, apperr.NotFound("session not found")
	}
	if err != nil {
		return model.AuthorizationRecord{}, apperr.Storage("lookup session", err)
	}

	rec.State = model.StateActive
	if created, ok := credential.CreatedAt(username); ok {
		rec.CreatedAt = created
		if e.gen.Now().After(rec.ExpiresAt()) {
			rec.State = model.StateExpired
		}
	}
	return rec, nil
}

func (e *Engine) sessionTimeout(ctx context.Context, tx store.Tx, username string) (int, error) {
	entry, err := tx.Get(ctx, username, model.SessionTimeout)
	if errors.Is(err, store.ErrNotFound) {
		return DefaultSessionTimeout, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Seconds()
}

func passwordsEqual(stored, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
