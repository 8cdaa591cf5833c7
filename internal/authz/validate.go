package authz

import (
	"context"
	"errors"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
)

// Reason explains a denial. The gateway never shows it to the client.
type Reason string

const (
	ReasonUserNotFound     Reason = "user not found"
	ReasonInvalidPassword  Reason = "invalid password"
	ReasonBindingViolation Reason = "MAC address binding violation"
)

// AuthRequest is one gateway authorization query. MAC is optional; when it
// is empty the binding check is skipped.
type AuthRequest struct {
	Username     string
	Password     string
	MAC          string
	NASIPAddress string
	FramedIP     string
}

// Decision is the outcome of ValidateAuthentication.
type Decision struct {
	Granted        bool
	SessionTimeout int
	Reason         Reason
	AcctSessionID  string
}

// Err maps a denial onto the error kinds used by the HTTP layers.
func (d Decision) Err() error {
	switch {
	case d.Granted:
		return nil
	case d.Reason == ReasonBindingViolation:
		return apperr.BindingViolation(string(d.Reason))
	default:
		return apperr.NotFound(string(d.Reason))
	}
}

func deny(r Reason) Decision { return Decision{Reason: r} }

// ValidateAuthentication checks a credential against the store. Checks run
// in a fixed order: unknown user, wrong password, MAC binding. A grant
// appends a Start accounting record in the same transaction.
func (e *Engine) ValidateAuthentication(ctx context.Context, req AuthRequest) (Decision, error) {
	var mac string
	if req.MAC != "" {
		canonical, ok := model.NormalizeMAC(req.MAC)
		if !ok {
			return Decision{}, apperr.Validation("invalid MAC address")
		}
		mac = canonical
	}

	var (
		decision Decision
		record   model.AccountingRecord
	)
	err := e.store.Tx(ctx, func(tx store.Tx) error {
		password, err := tx.Get(ctx, req.Username, model.CleartextPassword)
		if errors.Is(err, store.ErrNotFound) {
			decision = deny(ReasonUserNotFound)
			return nil
		}
		if err != nil {
			return err
		}
		if !passwordsEqual(password.Value, req.Password) {
			decision = deny(ReasonInvalidPassword)
			return nil
		}

		if mac != "" {
			bound, err := tx.Get(ctx, req.Username, model.CallingStationID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			case !sameMAC(bound.Value, mac):
				decision = deny(ReasonBindingViolation)
				return nil
			}
		}

		timeout, err := e.sessionTimeout(ctx, tx, req.Username)
		if err != nil {
			return err
		}

		record = e.startRecord(req, mac)
		if err := tx.AppendAccounting(ctx, record); err != nil {
			return err
		}
		decision = Decision{Granted: true, SessionTimeout: timeout, AcctSessionID: record.AcctSessionID}
		return nil
	})
	if err != nil {
		e.metrics.AuthDecision("error")
		return Decision{}, apperr.Storage("validate authentication", err)
	}

	fields := map[string]any{"username": req.Username, "mac": mac}
	if !decision.Granted {
		fields["reason"] = decision.Reason
		e.metrics.AuthDecision("denied")
		e.log.WithFields(fields).Warn("Authentication denied")
		return decision, nil
	}

	e.metrics.AuthDecision("granted")
	fields["session_timeout"] = decision.SessionTimeout
	fields["acct_session_id"] = decision.AcctSessionID
	e.log.WithFields(fields).Info("Authentication granted")
	e.mirrorRecord(ctx, record)
	return decision, nil
}

func (e *Engine) startRecord(req AuthRequest, mac string) model.AccountingRecord {
	station := mac
	if station == "" {
		station = "unknown"
	}
	return model.AccountingRecord{
		Username:         req.Username,
		NASIPAddress:     req.NASIPAddress,
		NASPortID:        station,
		NASPortType:      model.NASPortTypeWirelessName,
		AcctStatusType:   model.AcctStatusStart,
		AcctSessionID:    e.newID(),
		CallingStationID: station,
		FramedIPAddress:  req.FramedIP,
		StartTime:        e.gen.Now().UTC(),
	}
}

// mirrorRecord copies a committed record to the mirror. Failures are logged
// and counted; they never affect the decision.
func (e *Engine) mirrorRecord(ctx context.Context, record model.AccountingRecord) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.Save(ctx, record); err != nil {
		e.metrics.MirrorFailure()
		e.log.WithFields(map[string]any{
			"username":        record.Username,
			"acct_session_id": record.AcctSessionID,
		}).Error(err)
	}
}

// sameMAC compares a stored binding to a canonical MAC. Bindings written
// outside this service may use another notation.
func sameMAC(stored, canonical string) bool {
	if normalized, ok := model.NormalizeMAC(stored); ok {
		return normalized == canonical
	}
	return stored == canonical
}
