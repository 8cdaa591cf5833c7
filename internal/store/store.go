// Package store defines the transactional Session Store the authorization
// engine and the voucher/payment bridge run against.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mohit83k/hotspot/internal/model"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrConflict indicates a compare-and-set lost against the current row state.
var ErrConflict = errors.New("record state changed")

// Store opens units of work. fn runs inside one transaction; a non-nil
// return rolls it back, nil commits.
type Store interface {
	Tx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	// Put upserts an entry. OpAdd accumulates into the existing numeric value
	// and fails with ErrNotFound when there is none.
	Put(ctx context.Context, username string, e model.Entry) error
	// Create inserts e only if the username has no entry for that attribute.
	Create(ctx context.Context, username string, e model.Entry) (bool, error)
	Get(ctx context.Context, username string, attr model.Attribute) (model.Entry, error)
	// Entries returns every check and reply entry for username whose
	// attribute this service knows. Rows with other attributes are skipped.
	Entries(ctx context.Context, username string) ([]model.Entry, error)
	// DeleteAll removes every check and reply entry for username.
	DeleteAll(ctx context.Context, username string) (int64, error)
	AppendAccounting(ctx context.Context, rec model.AccountingRecord) error

	Voucher(ctx context.Context, code string) (model.Voucher, error)
	InsertVoucher(ctx context.Context, v model.Voucher) error
	// MarkVoucherUsed flips is_used only if it is still false (ErrConflict otherwise).
	MarkVoucherUsed(ctx context.Context, code, mac string, at time.Time) error

	Payment(ctx context.Context, transactionID string) (model.Payment, error)
	InsertPayment(ctx context.Context, p model.Payment) error
	// TransitionPayment moves a payment from -> to only if it is currently in from.
	TransitionPayment(ctx context.Context, transactionID string, from, to model.PaymentStatus) error
	// RefundPayment moves a Completed payment to Refunded with a reason.
	RefundPayment(ctx context.Context, transactionID, reason string, at time.Time) error
}
