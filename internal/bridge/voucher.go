package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/authz"
	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
)

const (
	MaxVoucherBatch    = 100
	voucherCodeRetries = 3

	msgVoucherRedeemed = "Voucher redeemed successfully!"
	msgVoucherNotFound = "Voucher not found."
	msgVoucherUsed     = "This voucher has already been used."
	msgInvalidMAC      = "Invalid MAC address format."
)

// RedeemVoucher marks code used by mac and provisions a credential for the
// voucher's duration. A used voucher is never redeemed again, not even by
// the device that first used it.
func (b *Bridge) RedeemVoucher(ctx context.Context, code, mac string) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{}, apperr.Validation("Voucher code is required.")
	}
	canonical, ok := model.NormalizeMAC(mac)
	if !ok {
		return Result{}, apperr.Validation(msgInvalidMAC)
	}

	var cred model.Credential
	err := b.store.Tx(ctx, func(tx store.Tx) error {
		v, err := tx.Voucher(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(msgVoucherNotFound)
		}
		if err != nil {
			return apperr.Storage("load voucher", err)
		}
		if v.IsUsed {
			return apperr.Conflict(msgVoucherUsed)
		}

		err = tx.MarkVoucherUsed(ctx, code, canonical, b.now())
		if errors.Is(err, store.ErrConflict) {
			return apperr.Conflict(msgVoucherUsed)
		}
		if err != nil {
			return apperr.Storage("mark voucher used", err)
		}

		cred, err = b.sessions.CreateSessionTx(ctx, tx, canonical, authz.VoucherTimeout(v.DurationMinutes), "voucher")
		return err
	})
	err = classify(err, "redeem voucher")

	fields := map[string]any{"voucher": code, "mac": canonical}
	if err != nil {
		b.metrics.Redemption("voucher", apperr.KindOf(err).String())
		fields["reason"] = err.Error()
		b.log.WithFields(fields).Warn("Voucher redemption failed")
		return Result{}, err
	}

	b.metrics.Redemption("voucher", "success")
	b.metrics.SessionCreated("voucher")
	fields["username"] = cred.Username
	b.log.WithFields(fields).Info("Voucher redeemed")
	return success(msgVoucherRedeemed, cred), nil
}

// IssueVouchers creates quantity unused vouchers of durationMinutes each.
// smsRecipient is recorded on every voucher; delivery is out of band.
func (b *Bridge) IssueVouchers(ctx context.Context, durationMinutes, quantity int, smsRecipient string) ([]model.Voucher, error) {
	if durationMinutes < 1 {
		return nil, apperr.Validation("Duration must be at least 1 minute.")
	}
	if quantity < 1 || quantity > MaxVoucherBatch {
		return nil, apperr.Validation(fmt.Sprintf("Quantity must be between 1 and %d.", MaxVoucherBatch))
	}

	vouchers := make([]model.Voucher, 0, quantity)
	err := b.store.Tx(ctx, func(tx store.Tx) error {
		for i := 0; i < quantity; i++ {
			v, err := b.insertVoucher(ctx, tx, durationMinutes, smsRecipient)
			if err != nil {
				return err
			}
			vouchers = append(vouchers, v)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "issue vouchers")
	}

	b.log.WithFields(map[string]any{"quantity": quantity, "duration_minutes": durationMinutes}).
		Info("Issued vouchers")
	return vouchers, nil
}

func (b *Bridge) insertVoucher(ctx context.Context, tx store.Tx, durationMinutes int, smsRecipient string) (model.Voucher, error) {
	for attempt := 0; attempt < voucherCodeRetries; attempt++ {
		suffix, err := b.randomBase36(6)
		if err != nil {
			return model.Voucher{}, err
		}
		now := b.now()
		v := model.Voucher{
			Code:            "WIFLY-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix,
			DurationMinutes: durationMinutes,
			CreatedAt:       now,
			SMSRecipient:    smsRecipient,
		}
		err = tx.InsertVoucher(ctx, v)
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return model.Voucher{}, apperr.Storage("insert voucher", err)
		}
		return v, nil
	}
	return model.Voucher{}, apperr.Conflict("could not allocate a unique voucher code")
}
