package bridge

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/authz"
	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
)

const (
	msgPaymentConfirmed = "Payment confirmed!"
	msgInvalidReference = "Invalid payment reference."

	// Currency and Method are fixed for checkouts started by this service.
	Currency = "KES"
	Method   = "IntaSend"

	// BonusVoucherMinutes is the duration of the voucher issued for an
	// offline-completed invoice.
	BonusVoucherMinutes = 1440

	invoicePrefix = "inv_"
)

// Plan is one purchasable access plan.
type Plan struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// DefaultPlanID is used when a checkout names no plan.
const DefaultPlanID = "plan_3"

var plans = []Plan{
	{ID: "plan_1", Name: "1 Hour Access", Amount: 50},
	{ID: "plan_2", Name: "12 Hour Access", Amount: 250},
	{ID: "plan_3", Name: "24 Hour Access", Amount: 500},
}

// Plans returns the plan catalogue.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanByID looks up a plan. An empty id selects DefaultPlanID.
func PlanByID(id string) (Plan, bool) {
	if id == "" {
		id = DefaultPlanID
	}
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// ClaimPayment provisions a credential for a completed or pending payment
// made by mac. Claiming an already completed payment again succeeds and
// returns a new credential, since the gateway may retry the redirect.
func (b *Bridge) ClaimPayment(ctx context.Context, transactionID, mac string) (Result, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return Result{}, apperr.Validation("Transaction ID is required.")
	}
	canonical, ok := model.NormalizeMAC(mac)
	if !ok {
		return Result{}, apperr.Validation(msgInvalidMAC)
	}

	var cred model.Credential
	err := b.store.Tx(ctx, func(tx store.Tx) error {
		p, err := tx.Payment(ctx, transactionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(msgInvalidReference)
		}
		if err != nil {
			return apperr.Storage("load payment", err)
		}
		if owner, _ := model.NormalizeMAC(p.MACAddress); owner != canonical {
			if p.Status == model.PaymentCompleted {
				return apperr.Conflict(msgInvalidReference)
			}
			return apperr.NotFound(msgInvalidReference)
		}

		switch p.Status {
		case model.PaymentCompleted:
		case model.PaymentPending:
			err := tx.TransitionPayment(ctx, transactionID, model.PaymentPending, model.PaymentCompleted)
			if errors.Is(err, store.ErrConflict) {
				if p, err = tx.Payment(ctx, transactionID); err != nil {
					return apperr.Storage("reload payment", err)
				}
				if p.Status != model.PaymentCompleted {
					return apperr.Conflict("Payment is " + string(p.Status) + ".")
				}
			} else if err != nil {
				return apperr.Storage("complete payment", err)
			}
		default:
			return apperr.Conflict("Payment is " + string(p.Status) + ".")
		}

		cred, err = b.sessions.CreateSessionTx(ctx, tx, canonical, authz.PlanTimeout(p.PlanName), "payment")
		return err
	})
	err = classify(err, "claim payment")

	fields := map[string]any{"transaction_id": transactionID, "mac": canonical}
	if err != nil {
		b.metrics.Redemption("payment", apperr.KindOf(err).String())
		fields["reason"] = err.Error()
		b.log.WithFields(fields).Warn("Payment claim failed")
		return Result{}, err
	}

	b.metrics.Redemption("payment", "success")
	b.metrics.SessionCreated("payment")
	fields["username"] = cred.Username
	b.log.WithFields(fields).Info("Payment claimed")
	return success(msgPaymentConfirmed, cred), nil
}

// Checkout is a started, still pending purchase.
type Checkout struct {
	Payment    model.Payment `json:"payment"`
	ConfirmURL string        `json:"confirmUrl"`
}

// StartCheckout records a Pending payment for planID and returns the link
// the device follows once the provider confirms it.
func (b *Bridge) StartCheckout(ctx context.Context, mac, planID, phone string) (Checkout, error) {
	canonical, ok := model.NormalizeMAC(mac)
	if !ok {
		return Checkout{}, apperr.Validation(msgInvalidMAC)
	}
	plan, ok := PlanByID(planID)
	if !ok {
		return Checkout{}, apperr.Validation("Unknown plan.")
	}

	suffix, err := b.randomBase36(7)
	if err != nil {
		return Checkout{}, err
	}
	now := b.now()
	p := model.Payment{
		TransactionID: invoicePrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + strings.ToLower(suffix),
		Amount:        plan.Amount,
		Currency:      Currency,
		Status:        model.PaymentPending,
		MACAddress:    canonical,
		PlanName:      plan.Name,
		Method:        Method,
		PhoneNumber:   strings.TrimSpace(phone),
		CreatedAt:     now,
	}
	err = b.store.Tx(ctx, func(tx store.Tx) error {
		err := tx.InsertPayment(ctx, p)
		if errors.Is(err, store.ErrAlreadyExists) {
			return apperr.Conflict("Please retry the checkout.")
		}
		return err
	})
	if err != nil {
		return Checkout{}, classify(err, "start checkout")
	}

	q := url.Values{}
	q.Set("payment_ref", p.TransactionID)
	q.Set("mac", canonical)
	b.log.WithFields(map[string]any{
		"transaction_id": p.TransactionID,
		"mac":            canonical,
		"plan":           plan.Name,
	}).Info("Checkout started")
	return Checkout{Payment: p, ConfirmURL: strings.TrimRight(b.portalURL, "/") + "/confirm-payment?" + q.Encode()}, nil
}

// Provider states understood by ConfirmPaymentWebhook.
const (
	ProviderComplete = "COMPLETE"
	ProviderFailed   = "FAILED"
)

// WebhookOutcome says what a webhook did.
type WebhookOutcome string

const (
	OutcomeCompleted        WebhookOutcome = "completed"
	OutcomeFailed           WebhookOutcome = "failed"
	OutcomeAlreadyProcessed WebhookOutcome = "already_processed"
	OutcomeUnknownPayment   WebhookOutcome = "unknown_payment"
	OutcomeIgnored          WebhookOutcome = "ignored"
)

// ConfirmPaymentWebhook applies a provider notification. It never provisions
// a session: ClaimPayment is the only path that turns a payment into a
// credential. A completed inv_ invoice with a MAC also gets a best-effort
// bonus voucher.
func (b *Bridge) ConfirmPaymentWebhook(ctx context.Context, transactionID, providerState string) (WebhookOutcome, error) {
	fields := map[string]any{"transaction_id": transactionID, "state": providerState}

	var target model.PaymentStatus
	stateLabel := "other"
	switch providerState {
	case ProviderComplete:
		target = model.PaymentCompleted
		stateLabel = providerState
	case ProviderFailed:
		target = model.PaymentFailed
		stateLabel = providerState
	}
	if target == "" || transactionID == "" {
		b.metrics.Webhook(stateLabel, string(OutcomeIgnored))
		b.log.WithFields(fields).Info("Ignoring webhook")
		return OutcomeIgnored, nil
	}

	var (
		outcome WebhookOutcome
		payment model.Payment
	)
	err := b.store.Tx(ctx, func(tx store.Tx) error {
		p, err := tx.Payment(ctx, transactionID)
		if errors.Is(err, store.ErrNotFound) {
			outcome = OutcomeUnknownPayment
			return nil
		}
		if err != nil {
			return err
		}
		payment = p

		switch {
		case p.Status == target:
			outcome = OutcomeAlreadyProcessed
			return nil
		case p.Status != model.PaymentPending:
			outcome = OutcomeIgnored
			return nil
		}

		err = tx.TransitionPayment(ctx, transactionID, model.PaymentPending, target)
		if errors.Is(err, store.ErrConflict) {
			outcome = OutcomeAlreadyProcessed
			return nil
		}
		if err != nil {
			return err
		}
		if target == model.PaymentCompleted {
			outcome = OutcomeCompleted
		} else {
			outcome = OutcomeFailed
		}
		return nil
	})
	if err != nil {
		b.metrics.Webhook(stateLabel, "error")
		return "", apperr.Storage("apply webhook", err)
	}

	b.metrics.Webhook(stateLabel, string(outcome))
	fields["outcome"] = outcome
	if outcome == OutcomeUnknownPayment {
		b.log.WithFields(fields).Warn("Webhook for a payment not started by checkout")
	} else {
		b.log.WithFields(fields).Info("Webhook processed")
	}

	if outcome == OutcomeCompleted && strings.HasPrefix(transactionID, invoicePrefix) && payment.MACAddress != "" {
		b.issueBonusVoucher(ctx, transactionID)
	}
	return outcome, nil
}

// BonusVoucherCode is AUTO-<invoice_id[4:12], upper-cased>.
func BonusVoucherCode(invoiceID string) string {
	end := len(invoiceID)
	if end > 12 {
		end = 12
	}
	if end <= len(invoicePrefix) {
		return "AUTO-"
	}
	return "AUTO-" + strings.ToUpper(invoiceID[len(invoicePrefix):end])
}

// issueBonusVoucher runs after the payment commit. Its failure is logged and
// never undoes the completed payment.
func (b *Bridge) issueBonusVoucher(ctx context.Context, invoiceID string) {
	v := model.Voucher{
		Code:            BonusVoucherCode(invoiceID),
		DurationMinutes: BonusVoucherMinutes,
		CreatedAt:       b.now(),
	}
	err := b.store.Tx(ctx, func(tx store.Tx) error {
		return tx.InsertVoucher(ctx, v)
	})
	fields := map[string]any{"transaction_id": invoiceID, "voucher": v.Code}
	if err != nil {
		fields["error"] = err.Error()
		b.log.WithFields(fields).Warn("Failed to create voucher for offline payment")
		return
	}
	b.log.WithFields(fields).Info("Voucher created for offline payment")
}

// RefundPayment moves a completed payment to Refunded. Refunding an already
// refunded payment returns it unchanged. Sessions already granted for the
// payment are left alone.
func (b *Bridge) RefundPayment(ctx context.Context, transactionID, reason string) (model.Payment, error) {
	var refunded model.Payment
	err := b.store.Tx(ctx, func(tx store.Tx) error {
		p, err := tx.Payment(ctx, transactionID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Payment not found.")
		}
		if err != nil {
			return apperr.Storage("load payment", err)
		}

		switch p.Status {
		case model.PaymentRefunded:
			refunded = p
			return nil
		case model.PaymentCompleted:
		default:
			return apperr.Conflict("Only completed payments can be refunded.")
		}

		err = tx.RefundPayment(ctx, transactionID, reason, b.now())
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return apperr.Storage("refund payment", err)
		}
		if refunded, err = tx.Payment(ctx, transactionID); err != nil {
			return apperr.Storage("reload payment", err)
		}
		if refunded.Status != model.PaymentRefunded {
			return apperr.Conflict("Only completed payments can be refunded.")
		}
		return nil
	})
	if err != nil {
		return model.Payment{}, classify(err, "refund payment")
	}

	b.log.WithFields(map[string]any{"transaction_id": transactionID, "reason": reason}).
		Info("Payment refunded")
	return refunded, nil
}
