package model

import "time"

// Voucher is a one-shot prepaid access code.
type Voucher struct {
	Code            string     `json:"code"`
	DurationMinutes int        `json:"duration_minutes"`
	IsUsed          bool       `json:"is_used"`
	CreatedAt       time.Time  `json:"created_at"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	UsedByMAC       string     `json:"used_by_mac,omitempty"`
	SMSRecipient    string     `json:"sms_recipient,omitempty"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentRefunded  PaymentStatus = "Refunded"
	PaymentFailed    PaymentStatus = "Failed"
)

// CanTransition reports whether from -> to is a legal payment transition.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return to == PaymentCompleted || to == PaymentFailed
	case PaymentCompleted:
		return to == PaymentRefunded
	default:
		return false
	}
}

// Payment is a mobile-money purchase of a plan for one device.
type Payment struct {
	TransactionID string        `json:"transaction_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	MACAddress    string        `json:"mac_address"`
	PlanName      string        `json:"plan_name"`
	Method        string        `json:"payment_method"`
	PhoneNumber   string        `json:"phone_number,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty"`
	RefundReason  string        `json:"refund_reason,omitempty"`
}
