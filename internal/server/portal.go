package server

import (
	"errors"
	"net/http"

	"github.com/mohit83k/hotspot/internal/bridge"
)

type redeemRequest struct {
	Code       string `json:"code"`
	MACAddress string `json:"macAddress"`
}

type claimRequest struct {
	TransactionID string `json:"transactionId"`
	MACAddress    string `json:"macAddress"`
}

type checkoutRequest struct {
	MACAddress  string `json:"macAddress"`
	PlanID      string `json:"planId"`
	PhoneNumber string `json:"phoneNumber"`
}

// webhookPayload is the provider's invoice notification.
type webhookPayload struct {
	Invoice struct {
		InvoiceID string `json:"invoice_id"`
		State     string `json:"state"`
		Amount    any    `json:"amount"`
		Provider  string `json:"provider"`
	} `json:"invoice"`
}

func (h *handlers) redeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, bridge.Result{Message: "Invalid request body."})
		return
	}
	res, err := h.Portal.RedeemVoucher(r.Context(), req.Code, req.MACAddress)
	h.respondResult(w, res, err)
}

func (h *handlers) claimPayment(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, bridge.Result{Message: "Invalid request body."})
		return
	}
	res, err := h.Portal.ClaimPayment(r.Context(), req.TransactionID, req.MACAddress)
	h.respondResult(w, res, err)
}

func (h *handlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	co, err := h.Portal.StartCheckout(r.Context(), req.MACAddress, req.PlanID, req.PhoneNumber)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, co)
}

func (h *handlers) plans(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"plans": bridge.Plans()})
}

// webhook always acknowledges a parseable notification, including ones it
// ignores, so the provider does not keep retrying them.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := decodeJSON(r, &payload); err != nil {
		if !errors.Is(err, errEmptyBody) {
			h.Log.WithFields(map[string]any{"error": err.Error()}).Warn("Rejected webhook body")
		}
		respondError(w, http.StatusBadRequest, "Invalid webhook payload.")
		return
	}

	inv := payload.Invoice
	h.Log.WithFields(map[string]any{
		"invoice_id": inv.InvoiceID,
		"state":      inv.State,
		"amount":     inv.Amount,
		"provider":   inv.Provider,
	}).Info("Received payment webhook")

	outcome, err := h.Portal.ConfirmPaymentWebhook(r.Context(), inv.InvoiceID, inv.State)
	if err != nil {
		h.Log.Error(err)
		respondError(w, http.StatusInternalServerError, "Failed to process webhook.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}
