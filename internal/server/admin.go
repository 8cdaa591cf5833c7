package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mohit83k/hotspot/internal/adminauth"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type issueVouchersRequest struct {
	DurationMinutes int    `json:"durationMinutes"`
	Quantity        int    `json:"quantity"`
	PhoneNumber     string `json:"phoneNumber"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	token, err := h.Auth.Login(req.Email, req.Password)
	if errors.Is(err, adminauth.ErrInvalidCredentials) {
		h.Log.WithFields(map[string]any{"email": req.Email}).Warn("Admin login failed")
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		h.Log.Error(err)
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handlers) issueVouchers(w http.ResponseWriter, r *http.Request) {
	var req issueVouchersRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	vouchers, err := h.Portal.IssueVouchers(r.Context(), req.DurationMinutes, req.Quantity, req.PhoneNumber)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"vouchers": vouchers})
}

func (h *handlers) showSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Sessions.Lookup(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *handlers) extendSession(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	username := mux.Vars(r)["username"]
	if err := h.Sessions.ExtendSession(r.Context(), username, req.Minutes); err != nil {
		h.respondAppError(w, err)
		return
	}
	rec, err := h.Sessions.Lookup(r.Context(), username)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *handlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.RevokeSession(r.Context(), mux.Vars(r)["username"]); err != nil {
		h.respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sessionAccounting(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		respondError(w, http.StatusServiceUnavailable, "accounting mirror is disabled")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	records, err := h.History.Recent(r.Context(), mux.Vars(r)["username"], limit)
	if err != nil {
		h.Log.Error(err)
		respondError(w, http.StatusBadGateway, "accounting mirror unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *handlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	p, err := h.Portal.RefundPayment(r.Context(), mux.Vars(r)["transactionId"], req.Reason)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
