package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/bridge"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondResult writes a redemption or claim outcome in the portal's
// {success, message, credentialToken} shape.
func (h *handlers) respondResult(w http.ResponseWriter, res bridge.Result, err error) {
	if err != nil {
		status := apperr.HTTPStatus(err)
		msg := apperr.Message(err, "Internal server error")
		if status == http.StatusInternalServerError {
			h.Log.Error(err)
			msg = "Internal server error"
		}
		respondJSON(w, status, bridge.Result{Success: false, Message: msg})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// respondAppError maps a typed error onto the {"error": ...} shape.
func (h *handlers) respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.Log.Error(err)
		respondError(w, status, "Internal server error")
		return
	}
	respondError(w, status, apperr.Message(err, err.Error()))
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}
