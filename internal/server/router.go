package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mohit83k/hotspot/internal/adminauth"
	"github.com/mohit83k/hotspot/internal/bridge"
	"github.com/mohit83k/hotspot/internal/gateway"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/metrics"
	"github.com/mohit83k/hotspot/internal/model"
)

// Portal is the voucher and payment surface.
type Portal interface {
	RedeemVoucher(ctx context.Context, code, mac string) (bridge.Result, error)
	ClaimPayment(ctx context.Context, transactionID, mac string) (bridge.Result, error)
	StartCheckout(ctx context.Context, mac, planID, phone string) (bridge.Checkout, error)
	ConfirmPaymentWebhook(ctx context.Context, transactionID, providerState string) (bridge.WebhookOutcome, error)
	IssueVouchers(ctx context.Context, durationMinutes, quantity int, smsRecipient string) ([]model.Voucher, error)
	RefundPayment(ctx context.Context, transactionID, reason string) (model.Payment, error)
}

// Sessions is the operator view of the authorization engine.
type Sessions interface {
	Lookup(ctx context.Context, username string) (model.AuthorizationRecord, error)
	ExtendSession(ctx context.Context, username string, additionalMinutes int) error
	RevokeSession(ctx context.Context, username string) error
}

// History returns mirrored accounting records, newest first.
type History interface {
	Recent(ctx context.Context, username string, limit int) ([]model.AccountingRecord, error)
}

// Deps are the collaborators the router dispatches to. Admin routes are
// mounted only when Auth and Tokens are set; History is optional.
type Deps struct {
	Gateway  http.Handler
	Portal   Portal
	Sessions Sessions
	History  History
	Auth     *adminauth.Authenticator
	Tokens   *adminauth.TokenManager
	Metrics  *metrics.Metrics
	Log      logger.Logger

	RatePerMinute int
	Burst         int
	CORSOrigins   []string
	// Proxies may set X-Forwarded-For; everyone else is keyed by peer address.
	Proxies gateway.Proxies
}

// NewRouter wires every route.
func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d}
	limiter := newRateLimiter(d.RatePerMinute, d.Burst, d.Proxies, d.Log)

	r := mux.NewRouter()
	r.Use(h.observe)

	r.Handle("/auth", d.Gateway).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/vouchers/redeem", limiter.Middleware(http.HandlerFunc(h.redeemVoucher))).Methods(http.MethodPost)
	api.Handle("/payments/claim", limiter.Middleware(http.HandlerFunc(h.claimPayment))).Methods(http.MethodPost)
	api.HandleFunc("/payments/checkout", h.startCheckout).Methods(http.MethodPost)
	api.HandleFunc("/plans", h.plans).Methods(http.MethodGet)
	api.HandleFunc("/webhook", h.webhook).Methods(http.MethodPost)

	if d.Auth != nil && d.Tokens != nil {
		api.Handle("/admin/login", limiter.Middleware(http.HandlerFunc(h.adminLogin))).Methods(http.MethodPost)

		admin := api.PathPrefix("/admin").Subrouter()
		admin.Use(d.Tokens.Require)
		admin.HandleFunc("/vouchers", h.issueVouchers).Methods(http.MethodPost)
		admin.HandleFunc("/sessions/{username}", h.showSession).Methods(http.MethodGet)
		admin.HandleFunc("/sessions/{username}/extend", h.extendSession).Methods(http.MethodPost)
		admin.HandleFunc("/sessions/{username}", h.revokeSession).Methods(http.MethodDelete)
		admin.HandleFunc("/sessions/{username}/accounting", h.sessionAccounting).Methods(http.MethodGet)
		admin.HandleFunc("/payments/{transactionId}/refund", h.refundPayment).Methods(http.MethodPost)
	}

	return cors(d.CORSOrigins, r)
}

type handlers struct {
	Deps
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "ok"}
	if b, ok := h.History.(interface{ State() string }); ok {
		body["accounting_mirror"] = b.State()
	}
	respondJSON(w, http.StatusOK, body)
}
