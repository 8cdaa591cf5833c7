// Package gateway answers the captive-portal gateway's authorization
// callback (GET /auth?token=<username>:<password>&mac=<MAC>).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/authz"
	"github.com/mohit83k/hotspot/internal/logger"
)

// HeaderSessionTimeout carries the granted Session-Timeout to the gateway.
const HeaderSessionTimeout = "X-Session-Timeout"

// ErrMalformedToken is returned when a token is not <username>:<password>.
var ErrMalformedToken = errors.New("token must be <username>:<password>")

// Authorizer is the part of the authorization engine the adapter needs.
type Authorizer interface {
	ValidateAuthentication(ctx context.Context, req authz.AuthRequest) (authz.Decision, error)
}

// CallbackRequest is one parsed gateway callback.
type CallbackRequest struct {
	Token        string
	MAC          string
	FramedIP     string
	NASIPAddress string
}

// Response is the gateway-facing rendering of a decision.
type Response struct {
	Status         int
	SessionTimeout int
	Error          string
}

// ParseToken splits token on its first colon. Both halves must be non-empty.
func ParseToken(token string) (username, password string, err error) {
	username, password, ok := strings.Cut(token, ":")
	if !ok || username == "" || password == "" {
		return "", "", ErrMalformedToken
	}
	return username, password, nil
}

// Adapter turns callbacks into engine calls.
type Adapter struct {
	authz     Authorizer
	log       logger.Logger
	statusURL string
	proxies   Proxies
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTrustedProxies lets callbacks relayed by p report the gateway address
// through X-Forwarded-For.
func WithTrustedProxies(p Proxies) Option { return func(a *Adapter) { a.proxies = p } }

// New returns an Adapter. statusURL is where the success page sends the browser.
func New(a Authorizer, log logger.Logger, statusURL string, opts ...Option) *Adapter {
	ad := &Adapter{authz: a, log: log, statusURL: statusURL}
	for _, opt := range opts {
		opt(ad)
	}
	return ad
}

// HandleCallback validates one callback. Every call is a fresh validation,
// so repeated callbacks for the same session each append accounting.
func (a *Adapter) HandleCallback(ctx context.Context, req CallbackRequest) Response {
	username, password, err := ParseToken(req.Token)
	if err != nil {
		return Response{Status: http.StatusBadRequest, Error: "Invalid or missing token"}
	}

	decision, err := a.authz.ValidateAuthentication(ctx, authz.AuthRequest{
		Username:     username,
		Password:     password,
		MAC:          req.MAC,
		NASIPAddress: req.NASIPAddress,
		FramedIP:     req.FramedIP,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return Response{Status: http.StatusBadRequest, Error: apperr.Message(err, "Invalid request")}
		}
		a.log.Error(err)
		return Response{Status: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if !decision.Granted {
		// The reason is logged by the engine; the device only learns the status.
		status := http.StatusUnauthorized
		if decision.Reason == authz.ReasonBindingViolation {
			status = http.StatusForbidden
		}
		return Response{Status: status, Error: "Access denied"}
	}
	return Response{Status: http.StatusOK, SessionTimeout: decision.SessionTimeout}
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Authentication Successful</title>
</head>
<body>
<h1>Authentication Successful</h1>
<p>You are now connected. Session time: {{.Minutes}} minutes.</p>
{{if .StatusURL}}<p><a href="{{.StatusURL}}">Continue</a></p>{{end}}
</body>
</html>
`))

// ServeHTTP implements the GET /auth callback.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	resp := a.HandleCallback(r.Context(), CallbackRequest{
		Token:        q.Get("token"),
		MAC:          q.Get("mac"),
		FramedIP:     q.Get("ip"),
		NASIPAddress: a.proxies.ClientIP(r),
	})
	if resp.Status != http.StatusOK {
		respondError(w, resp.Status, resp.Error)
		return
	}

	w.Header().Set(HeaderSessionTimeout, strconv.Itoa(resp.SessionTimeout))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	err := successPage.Execute(w, struct {
		Minutes   int
		StatusURL string
	}{resp.SessionTimeout / 60, a.statusURL})
	if err != nil {
		a.log.Error(err)
	}
}

// Proxies are the networks whose X-Forwarded-For header is believed. The
// zero value trusts nobody.
type Proxies []*net.IPNet

// ParseProxies accepts single addresses and CIDR blocks.
func ParseProxies(specs []string) (Proxies, error) {
	var p Proxies
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if !strings.Contains(spec, "/") {
			ip := net.ParseIP(spec)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", spec)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			p = append(p, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy network %q: %w", spec, err)
		}
		p = append(p, n)
	}
	return p, nil
}

func (p Proxies) trusts(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range p {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP is the remote host. When that host is a trusted proxy, the first
// X-Forwarded-For hop is used instead.
func (p Proxies) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !p.trusts(host) {
		return host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return host
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
