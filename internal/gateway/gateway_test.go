package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/authz"
	"github.com/mohit83k/hotspot/internal/logger"
)

type fakeAuthorizer struct {
	decision authz.Decision
	err      error
	calls    []authz.AuthRequest
}

func (f *fakeAuthorizer) ValidateAuthentication(_ context.Context, req authz.AuthRequest) (authz.Decision, error) {
	f.calls = append(f.calls, req)
	return f.decision, f.err
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		token    string
		user     string
		password string
		wantErr  bool
	}{
		{token: "user_aabbccddeeff_1:secret", user: "user_aabbccddeeff_1", password: "secret"},
		{token: "u:p:q", user: "u", password: "p:q"},
		{token: "", wantErr: true},
		{token: "nocolon", wantErr: true},
		{token: ":secret", wantErr: true},
		{token: "user:", wantErr: true},
	}
	for _, tt := range tests {
		user, password, err := ParseToken(tt.token)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrMalformedToken, tt.token)
			continue
		}
		require.NoError(t, err, tt.token)
		assert.Equal(t, tt.user, user)
		assert.Equal(t, tt.password, password)
	}
}

func TestHandleCallback_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		decision authz.Decision
		err      error
		status   int
	}{
		{name: "missing token", token: "", status: http.StatusBadRequest},
		{name: "granted", token: "u:p", decision: authz.Decision{Granted: true, SessionTimeout: 3600}, status: http.StatusOK},
		{name: "unknown user", token: "invalid_user:x", decision: authz.Decision{Reason: authz.ReasonUserNotFound}, status: http.StatusUnauthorized},
		{name: "bad password", token: "u:x", decision: authz.Decision{Reason: authz.ReasonInvalidPassword}, status: http.StatusUnauthorized},
		{name: "binding violation", token: "u:p", decision: authz.Decision{Reason: authz.ReasonBindingViolation}, status: http.StatusForbidden},
		{name: "malformed mac", token: "u:p", err: apperr.Validation("invalid MAC address"), status: http.StatusBadRequest},
		{name: "storage", token: "u:p", err: apperr.Storage("validate", errors.New("down")), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(&fakeAuthorizer{decision: tt.decision, err: tt.err}, logger.Nop(), "")
			resp := a.HandleCallback(context.Background(), CallbackRequest{Token: tt.token})
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestServeHTTP_Granted(t *testing.T) {
	fake := &fakeAuthorizer{decision: authz.Decision{Granted: true, SessionTimeout: 3600}}
	a := New(fake, logger.Nop(), "http://portal.local/status")

	req := httptest.NewRequest(http.MethodGet, "/auth?token=user_aabbccddeeff_1:secret&mac=AA:BB:CC:DD:EE:FF&ip=10.1.0.23", nil)
	req.RemoteAddr = "192.168.88.1:40000"
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get(HeaderSessionTimeout))
	assert.Contains(t, rec.Body.String(), "Authentication Successful")
	assert.Contains(t, rec.Body.String(), "60 minutes")
	assert.Contains(t, rec.Body.String(), "http://portal.local/status")

	require.Len(t, fake.calls, 1)
	got := fake.calls[0]
	assert.Equal(t, "user_aabbccddeeff_1", got.Username)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", got.MAC)
	assert.Equal(t, "10.1.0.23", got.FramedIP)
	assert.Equal(t, "192.168.88.1", got.NASIPAddress)
}

func TestServeHTTP_NASAddressFromTrustedProxyOnly(t *testing.T) {
	proxies, err := ParseProxies([]string{"192.168.88.0/24"})
	require.NoError(t, err)

	callback := func(a *Adapter, remote string) string {
		fake := a.authz.(*fakeAuthorizer)
		req := httptest.NewRequest(http.MethodGet, "/auth?token=u:p", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", "10.20.0.1")
		a.ServeHTTP(httptest.NewRecorder(), req)
		require.NotEmpty(t, fake.calls)
		return fake.calls[len(fake.calls)-1].NASIPAddress
	}
	granted := authz.Decision{Granted: true, SessionTimeout: 60}

	plain := New(&fakeAuthorizer{decision: granted}, logger.Nop(), "")
	assert.Equal(t, "192.168.88.1", callback(plain, "192.168.88.1:40000"))

	behindProxy := New(&fakeAuthorizer{decision: granted}, logger.Nop(), "", WithTrustedProxies(proxies))
	assert.Equal(t, "10.20.0.1", callback(behindProxy, "192.168.88.1:40000"))
	assert.Equal(t, "203.0.113.50", callback(behindProxy, "203.0.113.50:40000"))
}

func TestServeHTTP_DenialHidesReason(t *testing.T) {
	a := New(&fakeAuthorizer{decision: authz.Decision{Reason: authz.ReasonBindingViolation}}, logger.Nop(), "")

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth?token=u:p&mac=FF:EE:DD:CC:BB:AA", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderSessionTimeout))
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Access denied", body["error"])
	assert.NotContains(t, rec.Body.String(), "binding")
}

func TestServeHTTP_RepeatedCallbacksEachValidate(t *testing.T) {
	fake := &fakeAuthorizer{decision: authz.Decision{Granted: true, SessionTimeout: 60}}
	a := New(fake, logger.Nop(), "")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth?token=u:p", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, fake.calls, 3)
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	fake := &fakeAuthorizer{}
	a := New(fake, logger.Nop(), "")

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth?token=u:p", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, fake.calls)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	assert.Equal(t, "10.0.0.5", Proxies(nil).ClientIP(req))

	// Forwarded headers from untrusted peers are ignored.
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "10.0.0.5", Proxies(nil).ClientIP(req))

	proxies, err := ParseProxies([]string{"10.0.0.0/24", "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", proxies.ClientIP(req))

	req.RemoteAddr = "192.0.2.1:443"
	assert.Equal(t, "203.0.113.7", proxies.ClientIP(req))

	req.RemoteAddr = "198.51.100.9:443"
	assert.Equal(t, "198.51.100.9", proxies.ClientIP(req))

	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "10.0.0.5", proxies.ClientIP(req))
}

func TestParseProxies(t *testing.T) {
	p, err := ParseProxies([]string{" 10.0.0.0/8 ", "", "::1"})
	require.NoError(t, err)
	assert.Len(t, p, 2)

	_, err = ParseProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseProxies([]string{"proxy.local"})
	assert.Error(t, err)
}
