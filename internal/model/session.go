package model

import (
	"net"
	"regexp"
	"strings"
	"time"
)

// Credential is the username/password pair handed to a device.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"-"`
	OwnerMAC string `json:"owner_mac"`
}

// Token is the `username:password` form the gateway callback expects.
func (c Credential) Token() string {
	return c.Username + ":" + c.Password
}

// State of an authorization record.
type State string

const (
	// StateProvisioning only exists while the creating transaction is open.
	StateProvisioning State = "Provisioning"
	StateActive       State = "Active"
	StateExpired      State = "Expired"
	StateRevoked      State = "Revoked"
)

// AuthorizationRecord is the engine's view of a credential and its reply attributes.
type AuthorizationRecord struct {
	Username         string    `json:"username"`
	SessionTimeout   int       `json:"session_timeout_seconds"`
	CallingStationID string    `json:"calling_station_id"`
	CreatedAt        time.Time `json:"created_at"`
	State            State     `json:"state"`
}

// ExpiresAt is CreatedAt plus the granted time budget.
func (r AuthorizationRecord) ExpiresAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.SessionTimeout) * time.Second)
}

// macPattern accepts six hex pairs separated by ':' or '-'.
var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// NormalizeMAC returns the upper-case colon form of a 48-bit MAC address.
// Dotted and unseparated notations are rejected.
func NormalizeMAC(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !macPattern.MatchString(s) {
		return "", false
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", false
	}
	return strings.ToUpper(hw.String()), true
}
