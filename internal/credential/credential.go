// Package credential derives per-device RADIUS usernames and passwords.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohit83k/hotspot/internal/model"
)

const (
	usernamePrefix = "user_"
	passwordBytes  = 16
	suffixBytes    = 4
)

// Generator mints credentials from a clock and a CSPRNG.
type Generator struct {
	now  func() time.Time
	rand io.Reader
}

// NewGenerator returns a Generator backed by time.Now and crypto/rand.
func NewGenerator() *Generator {
	return &Generator{now: time.Now, rand: rand.Reader}
}

// NewGeneratorWith is for tests that pin the clock or the entropy source.
func NewGeneratorWith(now func() time.Time, r io.Reader) *Generator {
	return &Generator{now: now, rand: r}
}

// Now is the generator's clock.
func (g *Generator) Now() time.Time {
	return g.now()
}

// Username returns user_<mac without separators, lower-case>_<epoch ms of at>.
func Username(mac string, at time.Time) string {
	clean := strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac)
	return usernamePrefix + strings.ToLower(clean) + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

// Password returns 32 hex characters of CSPRNG output.
func (g *Generator) Password() (string, error) {
	return g.randomHex(passwordBytes)
}

func (g *Generator) randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Generate mints a credential for mac. The first attempt yields the plain
// user_<mac>_<ms> form; later attempts, made after the store rejected a
// duplicate, append _<8 hex> of CSPRNG output so same-millisecond creations
// for one device still get distinct usernames.
func (g *Generator) Generate(mac string, attempt int) (model.Credential, error) {
	password, err := g.Password()
	if err != nil {
		return model.Credential{}, err
	}
	username := Username(mac, g.now())
	if attempt > 0 {
		suffix, err := g.randomHex(suffixBytes)
		if err != nil {
			return model.Credential{}, err
		}
		username += "_" + suffix
	}
	return model.Credential{
		Username: username,
		Password: password,
		OwnerMAC: mac,
	}, nil
}

// CreatedAt recovers the creation time embedded in a generated username,
// with or without a collision suffix.
func CreatedAt(username string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(username, usernamePrefix)
	if !ok {
		return time.Time{}, false
	}
	parts := strings.Split(rest, "_")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return time.Time{}, false
	}
	if len(parts) == 3 {
		if _, err := hex.DecodeString(parts[2]); err != nil || parts[2] == "" {
			return time.Time{}, false
		}
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
