package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohit83k/hotspot/internal/bridge"
	"github.com/mohit83k/hotspot/internal/model"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempStore(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(t.TempDir(), "hotspot.db")+"?_busy_timeout=5000&_txlock=immediate")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LOG_FILE_PATH", "")
}

func TestVouchersIssue(t *testing.T) {
	useTempStore(t)

	out, err := execute(t, "", "vouchers", "issue", "--minutes", "90", "--quantity", "3")
	require.NoError(t, err)

	var vouchers []model.Voucher
	require.NoError(t, json.Unmarshal([]byte(out), &vouchers))
	require.Len(t, vouchers, 3)
	for _, v := range vouchers {
		assert.True(t, strings.HasPrefix(v.Code, "WIFLY-"))
		assert.Equal(t, 90, v.DurationMinutes)
	}

	_, err = execute(t, "", "vouchers", "issue", "--quantity", "101")
	assert.Error(t, err)
}

func TestSessionsCommands(t *testing.T) {
	useTempStore(t)

	_, err := execute(t, "", "sessions", "show", "nobody")
	assert.Error(t, err)

	out, err := execute(t, "", "sessions", "revoke", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "revoked nobody\n", out)

	_, err = execute(t, "", "sessions", "extend", "nobody")
	assert.Error(t, err, "--minutes is required")

	_, err = execute(t, "", "sessions", "extend", "nobody", "--minutes", "10")
	assert.Error(t, err)
}

func TestPaymentsRefund_Unknown(t *testing.T) {
	useTempStore(t)
	_, err := execute(t, "", "payments", "refund", "missing")
	assert.Error(t, err)
}

func TestPlans(t *testing.T) {
	out, err := execute(t, "", "plans")
	require.NoError(t, err)
	var plans []bridge.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	assert.Len(t, plans, 3)
}

func TestAdminHashPassword(t *testing.T) {
	out, err := execute(t, "hunter2\n", "admin", "hash-password")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))

	out, err = execute(t, "", "admin", "hash-password", "--password", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))

	_, err = execute(t, "", "admin", "hash-password")
	assert.Error(t, err)
}
