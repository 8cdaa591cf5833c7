package authz

import (
	"context"
	"crypto/rand"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohit83k/hotspot/internal/apperr"
	"github.com/mohit83k/hotspot/internal/credential"
	"github.com/mohit83k/hotspot/internal/logger"
	"github.com/mohit83k/hotspot/internal/metrics"
	"github.com/mohit83k/hotspot/internal/model"
	"github.com/mohit83k/hotspot/internal/store"
	"github.com/mohit83k/hotspot/internal/store/sqlstore"
)

const (
	macA = "AA:BB:CC:DD:EE:FF"
	macB = "11:22:33:44:55:66"
)

var fixedNow = time.Date(2024, 7, 30, 10, 0, 0, 0, time.UTC)

// countingStore counts accounting appends across transactions.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	appends int
}

type countingTx struct {
	store.Tx
	parent *countingStore
}

func (c *countingStore) Tx(ctx context.Context, fn func(tx store.Tx) error) error {
	return c.Store.Tx(ctx, func(tx store.Tx) error {
		return fn(&countingTx{Tx: tx, parent: c})
	})
}

func (c *countingTx) AppendAccounting(ctx context.Context, rec model.AccountingRecord) error {
	c.parent.mu.Lock()
	c.parent.appends++
	c.parent.mu.Unlock()
	return c.Tx.AppendAccounting(ctx, rec)
}

type recordingMirror struct {
	mu      sync.Mutex
	records []model.AccountingRecord
	err     error
}

func (m *recordingMirror) Save(_ context.Context, rec model.AccountingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type failingStore struct{}

func (failingStore) Tx(context.Context, func(store.Tx) error) error { return errors.New("database is locked") }
func (failingStore) Close() error                                   { return nil }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *countingStore) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "hotspot.db") + "?_busy_timeout=5000&_txlock=immediate"
	st, err := sqlstore.Open(context.Background(), "sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cs := &countingStore{Store: st}
	seq := 0
	base := []Option{
		WithGenerator(credential.NewGeneratorWith(func() time.Time { return fixedNow }, rand.Reader)),
		WithSessionIDs(func() string {
			seq++
			return "acct-" + strconv.Itoa(seq)
		}),
	}
	return New(cs, logger.Nop(), append(base, opts...)...), cs
}

func TestCreateSession_ThenValidateWithBoundMAC(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	e, cs := newTestEngine(t, WithMirror(mirror))

	cred, err := e.CreateSession(ctx, "aa-bb-cc-dd-ee-ff", 60, "voucher")
	require.NoError(t, err)
	assert.Equal(t, "user_aabbccddeeff_"+strconv.FormatInt(fixedNow.UnixMilli(), 10), cred.Username)
	assert.Len(t, cred.Password, 32)
	assert.Equal(t, macA, cred.OwnerMAC)

	d, err := e.ValidateAuthentication(ctx, AuthRequest{
		Username:     cred.Username,
		Password:     cred.Password,
		MAC:          macA,
		NASIPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, 3600, d.SessionTimeout)
	assert.Equal(t, "acct-1", d.AcctSessionID)
	assert.NoError(t, d.Err())

	assert.Equal(t, 1, cs.appends)
	require.Len(t, mirror.records, 1)
	rec := mirror.records[0]
	assert.Equal(t, cred.Username, rec.Username)
	assert.Equal(t, "10.0.0.1", rec.NASIPAddress)
	assert.Equal(t, macA, rec.CallingStationID)
	assert.Equal(t, macA, rec.NASPortID)
	assert.Equal(t, model.NASPortTypeWirelessName, rec.NASPortType)
	assert.Equal(t, model.AcctStatusStart, rec.AcctStatusType)
	assert.Zero(t, rec.SessionTime)
	assert.Zero(t, rec.InputOctets)
}

func TestValidate_Denials(t *testing.T) {
	ctx := context.Background()
	e, cs := newTestEngine(t)

	cred, err := e.CreateSession(ctx, macA, 30, "voucher")
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    AuthRequest
		reason Reason
		kind   apperr.Kind
	}{
		{
			name:   "unknown user",
			req:    AuthRequest{Username: "user_000000000000_1", Password: cred.Password, MAC: macA},
			reason: ReasonUserNotFound,
			kind:   apperr.KindNotFound,
		},
		{
			name:   "wrong password",
			req:    AuthRequest{Username: cred.Username, Password: "nope", MAC: macA},
			reason: ReasonInvalidPassword,
			kind:   apperr.KindNotFound,
		},
		{
			name:   "different device",
			req:    AuthRequest{Username: cred.Username, Password: cred.Password, MAC: macB},
			reason: ReasonBindingViolation,
			kind:   apperr.KindBindingViolation,
		},
		{
			name:   "unknown user wins over mac",
			req:    AuthRequest{Username: "ghost", Password: "x", MAC: macB},
			reason: ReasonUserNotFound,
			kind:   apperr.KindNotFound,
		},
		{
			name:   "password checked before mac",
			req:    AuthRequest{Username: cred.Username, Password: "nope", MAC: macB},
			reason: ReasonInvalidPassword,
			kind:   apperr.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.ValidateAuthentication(ctx, tt.req)
			require.NoError(t, err)
			assert.False(t, d.Granted)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Zero(t, d.SessionTimeout)
			assert.Equal(t, tt.kind, apperr.KindOf(d.Err()))
		})
	}
	assert.Zero(t, cs.appends, "denials must not write accounting")
}

func TestValidate_WithoutMACSkipsBinding(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	e, _ := newTestEngine(t, WithMirror(mirror))

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: cred.Username, Password: cred.Password})
	require.NoError(t, err)
	assert.True(t, d.Granted)
	require.Len(t, mirror.records, 1)
	assert.Equal(t, "unknown", mirror.records[0].CallingStationID)
}

func TestValidate_MalformedMAC(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ValidateAuthentication(context.Background(), AuthRequest{Username: "u", Password: "p", MAC: "not-a-mac"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestValidate_EachGrantAppendsOneRecord(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{}
	e, cs := newTestEngine(t, WithMirror(mirror))

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: cred.Username, Password: cred.Password, MAC: macA})
		require.NoError(t, err)
		require.True(t, d.Granted)
	}
	assert.Equal(t, 3, cs.appends)
	require.Len(t, mirror.records, 3)
	assert.NotEqual(t, mirror.records[0].AcctSessionID, mirror.records[1].AcctSessionID)
}

func TestValidate_MirrorFailureDoesNotDeny(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	e, cs := newTestEngine(t, WithMirror(&recordingMirror{err: errors.New("redis down")}), WithMetrics(m))

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: cred.Username, Password: cred.Password, MAC: macA})
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, 1, cs.appends)
}

func TestValidate_StoreFailure(t *testing.T) {
	e := New(failingStore{}, logger.Nop())
	_, err := e.ValidateAuthentication(context.Background(), AuthRequest{Username: "u", Password: "p"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
}

// recordingLogger keeps the fields of every Info line.
type recordingLogger struct {
	mu     *sync.Mutex
	fields map[string]any
	infos  *[]map[string]any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, infos: &[]map[string]any{}}
}

func (l *recordingLogger) Info(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.infos = append(*l.infos, l.fields)
}

func (l *recordingLogger) Warn(string)  {}
func (l *recordingLogger) Error(error) {}

func (l *recordingLogger) WithFields(fields map[string]any) logger.Logger {
	merged := map[string]any{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: l.mu, fields: merged, infos: l.infos}
}

func TestCreateSession_LogsProvisioningState(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	log := newRecordingLogger()
	e.log = log

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	require.NotEmpty(t, *log.infos)
	first := (*log.infos)[0]
	assert.Equal(t, cred.Username, first["username"])
	assert.Equal(t, model.StateProvisioning, first["state"])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", first["mac"])
}

func TestCreateSession_Validation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.CreateSession(ctx, macA, 0, "voucher")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.CreateSession(ctx, "zz:zz", 60, "voucher")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateSession_UsernameCollisionRetries(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	first, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)
	second, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	ms := strconv.FormatInt(fixedNow.UnixMilli(), 10)
	assert.Equal(t, "user_aabbccddeeff_"+ms, first.Username)
	assert.Regexp(t, `^user_aabbccddeeff_`+ms+`_[0-9a-f]{8}$`, second.Username)

	// Both credentials stay valid for the same device.
	for _, c := range []model.Credential{first, second} {
		d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: c.Username, Password: c.Password, MAC: macA})
		require.NoError(t, err)
		assert.True(t, d.Granted)
	}

	rec, err := e.Lookup(ctx, second.Username)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.UnixMilli(), rec.CreatedAt.UnixMilli())
}

func TestCreateSession_ConcurrentSameMACAllSucceed(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, WithGenerator(credential.NewGenerator()))

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		usernames = map[string]bool{}
		errs      []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := e.CreateSession(ctx, macA, 60, "voucher")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			usernames[c.Username] = true
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Len(t, usernames, n)
}

// constantReader hands out the same byte forever, so every random suffix repeats.
type constantReader struct{}

func (constantReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x42
	}
	return len(p), nil
}

func TestCreateSession_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, WithGenerator(credential.NewGeneratorWith(func() time.Time { return fixedNow }, constantReader{})))

	_, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)
	_, err = e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	// Both the plain and the only reachable suffixed username are taken.
	_, err = e.CreateSession(ctx, macA, 60, "voucher")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestExtendSession(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	require.NoError(t, e.ExtendSession(ctx, cred.Username, 30))

	d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: cred.Username, Password: cred.Password, MAC: macA})
	require.NoError(t, err)
	assert.Equal(t, 5400, d.SessionTimeout)

	err = e.ExtendSession(ctx, "ghost", 30)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = e.ExtendSession(ctx, cred.Username, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRevokeSession(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	require.NoError(t, e.RevokeSession(ctx, cred.Username))
	require.NoError(t, e.RevokeSession(ctx, cred.Username), "revoke is idempotent")

	d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: cred.Username, Password: cred.Password, MAC: macA})
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonUserNotFound, d.Reason)

	_, err = e.Lookup(ctx, cred.Username)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	cred, err := e.CreateSession(ctx, macA, 60, "voucher")
	require.NoError(t, err)

	rec, err := e.Lookup(ctx, cred.Username)
	require.NoError(t, err)
	assert.Equal(t, 3600, rec.SessionTimeout)
	assert.Equal(t, macA, rec.CallingStationID)
	assert.Equal(t, fixedNow.UnixMilli(), rec.CreatedAt.UnixMilli())
	assert.Equal(t, model.StateActive, rec.State)
}

func TestLookup_Expired(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	e, _ := newTestEngine(t, WithGenerator(credential.NewGeneratorWith(func() time.Time { return now }, rand.Reader)))

	cred, err := e.CreateSession(ctx, macA, 1, "voucher")
	require.NoError(t, err)

	now = fixedNow.Add(2 * time.Minute)
	rec, err := e.Lookup(ctx, cred.Username)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, rec.State)

	// Expiry is informational; the gateway still grants.
	d, err := e.ValidateAuthentication(ctx, AuthRequest{Username: cred.Username, Password: cred.Password})
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestTimeoutPolicies(t *testing.T) {
	assert.Equal(t, 3600, VoucherTimeout(60))
	assert.Equal(t, 86400, VoucherTimeout(1440))

	tests := map[string]int{
		"1 Hour Access":  3600,
		"12 Hour Access": 43200,
		"24 Hour Access": 86400,
		"Daily 24h":      86400,
		"Half day 12h":   43200,
		"Quick 1h":       3600,
		"Weekly Pass":    DefaultPlanTimeout,
		"":               DefaultPlanTimeout,
	}
	for plan, want := range tests {
		assert.Equal(t, want, PlanTimeout(plan), plan)
	}
}
