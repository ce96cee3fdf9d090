package impersonate_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-featuregate/gate"
	impersonate "github.com/goliatone/go-impersonate"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func newTestOptions() *impersonate.Options {
	opts := impersonate.DefaultOptions()
	opts.SigningKey = testSigningKey
	opts.Issuer = "impersonate-test"
	opts.Audience = []string{"admin-console"}
	return opts
}

// fakeClock is a manually advanced clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestIdentity implements impersonate.Identity
type TestIdentity struct {
	id         string
	email      string
	name       string
	privileged bool
}

func (i TestIdentity) ID() string          { return i.id }
func (i TestIdentity) Email() string       { return i.email }
func (i TestIdentity) DisplayName() string { return i.name }
func (i TestIdentity) IsPrivileged() bool  { return i.privileged }

func staticIdentities(identities ...TestIdentity) impersonate.IdentityStore {
	byID := map[string]impersonate.Identity{}
	for _, identity := range identities {
		byID[identity.id] = identity
	}
	return impersonate.IdentityStoreFunc(func(ctx context.Context, id string) (impersonate.Identity, error) {
		identity, ok := byID[id]
		if !ok {
			return nil, impersonate.ErrIdentityNotFound
		}
		return identity, nil
	})
}

type stubFeatureGate struct {
	enabled  map[string]bool
	calls    []string
	subjects []string
	err      error
}

func (s *stubFeatureGate) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	if claims, ok := impersonate.ClaimsFromContext(ctx); ok {
		s.subjects = append(s.subjects, claims.UserID())
	}
	if s.err != nil {
		return false, s.err
	}
	if s.enabled == nil {
		return true, nil
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

type capturingSink struct {
	mu     sync.Mutex
	events []impersonate.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt impersonate.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, string(evt.EventType))
	}
	return out
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) impersonate.Logger {
	return l
}

func (l *captureLogger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, call := range l.calls {
		if call.level == level {
			out = append(out, call.message)
		}
	}
	return out
}

// MockBackend implements impersonate.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) RequestSession(ctx context.Context, creds impersonate.CredentialBundle, targetUserID string) (*impersonate.Session, error) {
	args := m.Called(ctx, creds, targetUserID)
	session, _ := args.Get(0).(*impersonate.Session)
	return session, args.Error(1)
}

func (m *MockBackend) Exchange(ctx context.Context, creds impersonate.CredentialBundle, sessionToken, targetUserID string) (*impersonate.CredentialBundle, error) {
	args := m.Called(ctx, creds, sessionToken, targetUserID)
	bundle, _ := args.Get(0).(*impersonate.CredentialBundle)
	return bundle, args.Error(1)
}

func (m *MockBackend) EndSession(ctx context.Context, creds impersonate.CredentialBundle, sessionToken string, reason impersonate.EndReason) error {
	args := m.Called(ctx, creds, sessionToken, reason)
	return args.Error(0)
}

func (m *MockBackend) RecordAction(ctx context.Context, creds impersonate.CredentialBundle, record impersonate.ActionRecord) error {
	args := m.Called(ctx, creds, record)
	return args.Error(0)
}

// failingHolder wraps a holder and fails Apply for a given identity.
type failingHolder struct {
	*impersonate.MemoryCredentialHolder
	failFor string
	err     error
}

func (h *failingHolder) Apply(ctx context.Context, bundle impersonate.CredentialBundle) error {
	if bundle.Identity.ID == h.failFor {
		return h.err
	}
	return h.MemoryCredentialHolder.Apply(ctx, bundle)
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, impersonate.CreateSchema(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func registerUser(t *testing.T, repos impersonate.RepositoryManager, username string, role impersonate.UserRole) *impersonate.User {
	t.Helper()
	user, err := repos.Users().Register(context.Background(), &impersonate.User{
		Role:      role,
		FirstName: username,
		LastName:  "Tester",
		Username:  username,
		Email:     username + "@example.com",
	})
	require.NoError(t, err)
	return user
}

// serverFixture wires every server side component against sqlite.
type serverFixture struct {
	opts       *impersonate.Options
	clock      *fakeClock
	sink       *capturingSink
	db         *bun.DB
	repos      impersonate.RepositoryManager
	tokens     *impersonate.TokenServiceImpl
	issuer     *impersonate.Issuer
	exchanger  *impersonate.Exchanger
	terminator *impersonate.Terminator
	audit      *impersonate.AuditService
	admin      *impersonate.User
	member     *impersonate.User
	owner      *impersonate.User
}

func newServerFixture(t *testing.T, issuerOpts ...impersonate.IssuerOption) *serverFixture {
	t.Helper()

	f := &serverFixture{
		opts:  newTestOptions(),
		clock: newFakeClock(),
		sink:  &capturingSink{},
	}
	logger := &captureLogger{}

	f.db = setupDB(t)
	f.repos = impersonate.NewRepositoryManager(f.db)
	require.NoError(t, f.repos.Validate())

	f.admin = registerUser(t, f.repos, "alice", impersonate.RoleAdmin)
	f.member = registerUser(t, f.repos, "bob", impersonate.RoleMember)
	f.owner = registerUser(t, f.repos, "carol", impersonate.RoleOwner)

	f.tokens = impersonate.NewTokenService(f.opts,
		impersonate.WithTokenServiceClock(f.clock.Now),
		impersonate.WithTokenServiceLogger(logger),
	)

	opts := append([]impersonate.IssuerOption{
		impersonate.WithIssuerClock(f.clock.Now),
		impersonate.WithIssuerActivitySink(f.sink),
		impersonate.WithIssuerLogger(logger),
	}, issuerOpts...)
	f.issuer = impersonate.NewIssuer(f.opts, f.repos.Users(), f.repos.Sessions(), opts...)

	f.exchanger = impersonate.NewExchanger(f.repos.Sessions(), f.repos.Users(), f.tokens,
		impersonate.WithExchangerClock(f.clock.Now),
		impersonate.WithExchangerActivitySink(f.sink),
		impersonate.WithExchangerLogger(logger),
	)
	f.terminator = impersonate.NewTerminator(f.repos.Sessions(),
		impersonate.WithTerminatorClock(f.clock.Now),
		impersonate.WithTerminatorActivitySink(f.sink),
		impersonate.WithTerminatorLogger(logger),
	)
	f.audit = impersonate.NewAuditService(f.repos,
		impersonate.WithAuditServiceClock(f.clock.Now),
		impersonate.WithAuditServiceActivitySink(f.sink),
		impersonate.WithAuditServiceLogger(logger),
	)
	return f
}

func (f *serverFixture) backend() *impersonate.LocalBackend {
	return impersonate.NewLocalBackend(f.tokens, f.issuer, f.exchanger, f.terminator, f.audit)
}

// signIn mints a regular credential bundle for user.
func (f *serverFixture) signIn(t *testing.T, user *impersonate.User) *impersonate.CredentialBundle {
	t.Helper()
	bundle, err := f.tokens.Mint(context.Background(), impersonate.MintRequest{
		Identity: impersonate.IdentityFromUser(user),
	})
	require.NoError(t, err)
	return bundle
}
