package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/agent-iam/iam/internal/identity"
	"github.com/agent-iam/iam/internal/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeIdentityStore struct {
	byID    map[string]*core.Identity
	byEmail map[string]*core.Identity
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{byID: map[string]*core.Identity{}, byEmail: map[string]*core.Identity{}}
}

func (f *fakeIdentityStore) Create(ctx context.Context, i *core.Identity) error {
	f.byID[i.ID] = i
	if i.Email != nil {
		f.byEmail[*i.Email] = i
	}
	return nil
}
func (f *fakeIdentityStore) Get(ctx context.Context, tenantID, id string) (*core.Identity, error) {
	i, ok := f.byID[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "identity not found")
	}
	return i, nil
}
func (f *fakeIdentityStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.Identity, error) {
	i, ok := f.byEmail[email]
	if !ok {
		return nil, errs.New(errs.NotFound, "identity not found")
	}
	return i, nil
}
func (f *fakeIdentityStore) List(ctx context.Context, tenantID string, filter core.IdentityFilter) ([]*core.Identity, string, error) {
	return nil, "", nil
}
func (f *fakeIdentityStore) UpdateStatus(ctx context.Context, tenantID, id string, status core.IdentityStatus) error {
	if i, ok := f.byID[id]; ok {
		i.Status = status
	}
	return nil
}
func (f *fakeIdentityStore) UpdateLastLogin(ctx context.Context, tenantID, id string, at time.Time) error {
	return nil
}
func (f *fakeIdentityStore) DelegationChain(ctx context.Context, tenantID, id string) ([]*core.Identity, error) {
	return nil, nil
}
func (f *fakeIdentityStore) DelegationDepth(ctx context.Context, tenantID, id string) (int, error) {
	return 0, nil
}
func (f *fakeIdentityStore) DeleteExpiredAgents(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeSessionStore struct {
	sessions map[string]*core.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*core.Session{}}
}

func (f *fakeSessionStore) Create(ctx context.Context, s *core.Session) error {
	f.sessions[s.TokenID] = s
	return nil
}
func (f *fakeSessionStore) GetByTokenID(ctx context.Context, tenantID, tokenID string) (*core.Session, error) {
	s, ok := f.sessions[tokenID]
	if !ok {
		return nil, errs.New(errs.NotFound, "session not found")
	}
	return s, nil
}
func (f *fakeSessionStore) Revoke(ctx context.Context, tenantID, tokenID string, at time.Time) error {
	if s, ok := f.sessions[tokenID]; ok {
		s.RevokedAt = &at
	}
	return nil
}
func (f *fakeSessionStore) Touch(ctx context.Context, tenantID, tokenID string, at time.Time) error {
	return nil
}
func (f *fakeSessionStore) DeleteExpired(ctx context.Context, before time.Time) error { return nil }

type fakeRevocationSet struct{ revoked map[string]bool }

func newFakeRevocationSet() *fakeRevocationSet {
	return &fakeRevocationSet{revoked: map[string]bool{}}
}

func (f *fakeRevocationSet) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	f.revoked[jti] = true
	return nil
}
func (f *fakeRevocationSet) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

type fakePasswordHasher struct{}

func (fakePasswordHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (fakePasswordHasher) Verify(password, encodedHash string) (bool, error) {
	return "hashed:"+password == encodedHash, nil
}

type fakeJWTManager struct{ seq int }

func (m *fakeJWTManager) MintAccess(identityID, tenantID string, kind core.IdentityKind) (string, error) {
	m.seq++
	return "access-token", nil
}
func (m *fakeJWTManager) MintRefresh(identityID, tenantID, familyID string) (string, error) {
	return "refresh-token", nil
}
func (m *fakeJWTManager) ValidateAccess(token string) (*core.AccessClaims, error) {
	return &core.AccessClaims{Subject: "identity-1", TenantID: "tenant-1", JTI: "access-jti", ExpiresAt: time.Now().Add(time.Hour).Unix()}, nil
}
func (m *fakeJWTManager) ValidateRefresh(token string) (*core.RefreshClaims, error) {
	return &core.RefreshClaims{Subject: "identity-1", TenantID: "tenant-1", JTI: "refresh-jti", FamilyID: "family-1", ExpiresAt: time.Now().Add(time.Hour).Unix()}, nil
}
func (m *fakeJWTManager) ExtractJTI(token string) (string, error) { return "access-jti", nil }

type fakeCapabilityManager struct{}

func (fakeCapabilityManager) Mint(req core.CapabilityMintRequest) (string, error) {
	return "capability-token", nil
}
func (fakeCapabilityManager) Validate(token string) (*core.CapabilityClaims, error) { return nil, nil }
func (fakeCapabilityManager) Attenuate(token string, extraChecks []string) (string, error) {
	return token, nil
}
func (fakeCapabilityManager) PublicKeyBytes() []byte { return nil }

type fakeEvaluator struct{ result core.AuthzResult }

func (f fakeEvaluator) Evaluate(ctx context.Context, tenantID string, req core.AuthzRequest) (core.AuthzResult, error) {
	return f.result, nil
}

type fakeRateLimiter struct{ allow bool }

func (f fakeRateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	return core.RateLimitResult{Allowed: f.allow}, nil
}
func (f fakeRateLimiter) CurrentCount(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, nil
}
func (f fakeRateLimiter) Reset(ctx context.Context, key string) error { return nil }

type fakeAuditSink struct{ events []core.AuditEvent }

func (f *fakeAuditSink) Log(ctx context.Context, event core.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeAuditSink) Close(ctx context.Context) error { return nil }

func newTestService(t *testing.T, identities *fakeIdentityStore, rateLimiterAllow bool, evalResult core.AuthzResult) (*Service, *fakeAuditSink) {
	t.Helper()
	now := time.Now()
	sessionSvc := sessions.NewService(newFakeSessionStore(), newFakeRevocationSet(), fakeClock{now: now})
	identitySvc := identity.NewService(identities, fakeClock{now: now})
	audit := &fakeAuditSink{}

	svc := New(
		identitySvc, sessionSvc, fakePasswordHasher{}, &fakeJWTManager{}, fakeCapabilityManager{},
		fakeEvaluator{result: evalResult}, fakeRateLimiter{allow: rateLimiterAllow}, audit,
		fakeClock{now: now}, nil,
		Config{AuthRateLimit: 5, AuthWindow: time.Minute},
	)
	return svc, audit
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	hash, _ := fakePasswordHasher{}.Hash("correct-password")
	email := "alice@example.com"
	identities := newFakeIdentityStore()
	identities.byID["alice"] = &core.Identity{ID: "alice", TenantID: "tenant-1", Email: &email, Status: core.StatusActive, PasswordHash: &hash}
	identities.byEmail[email] = identities.byID["alice"]

	svc, audit := newTestService(t, identities, true, core.AuthzResult{})

	_, err := svc.Login(context.Background(), "tenant-1", email, "wrong-password", "1.2.3.4", "test-agent")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidCredentials, errs.KindOf(err))

	require.Len(t, audit.events, 1, "a wrong-password login must still emit a decision=deny audit event")
	assert.Equal(t, core.EventAuthentication, audit.events[0].EventType)
	require.NotNil(t, audit.events[0].Decision)
	assert.Equal(t, core.DecisionDeny, *audit.events[0].Decision)
}

func TestLogin_RejectsSuspendedIdentity(t *testing.T) {
	hash, _ := fakePasswordHasher{}.Hash("correct-password")
	email := "alice@example.com"
	identities := newFakeIdentityStore()
	identities.byID["alice"] = &core.Identity{ID: "alice", TenantID: "tenant-1", Email: &email, Status: core.StatusSuspended, PasswordHash: &hash}
	identities.byEmail[email] = identities.byID["alice"]

	svc, audit := newTestService(t, identities, true, core.AuthzResult{})

	_, err := svc.Login(context.Background(), "tenant-1", email, "correct-password", "1.2.3.4", "test-agent")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidCredentials, errs.KindOf(err))

	require.Len(t, audit.events, 1)
	require.NotNil(t, audit.events[0].Decision)
	assert.Equal(t, core.DecisionDeny, *audit.events[0].Decision)
}

func TestLogin_SucceedsAndEmitsAuditEvent(t *testing.T) {
	hash, _ := fakePasswordHasher{}.Hash("correct-password")
	email := "alice@example.com"
	identities := newFakeIdentityStore()
	identities.byID["alice"] = &core.Identity{ID: "alice", TenantID: "tenant-1", Email: &email, Status: core.StatusActive, PasswordHash: &hash}
	identities.byEmail[email] = identities.byID["alice"]

	svc, audit := newTestService(t, identities, true, core.AuthzResult{})

	result, err := svc.Login(context.Background(), "tenant-1", email, "correct-password", "1.2.3.4", "test-agent")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	require.Len(t, audit.events, 1)
	assert.Equal(t, core.EventAuthentication, audit.events[0].EventType)
	require.NotNil(t, audit.events[0].Decision)
	assert.Equal(t, core.DecisionAllow, *audit.events[0].Decision)
}

func TestLogin_RejectsUnknownEmail(t *testing.T) {
	identities := newFakeIdentityStore()
	svc, audit := newTestService(t, identities, true, core.AuthzResult{})

	_, err := svc.Login(context.Background(), "tenant-1", "nobody@example.com", "whatever", "1.2.3.4", "test-agent")
	require.Error(t, err)
	assert.Equal(t, errs.InvalidCredentials, errs.KindOf(err))

	require.Len(t, audit.events, 1, "an unknown email must still emit a decision=deny audit event, with no actor identity")
	assert.Nil(t, audit.events[0].ActorIdentityID)
	require.NotNil(t, audit.events[0].Decision)
	assert.Equal(t, core.DecisionDeny, *audit.events[0].Decision)
}

func TestLogin_RejectsWhenRateLimited(t *testing.T) {
	hash, _ := fakePasswordHasher{}.Hash("correct-password")
	email := "alice@example.com"
	identities := newFakeIdentityStore()
	identities.byID["alice"] = &core.Identity{ID: "alice", TenantID: "tenant-1", Email: &email, Status: core.StatusActive, PasswordHash: &hash}
	identities.byEmail[email] = identities.byID["alice"]

	svc, audit := newTestService(t, identities, false, core.AuthzResult{})

	_, err := svc.Login(context.Background(), "tenant-1", email, "correct-password", "1.2.3.4", "test-agent")
	require.Error(t, err)
	assert.Equal(t, errs.RateLimitExceeded, errs.KindOf(err))
	require.Len(t, audit.events, 1)
	assert.Equal(t, core.EventRateLimitExceeded, audit.events[0].EventType)
}

func TestCheck_EmitsAuthorizationAuditEventWithDecision(t *testing.T) {
	identities := newFakeIdentityStore()
	svc, audit := newTestService(t, identities, true, core.AuthzResult{Allowed: true})

	result, err := svc.Check(context.Background(), "tenant-1", core.AuthzRequest{
		Principal: `User::"alice"`, Action: "read", Resource: `File::"f1"`,
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.Len(t, audit.events, 1)
	require.NotNil(t, audit.events[0].Decision)
	assert.Equal(t, core.DecisionAllow, *audit.events[0].Decision)
}

func TestProvisionAgent_MintsCapabilityTokenAndEmitsAudit(t *testing.T) {
	identities := newFakeIdentityStore()
	identities.byID["parent-1"] = &core.Identity{ID: "parent-1", TenantID: "tenant-1", Status: core.StatusActive}

	svc, audit := newTestService(t, identities, true, core.AuthzResult{})

	agent, token, err := svc.ProvisionAgent(context.Background(), core.ProvisionAgentRequest{
		TenantID: "tenant-1", ParentID: "parent-1", TaskID: "task-1", Name: "worker",
	})
	require.NoError(t, err)
	assert.Equal(t, core.KindAgent, agent.Kind)
	assert.NotEmpty(t, token)
	require.Len(t, audit.events, 1)
	assert.Equal(t, core.EventIdentityCreated, audit.events[0].EventType)
}
