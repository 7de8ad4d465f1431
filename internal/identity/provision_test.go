package identity

import (
	"context"
	"testing"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeStore struct {
	identities map[string]*core.Identity
	depths     map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{identities: map[string]*core.Identity{}, depths: map[string]int{}}
}

func (f *fakeStore) Create(ctx context.Context, identity *core.Identity) error {
	f.identities[identity.ID] = identity
	return nil
}

func (f *fakeStore) Get(ctx context.Context, tenantID, id string) (*core.Identity, error) {
	ident, ok := f.identities[id]
	if !ok || ident.TenantID != tenantID {
		return nil, errs.New(errs.NotFound, "identity not found")
	}
	return ident, nil
}

func (f *fakeStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.Identity, error) {
	for _, ident := range f.identities {
		if ident.TenantID == tenantID && ident.Email != nil && *ident.Email == email {
			return ident, nil
		}
	}
	return nil, errs.New(errs.NotFound, "identity not found")
}

func (f *fakeStore) List(ctx context.Context, tenantID string, filter core.IdentityFilter) ([]*core.Identity, string, error) {
	return nil, "", nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, tenantID, id string, status core.IdentityStatus) error {
	ident, ok := f.identities[id]
	if !ok {
		return errs.New(errs.NotFound, "identity not found")
	}
	ident.Status = status
	return nil
}

func (f *fakeStore) UpdateLastLogin(ctx context.Context, tenantID, id string, at time.Time) error {
	if ident, ok := f.identities[id]; ok {
		ident.LastLoginAt = &at
	}
	return nil
}

func (f *fakeStore) DelegationChain(ctx context.Context, tenantID, id string) ([]*core.Identity, error) {
	var chain []*core.Identity
	cur, ok := f.identities[id]
	for ok {
		chain = append(chain, cur)
		if cur.ParentID == nil {
			break
		}
		cur, ok = f.identities[*cur.ParentID]
	}
	return chain, nil
}

func (f *fakeStore) DelegationDepth(ctx context.Context, tenantID, id string) (int, error) {
	return f.depths[id], nil
}

func (f *fakeStore) DeleteExpiredAgents(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func TestProvisionAgent_DefaultsTTLAndClampsToParentExpiry(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	parentExpiry := now.Add(30 * time.Minute)
	store.identities["parent-1"] = &core.Identity{
		ID: "parent-1", TenantID: "tenant-1", Kind: core.KindUser,
		Status: core.StatusActive, ExpiresAt: &parentExpiry,
	}

	svc := NewService(store, fakeClock{now: now})

	agent, depth, err := svc.ProvisionAgent(context.Background(), core.ProvisionAgentRequest{
		TenantID: "tenant-1", ParentID: "parent-1", TaskID: "task-1", Name: "worker",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Equal(t, core.KindAgent, agent.Kind)
	assert.Equal(t, parentExpiry, *agent.ExpiresAt, "agent expiry clamps to the parent's, since the default 1h TTL would outlive it")
}

func TestProvisionAgent_RejectsTTLOutOfRange(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.identities["parent-1"] = &core.Identity{ID: "parent-1", TenantID: "tenant-1", Status: core.StatusActive}

	svc := NewService(store, fakeClock{now: now})

	_, _, err := svc.ProvisionAgent(context.Background(), core.ProvisionAgentRequest{
		TenantID: "tenant-1", ParentID: "parent-1", TaskID: "task-1", Name: "worker", TTLSeconds: 30,
	})

	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestProvisionAgent_RejectsDepthCapExceeded(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.identities["parent-1"] = &core.Identity{ID: "parent-1", TenantID: "tenant-1", Status: core.StatusActive}
	store.depths["parent-1"] = maxDelegationDepth

	svc := NewService(store, fakeClock{now: now})

	_, _, err := svc.ProvisionAgent(context.Background(), core.ProvisionAgentRequest{
		TenantID: "tenant-1", ParentID: "parent-1", TaskID: "task-1", Name: "worker",
	})

	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestProvisionAgent_AllowsResultingDepthAtCap(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.identities["parent-1"] = &core.Identity{ID: "parent-1", TenantID: "tenant-1", Status: core.StatusActive}
	store.depths["parent-1"] = maxDelegationDepth - 1

	svc := NewService(store, fakeClock{now: now})

	agent, depth, err := svc.ProvisionAgent(context.Background(), core.ProvisionAgentRequest{
		TenantID: "tenant-1", ParentID: "parent-1", TaskID: "task-1", Name: "worker",
	})

	require.NoError(t, err, "a resulting depth exactly at the cap must be allowed, only depth > cap is rejected")
	assert.Equal(t, maxDelegationDepth, depth)
	assert.Equal(t, core.KindAgent, agent.Kind)
}

func TestProvisionAgent_RejectsSuspendedParent(t *testing.T) {
	store := newFakeStore()
	store.identities["parent-1"] = &core.Identity{ID: "parent-1", TenantID: "tenant-1", Status: core.StatusSuspended}

	svc := NewService(store, fakeClock{now: time.Now()})

	_, _, err := svc.ProvisionAgent(context.Background(), core.ProvisionAgentRequest{
		TenantID: "tenant-1", ParentID: "parent-1", TaskID: "task-1", Name: "worker",
	})

	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestCreateIdentity_RequiresEmailForUsers(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, fakeClock{now: time.Now()})

	err := svc.CreateIdentity(context.Background(), &core.Identity{TenantID: "tenant-1", Kind: core.KindUser})
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestCreateIdentity_RequiresParentForAgents(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, fakeClock{now: time.Now()})

	err := svc.CreateIdentity(context.Background(), &core.Identity{TenantID: "tenant-1", Kind: core.KindAgent})
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}
