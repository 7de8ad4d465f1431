package authz

import (
	"context"
	"testing"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentityStore struct {
	identities map[string]*core.Identity
}

func (f *fakeIdentityStore) Create(ctx context.Context, identity *core.Identity) error { return nil }
func (f *fakeIdentityStore) Get(ctx context.Context, tenantID, id string) (*core.Identity, error) {
	ident, ok := f.identities[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "identity not found")
	}
	return ident, nil
}
func (f *fakeIdentityStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.Identity, error) {
	return nil, errs.New(errs.NotFound, "identity not found")
}
func (f *fakeIdentityStore) List(ctx context.Context, tenantID string, filter core.IdentityFilter) ([]*core.Identity, string, error) {
	return nil, "", nil
}
func (f *fakeIdentityStore) UpdateStatus(ctx context.Context, tenantID, id string, status core.IdentityStatus) error {
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

type fakePolicyEngine struct {
	result core.AuthzResult
}

func (f *fakePolicyEngine) Reload(ctx context.Context) (int, error) { return 0, nil }
func (f *fakePolicyEngine) Add(ctx context.Context, policyID, text string) error { return nil }
func (f *fakePolicyEngine) Remove(ctx context.Context, policyID string) error { return nil }
func (f *fakePolicyEngine) Authorize(ctx context.Context, req core.AuthzRequest) core.AuthzResult {
	return f.result
}
func (f *fakePolicyEngine) AuthorizeBulk(ctx context.Context, reqs []core.AuthzRequest) core.AuthzBulkResult {
	return core.AuthzBulkResult{}
}

func TestEvaluate_DeniesSuspendedIdentityBeforeConsultingPolicy(t *testing.T) {
	identities := &fakeIdentityStore{identities: map[string]*core.Identity{
		"alice": {ID: "alice", TenantID: "tenant-1", Status: core.StatusSuspended},
	}}
	policy := &fakePolicyEngine{result: core.AuthzResult{Allowed: true}}

	evaluator := NewEvaluator(identities, policy)

	result, err := evaluator.Evaluate(context.Background(), "tenant-1", core.AuthzRequest{
		Principal: `User::"alice"`, Action: "read", Resource: `File::"f1"`,
	})

	require.NoError(t, err)
	assert.False(t, result.Allowed, "a suspended identity must be denied regardless of what the policy engine would say")
}

func TestEvaluate_FallsThroughToPolicyForActiveIdentity(t *testing.T) {
	identities := &fakeIdentityStore{identities: map[string]*core.Identity{
		"alice": {ID: "alice", TenantID: "tenant-1", Status: core.StatusActive},
	}}
	policy := &fakePolicyEngine{result: core.AuthzResult{Allowed: true}}

	evaluator := NewEvaluator(identities, policy)

	result, err := evaluator.Evaluate(context.Background(), "tenant-1", core.AuthzRequest{
		Principal: `User::"alice"`, Action: "read", Resource: `File::"f1"`,
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestEvaluate_PrincipalNotAnIdentityStillConsultsPolicy(t *testing.T) {
	identities := &fakeIdentityStore{identities: map[string]*core.Identity{}}
	policy := &fakePolicyEngine{result: core.AuthzResult{Allowed: false}}

	evaluator := NewEvaluator(identities, policy)

	result, err := evaluator.Evaluate(context.Background(), "tenant-1", core.AuthzRequest{
		Principal: "service-account", Action: "read", Resource: `File::"f1"`,
	})

	require.NoError(t, err)
	assert.False(t, result.Allowed)
}
