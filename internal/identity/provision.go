// Package identity implements the JIT agent-provisioning algorithm from
// §4.1: everything relational lives in internal/store's identityStore; this
// package is the orchestration of that store plus the clock/audit wiring
// provision_agent needs. Grounded on auth/sessions/service.go's thin
// service-over-store shape.
package identity

import (
	"context"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/google/uuid"
)

const (
	agentTTLMin     = 60 * time.Second
	agentTTLMax     = 86400 * time.Second
	agentTTLDefault = 3600 * time.Second
	maxDelegationDepth = 10
)

// Service wraps core.IdentityStore with the provisioning algorithm and
// delegation-depth enforcement §3 requires beyond plain CRUD.
type Service struct {
	store core.IdentityStore
	clock core.Clock
}

// NewService builds a Service.
func NewService(store core.IdentityStore, clock core.Clock) *Service {
	return &Service{store: store, clock: clock}
}

// Store exposes the underlying core.IdentityStore for callers (e.g.
// orchestrate.Service's last-login update) that need store methods this
// Service does not wrap.
func (s *Service) Store() core.IdentityStore { return s.store }

// ProvisionAgent implements §4.1's provision_agent algorithm: load parent,
// depth-check, TTL-validate, expiry-clamp, insert, and return the new
// identity alongside its delegation depth for the caller's audit event.
func (s *Service) ProvisionAgent(ctx context.Context, req core.ProvisionAgentRequest) (*core.Identity, int, error) {
	parent, err := s.store.Get(ctx, req.TenantID, req.ParentID)
	if err != nil {
		return nil, 0, errs.Wrap(errs.NotFound, "parent identity not found", err)
	}
	if parent.TenantID != req.TenantID {
		return nil, 0, errs.New(errs.ValidationError, "parent identity belongs to a different tenant")
	}
	if parent.Status != core.StatusActive {
		return nil, 0, errs.New(errs.ValidationError, "parent identity is not active")
	}

	parentDepth, err := s.store.DelegationDepth(ctx, req.TenantID, req.ParentID)
	if err != nil {
		return nil, 0, errs.Wrap(errs.StoreError, "compute parent delegation depth", err)
	}
	newDepth := parentDepth + 1
	if newDepth > maxDelegationDepth {
		return nil, 0, errs.New(errs.ValidationError, "delegation depth cap exceeded")
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if req.TTLSeconds == 0 {
		ttl = agentTTLDefault
	} else if ttl < agentTTLMin || ttl > agentTTLMax {
		return nil, 0, errs.New(errs.ValidationError, "ttl_seconds must be between 60 and 86400")
	}

	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	if parent.ExpiresAt != nil && parent.ExpiresAt.Before(expiresAt) {
		expiresAt = *parent.ExpiresAt
	}

	agent := &core.Identity{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Kind:      core.KindAgent,
		Name:      req.Name,
		Status:    core.StatusActive,
		ParentID:  &req.ParentID,
		TaskID:    &req.TaskID,
		TaskScope: req.TaskScope,
		ExpiresAt: &expiresAt,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, agent); err != nil {
		return nil, 0, errs.Wrap(errs.StoreError, "create agent identity", err)
	}

	return agent, newDepth, nil
}

// Get, List, UpdateStatus, GetByEmail pass through to the store for the
// callers (orchestrate, httpapi) that only need plain access.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*core.Identity, error) {
	return s.store.Get(ctx, tenantID, id)
}

func (s *Service) GetByEmail(ctx context.Context, tenantID, email string) (*core.Identity, error) {
	return s.store.GetByEmail(ctx, tenantID, email)
}

func (s *Service) List(ctx context.Context, tenantID string, filter core.IdentityFilter) ([]*core.Identity, string, error) {
	return s.store.List(ctx, tenantID, filter)
}

func (s *Service) UpdateStatus(ctx context.Context, tenantID, id string, status core.IdentityStatus) error {
	return s.store.UpdateStatus(ctx, tenantID, id, status)
}

func (s *Service) DelegationChain(ctx context.Context, tenantID, id string) ([]*core.Identity, error) {
	return s.store.DelegationChain(ctx, tenantID, id)
}

// CreateIdentity inserts a pre-validated user/service identity (the
// administrative path §3 describes, as opposed to JIT agent provisioning).
func (s *Service) CreateIdentity(ctx context.Context, identity *core.Identity) error {
	if identity.Kind == core.KindUser && (identity.Email == nil || *identity.Email == "") {
		return errs.New(errs.ValidationError, "users require an email")
	}
	if identity.Kind == core.KindAgent && (identity.ParentID == nil || *identity.ParentID == "") {
		return errs.New(errs.ValidationError, "agents require a parent_identity_id")
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := s.clock.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	if identity.Status == "" {
		identity.Status = core.StatusActive
	}
	return s.store.Create(ctx, identity)
}
