package store

import (
	"context"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"gorm.io/gorm"
)

// policyStore implements core.PolicyStore: the relational half of C9, the
// documents the in-memory working set is reloaded from.
type policyStore struct {
	db *gorm.DB
}

func (s *policyStore) Create(ctx context.Context, policy *core.Policy) error {
	model := &Policy{
		ID:         policy.ID,
		TenantID:   policy.TenantID,
		Name:       policy.Name,
		PolicyText: policy.PolicyText,
		Version:    policy.Version,
		IsActive:   policy.IsActive,
		CreatedAt:  policy.CreatedAt,
		UpdatedAt:  policy.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	policy.ID = model.ID
	policy.CreatedAt = model.CreatedAt
	policy.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *policyStore) Get(ctx context.Context, id string) (*core.Policy, error) {
	var model Policy
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return toCorePolicy(&model), nil
}

func (s *policyStore) ListActive(ctx context.Context) ([]*core.Policy, error) {
	var models []Policy
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	policies := make([]*core.Policy, len(models))
	for i, m := range models {
		policies[i] = toCorePolicy(&m)
	}
	return policies, nil
}

func (s *policyStore) List(ctx context.Context, tenantID *string) ([]*core.Policy, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if tenantID != nil {
		query = query.Where("tenant_id = ? OR tenant_id IS NULL", *tenantID)
	}
	var models []Policy
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	policies := make([]*core.Policy, len(models))
	for i, m := range models {
		policies[i] = toCorePolicy(&m)
	}
	return policies, nil
}

func (s *policyStore) Deactivate(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Policy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now().UTC()}).Error
}

func toCorePolicy(m *Policy) *core.Policy {
	return &core.Policy{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Name:       m.Name,
		PolicyText: m.PolicyText,
		Version:    m.Version,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
