package store

import (
	"context"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"gorm.io/gorm"
)

// identityStore implements core.IdentityStore. CRUD follows
// tenants_users.go's GORM query/mapper idiom; DelegationChain/DelegationDepth
// are new: §4.1 requires the ancestor walk to be a single recursive store
// query, which neither the teacher nor original_source/src/db/identities.rs
// ever issues.
type identityStore struct {
	db *gorm.DB
}

// delegationDepthCap bounds the recursive walk (§4.1's "safety" cap of 100);
// a chain that reaches it is treated as a cycle.
const delegationDepthCap = 100

func (s *identityStore) Create(ctx context.Context, identity *core.Identity) error {
	model := fromCoreIdentity(identity)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	identity.ID = model.ID
	identity.CreatedAt = model.CreatedAt
	identity.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *identityStore) Get(ctx context.Context, tenantID, id string) (*core.Identity, error) {
	var model Identity
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, err
	}
	return toCoreIdentity(&model), nil
}

func (s *identityStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.Identity, error) {
	var model Identity
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND email = ?", tenantID, email).Error; err != nil {
		return nil, err
	}
	return toCoreIdentity(&model), nil
}

func (s *identityStore) List(ctx context.Context, tenantID string, filter core.IdentityFilter) ([]*core.Identity, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if filter.Kind != nil {
		query = query.Where("kind = ?", string(*filter.Kind))
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.Cursor != "" {
		query = query.Where("created_at < ?", filter.Cursor)
	}

	var models []Identity
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339Nano)
		models = models[:limit]
	}

	identities := make([]*core.Identity, len(models))
	for i, m := range models {
		identities[i] = toCoreIdentity(&m)
	}
	return identities, nextCursor, nil
}

func (s *identityStore) UpdateStatus(ctx context.Context, tenantID, id string, status core.IdentityStatus) error {
	return s.db.WithContext(ctx).Model(&Identity{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]interface{}{"status": string(status), "updated_at": time.Now().UTC()}).Error
}

func (s *identityStore) UpdateLastLogin(ctx context.Context, tenantID, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Identity{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("last_login_at", at).Error
}

// delegationRow is the recursive CTE's row shape, with the walk's depth
// attached.
type delegationRow struct {
	Identity
	Depth int
}

const delegationChainSQL = `
WITH RECURSIVE chain AS (
	SELECT i.*, 0 AS depth
	FROM identities i
	WHERE i.tenant_id = ? AND i.id = ?
	UNION ALL
	SELECT p.*, c.depth + 1
	FROM identities p
	INNER JOIN chain c ON p.id = c.parent_id AND p.tenant_id = c.tenant_id
	WHERE c.depth < ?
)
SELECT * FROM chain ORDER BY depth ASC
`

// DelegationChain walks parent_identity_id from id to its root ancestor,
// self first, as a single recursive query (§4.1's explicit O(chain)
// requirement — not an application-level loop of N round trips).
func (s *identityStore) DelegationChain(ctx context.Context, tenantID, id string) ([]*core.Identity, error) {
	var rows []delegationRow
	if err := s.db.WithContext(ctx).Raw(delegationChainSQL, tenantID, id, delegationDepthCap).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	if rows[len(rows)-1].Depth >= delegationDepthCap {
		return nil, errs.New(errs.ValidationError, "delegation chain exceeds safety cap; likely a cycle")
	}

	chain := make([]*core.Identity, len(rows))
	for i, r := range rows {
		m := r.Identity
		chain[i] = toCoreIdentity(&m)
	}
	return chain, nil
}

// DelegationDepth returns 0 for a root identity, derived from the same
// recursive walk DelegationChain performs.
func (s *identityStore) DelegationDepth(ctx context.Context, tenantID, id string) (int, error) {
	chain, err := s.DelegationChain(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}
	return len(chain) - 1, nil
}

func (s *identityStore) DeleteExpiredAgents(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Identity{}).
		Where("kind = ? AND status <> ? AND expires_at IS NOT NULL AND expires_at < ?", "agent", "deleted", before).
		Update("status", "deleted")
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func fromCoreIdentity(i *core.Identity) *Identity {
	return &Identity{
		ID:           i.ID,
		TenantID:     i.TenantID,
		Kind:         string(i.Kind),
		Name:         i.Name,
		Email:        i.Email,
		Status:       string(i.Status),
		ParentID:     i.ParentID,
		TaskID:       i.TaskID,
		TaskScope:    JSONMap(i.TaskScope),
		ExpiresAt:    i.ExpiresAt,
		PasswordHash: i.PasswordHash,
		APIKeyHash:   i.APIKeyHash,
		Metadata:     JSONMap(i.Metadata),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
		LastLoginAt:  i.LastLoginAt,
	}
}

func toCoreIdentity(m *Identity) *core.Identity {
	return &core.Identity{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Kind:         core.IdentityKind(m.Kind),
		Name:         m.Name,
		Email:        m.Email,
		Status:       core.IdentityStatus(m.Status),
		ParentID:     m.ParentID,
		TaskID:       m.TaskID,
		TaskScope:    map[string]any(m.TaskScope),
		ExpiresAt:    m.ExpiresAt,
		PasswordHash: m.PasswordHash,
		APIKeyHash:   m.APIKeyHash,
		Metadata:     map[string]any(m.Metadata),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		LastLoginAt:  m.LastLoginAt,
	}
}
