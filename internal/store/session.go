package store

import (
	"context"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"gorm.io/gorm"
)

// sessionStore implements core.SessionStore, grounded on
// tenants_users.go's per-entity store idiom.
type sessionStore struct {
	db *gorm.DB
}

func (s *sessionStore) Create(ctx context.Context, session *core.Session) error {
	model := &Session{
		ID:         session.ID,
		IdentityID: session.IdentityID,
		TenantID:   session.TenantID,
		TokenID:    session.TokenID,
		TokenType:  string(session.TokenType),
		ExpiresAt:  session.ExpiresAt,
		RevokedAt:  session.RevokedAt,
		LastUsedAt: session.LastUsedAt,
		IPAddress:  session.IPAddress,
		UserAgent:  session.UserAgent,
		Metadata:   JSONMap(session.Metadata),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	session.ID = model.ID
	return nil
}

func (s *sessionStore) GetByTokenID(ctx context.Context, tenantID, tokenID string) (*core.Session, error) {
	var model Session
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND token_id = ?", tenantID, tokenID).Error; err != nil {
		return nil, err
	}
	return toCoreSession(&model), nil
}

func (s *sessionStore) Revoke(ctx context.Context, tenantID, tokenID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("tenant_id = ? AND token_id = ?", tenantID, tokenID).
		Update("revoked_at", at).Error
}

func (s *sessionStore) Touch(ctx context.Context, tenantID, tokenID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("tenant_id = ? AND token_id = ?", tenantID, tokenID).
		Update("last_used_at", at).Error
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) error {
	return s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&Session{}).Error
}

func toCoreSession(m *Session) *core.Session {
	return &core.Session{
		ID:         m.ID,
		IdentityID: m.IdentityID,
		TenantID:   m.TenantID,
		TokenID:    m.TokenID,
		TokenType:  core.TokenType(m.TokenType),
		ExpiresAt:  m.ExpiresAt,
		RevokedAt:  m.RevokedAt,
		LastUsedAt: m.LastUsedAt,
		IPAddress:  m.IPAddress,
		UserAgent:  m.UserAgent,
		Metadata:   map[string]any(m.Metadata),
	}
}
