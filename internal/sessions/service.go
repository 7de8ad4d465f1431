package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
)

// Service implements session lifecycle management for C8, with the §4.6
// dual-write revocation path (Postgres row + Redis revocation set) over C3.
type Service struct {
	store      core.SessionStore
	revocation core.RevocationSet
	clock      core.Clock
}

// NewService builds a Service.
func NewService(store core.SessionStore, revocation core.RevocationSet, clock core.Clock) *Service {
	return &Service{store: store, revocation: revocation, clock: clock}
}

// Create inserts a session row for a freshly minted token.
func (s *Service) Create(ctx context.Context, tenantID, identityID, tokenID string, tokenType core.TokenType, expiresAt time.Time, ip, userAgent *string) (*core.Session, error) {
	session := &core.Session{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		TenantID:   tenantID,
		TokenID:    tokenID,
		TokenType:  tokenType,
		ExpiresAt:  expiresAt,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, errs.Wrap(errs.StoreError, "create session", err)
	}
	return session, nil
}

// ValidateTokenID consults the revocation set in addition to the session
// row's own expiry/revoked_at — a cryptographically valid token whose jti
// has been revoked is rejected with TokenRevoked (§4.6).
func (s *Service) ValidateTokenID(ctx context.Context, tenantID, tokenID string) (*core.Session, error) {
	revoked, err := s.revocation.IsRevoked(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, errs.New(errs.TokenRevoked, "token revoked")
	}

	session, err := s.store.GetByTokenID(ctx, tenantID, tokenID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "session not found", err)
	}
	if session.RevokedAt != nil {
		return nil, errs.New(errs.TokenRevoked, "token revoked")
	}
	now := s.clock.Now()
	if now.After(session.ExpiresAt) {
		return nil, errs.New(errs.TokenExpired, "token expired")
	}

	_ = s.store.Touch(ctx, tenantID, tokenID, now)
	return session, nil
}

// Revoke performs the §4.6 dual write: mark the Postgres row revoked, then
// insert a Redis revocation entry whose TTL is the token's residual
// lifetime (at least 1s, capped at exp-now).
func (s *Service) Revoke(ctx context.Context, tenantID, tokenID string, expiresAt time.Time) error {
	now := s.clock.Now()
	if err := s.store.Revoke(ctx, tenantID, tokenID, now); err != nil {
		return errs.Wrap(errs.StoreError, "revoke session", err)
	}

	ttl := expiresAt.Sub(now)
	if err := s.revocation.Revoke(ctx, tokenID, ttl); err != nil {
		return err
	}
	return nil
}
