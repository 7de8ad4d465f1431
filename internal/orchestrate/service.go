// Package orchestrate implements C12: the façade that ties every other
// component together to serve login/logout/refresh/provision_agent/check,
// exactly as SPEC_FULL.md §4.7 describes. Grounded on auth/sessions/service.go
// and auth/tokens/service.go's "service wraps collaborators" shape, since
// neither the teacher nor original_source implements this façade's refresh
// semantics end to end.
package orchestrate

import (
	"context"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/agent-iam/iam/internal/identity"
	"github.com/agent-iam/iam/internal/metrics"
	"github.com/agent-iam/iam/internal/sessions"
	"github.com/google/uuid"
)

// Service implements the C12 orchestration façade.
type Service struct {
	identities *identity.Service
	sessions   *sessions.Service
	passwords  core.PasswordHasher
	jwt        core.JWTManager
	capability core.CapabilityTokenManager
	evaluator  core.Evaluator
	limiter    core.RateLimiter
	audit      core.AuditSink
	clock      core.Clock
	metrics    *metrics.Metrics

	authRateLimit int
	authWindow    time.Duration
}

// Config bundles the rate-limit class parameters login consults.
type Config struct {
	AuthRateLimit int
	AuthWindow    time.Duration
}

// New builds a Service.
func New(
	identities *identity.Service,
	sess *sessions.Service,
	passwords core.PasswordHasher,
	jwt core.JWTManager,
	capability core.CapabilityTokenManager,
	evaluator core.Evaluator,
	limiter core.RateLimiter,
	audit core.AuditSink,
	clock core.Clock,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	return &Service{
		identities: identities, sessions: sess, passwords: passwords, jwt: jwt,
		capability: capability, evaluator: evaluator, limiter: limiter,
		audit: audit, clock: clock, metrics: m,
		authRateLimit: cfg.AuthRateLimit, authWindow: cfg.AuthWindow,
	}
}

// Identities exposes the identity service for read-only handlers (get,
// delegation chain) that don't need the full orchestration façade.
func (s *Service) Identities() *identity.Service { return s.identities }

// LoginResult is what Login hands back on success.
type LoginResult struct {
	Tokens   core.TokenPair
	Identity *core.Identity
}

// Login validates credentials, rate-limits by email, and mints a fresh
// access/refresh pair.
func (s *Service) Login(ctx context.Context, tenantID, email, password, ip, userAgent string) (*LoginResult, error) {
	if s.authRateLimit > 0 {
		res, err := s.limiter.CheckAndIncrement(ctx, "auth:"+tenantID+":"+email, s.authRateLimit, s.authWindow)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			s.emitAudit(ctx, core.AuditEvent{
				TenantID: tenantID, EventType: core.EventRateLimitExceeded,
				Action: "login", ResourceType: "identity", Timestamp: s.clock.Now(),
			})
			return nil, errs.New(errs.RateLimitExceeded, "too many login attempts")
		}
	}

	ident, err := s.identities.GetByEmail(ctx, tenantID, email)
	if err != nil {
		s.emitLoginDenied(ctx, tenantID, nil)
		return nil, errs.Wrap(errs.InvalidCredentials, "invalid credentials", err)
	}
	if ident.Status != core.StatusActive {
		s.emitLoginDenied(ctx, tenantID, &ident.ID)
		return nil, errs.New(errs.InvalidCredentials, "invalid credentials")
	}
	if ident.PasswordHash == nil {
		s.emitLoginDenied(ctx, tenantID, &ident.ID)
		return nil, errs.New(errs.InvalidCredentials, "invalid credentials")
	}
	ok, err := s.passwords.Verify(password, *ident.PasswordHash)
	if err != nil || !ok {
		s.emitLoginDenied(ctx, tenantID, &ident.ID)
		return nil, errs.New(errs.InvalidCredentials, "invalid credentials")
	}

	tokens, err := s.issueTokenPair(ctx, ident, "", ip, userAgent)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	_ = s.identities.Store().UpdateLastLogin(ctx, tenantID, ident.ID, now)

	allow := core.DecisionAllow
	s.emitAudit(ctx, core.AuditEvent{
		TenantID: tenantID, ActorIdentityID: &ident.ID, EventType: core.EventAuthentication,
		Action: "login", ResourceType: "identity", ResourceID: &ident.ID, Decision: &allow, Timestamp: now,
	})

	return &LoginResult{Tokens: *tokens, Identity: ident}, nil
}

// emitLoginDenied records a failed credential check per §4.7 step 5: every
// login rejection gets a decision=deny authentication audit event, even when
// the identity itself couldn't be resolved (actorIdentityID nil).
func (s *Service) emitLoginDenied(ctx context.Context, tenantID string, actorIdentityID *string) {
	deny := core.DecisionDeny
	s.emitAudit(ctx, core.AuditEvent{
		TenantID: tenantID, ActorIdentityID: actorIdentityID, EventType: core.EventAuthentication,
		Action: "login", ResourceType: "identity", ResourceID: actorIdentityID, Decision: &deny, Timestamp: s.clock.Now(),
	})
}

// Logout revokes the session backing accessToken's jti.
func (s *Service) Logout(ctx context.Context, tenantID, accessToken string) error {
	claims, err := s.jwt.ValidateAccess(accessToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Revoke(ctx, tenantID, claims.JTI, time.Unix(claims.ExpiresAt, 0)); err != nil {
		return err
	}
	s.emitAudit(ctx, core.AuditEvent{
		TenantID: tenantID, ActorIdentityID: &claims.Subject, EventType: core.EventSessionRevoked,
		Action: "logout", ResourceType: "session", Timestamp: s.clock.Now(),
	})
	return nil
}

// Refresh validates the presented refresh token, mints a new access+refresh
// pair within the same family, and revokes the presented refresh jti — the
// §9 Open Question 4 semantics neither source implements.
func (s *Service) Refresh(ctx context.Context, tenantID, refreshToken string) (*LoginResult, error) {
	claims, err := s.jwt.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.ValidateTokenID(ctx, tenantID, claims.JTI); err != nil {
		return nil, err
	}

	ident, err := s.identities.Get(ctx, tenantID, claims.Subject)
	if err != nil {
		return nil, errs.Wrap(errs.Unauthorized, "identity not found", err)
	}
	if ident.Status != core.StatusActive {
		return nil, errs.New(errs.Unauthorized, "identity is not active")
	}

	tokens, err := s.issueTokenPair(ctx, ident, claims.FamilyID, "", "")
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Revoke(ctx, tenantID, claims.JTI, time.Unix(claims.ExpiresAt, 0)); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, core.AuditEvent{
		TenantID: tenantID, ActorIdentityID: &ident.ID, EventType: core.EventTokenIssued,
		Action: "refresh", ResourceType: "session", Timestamp: s.clock.Now(),
	})

	return &LoginResult{Tokens: *tokens, Identity: ident}, nil
}

// ProvisionAgent runs §4.1's JIT algorithm and mints a capability token for
// the new agent identity.
func (s *Service) ProvisionAgent(ctx context.Context, req core.ProvisionAgentRequest) (*core.Identity, string, error) {
	agent, depth, err := s.identities.ProvisionAgent(ctx, req)
	if err != nil {
		return nil, "", err
	}

	token, err := s.capability.Mint(core.CapabilityMintRequest{
		AgentID: agent.ID, TenantID: req.TenantID, ParentID: req.ParentID,
		TaskID: req.TaskID, TaskScope: req.TaskScope, ExpiresAt: *agent.ExpiresAt,
	})
	if err != nil {
		return nil, "", err
	}

	if _, err := s.sessions.Create(ctx, req.TenantID, agent.ID, uuid.NewString(), core.TokenCapability, *agent.ExpiresAt, nil, nil); err != nil {
		return nil, "", err
	}

	chain := make([]string, 0, depth+1)
	chain = append(chain, agent.ID, req.ParentID)
	s.emitAudit(ctx, core.AuditEvent{
		TenantID: req.TenantID, ActorIdentityID: &req.ParentID, DelegationChain: chain,
		EventType: core.EventIdentityCreated, Action: "provision_agent",
		ResourceType: "identity", ResourceID: &agent.ID, Timestamp: s.clock.Now(),
	})

	return agent, token, nil
}

// Check answers a single authorization ask and emits its decision to audit.
func (s *Service) Check(ctx context.Context, tenantID string, req core.AuthzRequest) (core.AuthzResult, error) {
	result, err := s.evaluator.Evaluate(ctx, tenantID, req)
	if err != nil {
		return core.AuthzResult{}, err
	}

	decision := core.DecisionDeny
	if result.Allowed {
		decision = core.DecisionAllow
	}
	resource := req.Resource
	s.emitAudit(ctx, core.AuditEvent{
		TenantID: tenantID, EventType: core.EventAuthorization, Action: req.Action,
		ResourceType: "resource", ResourceID: &resource, Decision: &decision, Timestamp: s.clock.Now(),
	})

	if s.metrics != nil {
		s.metrics.AuthzDecisions.WithLabelValues(string(decision)).Inc()
	}
	return result, nil
}

func (s *Service) issueTokenPair(ctx context.Context, ident *core.Identity, familyID, ip, userAgent string) (*core.TokenPair, error) {
	access, err := s.jwt.MintAccess(ident.ID, ident.TenantID, ident.Kind)
	if err != nil {
		return nil, err
	}
	accessJTI, err := s.jwt.ExtractJTI(access)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwt.MintRefresh(ident.ID, ident.TenantID, familyID)
	if err != nil {
		return nil, err
	}
	refreshClaims, err := s.jwt.ValidateRefresh(refresh)
	if err != nil {
		return nil, err
	}

	var ipPtr, uaPtr *string
	if ip != "" {
		ipPtr = &ip
	}
	if userAgent != "" {
		uaPtr = &userAgent
	}

	accessClaims, err := s.jwt.ValidateAccess(access)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Create(ctx, ident.TenantID, ident.ID, accessJTI, core.TokenAccess, time.Unix(accessClaims.ExpiresAt, 0), ipPtr, uaPtr); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Create(ctx, ident.TenantID, ident.ID, refreshClaims.JTI, core.TokenRefresh, time.Unix(refreshClaims.ExpiresAt, 0), ipPtr, uaPtr); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.WithLabelValues("access").Inc()
		s.metrics.TokensIssued.WithLabelValues("refresh").Inc()
	}

	return &core.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    accessClaims.ExpiresAt - s.clock.Now().Unix(),
	}, nil
}

func (s *Service) emitAudit(ctx context.Context, event core.AuditEvent) {
	if s.audit == nil {
		return
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	_ = s.audit.Log(ctx, event)
}
