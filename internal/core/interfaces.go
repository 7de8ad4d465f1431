package core

import (
	"context"
	"time"
)

// Config holds the composition-root configuration every service is built
// from. Concrete values are loaded by internal/config; this struct is the
// shape the rest of the module depends on.
type Config struct {
	JWTSecret            string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	PasswordMinLength    int
	MaxLoginAttempts     int
	DelegationDepthCap   int
	AgentTTLMin          time.Duration
	AgentTTLMax          time.Duration
	AgentTTLDefault      time.Duration
	AuditBatchSize       int
	AuditFlushInterval   time.Duration
	AuditChannelBuffer   int
	BiscuitRootKeyHex    string
}

// IdentityFilter bounds an identity listing. Limit is clamped to [1,1000]
// by the store, default 100.
type IdentityFilter struct {
	Kind   *IdentityKind
	Status *IdentityStatus
	Limit  int
	Cursor string
}

// IdentityStore is C5: identity CRUD plus the recursive delegation walk.
type IdentityStore interface {
	Create(ctx context.Context, identity *Identity) error
	Get(ctx context.Context, tenantID, id string) (*Identity, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*Identity, error)
	List(ctx context.Context, tenantID string, filter IdentityFilter) ([]*Identity, string, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status IdentityStatus) error
	UpdateLastLogin(ctx context.Context, tenantID, id string, at time.Time) error
	// DelegationChain returns the ordered path from id to its root ancestor,
	// self first. MUST be a single recursive store query, not N round trips.
	DelegationChain(ctx context.Context, tenantID, id string) ([]*Identity, error)
	// DelegationDepth returns 0 for a root identity.
	DelegationDepth(ctx context.Context, tenantID, id string) (int, error)
	DeleteExpiredAgents(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore is C8: the persistent record of issued tokens.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenID(ctx context.Context, tenantID, tokenID string) (*Session, error)
	Revoke(ctx context.Context, tenantID, tokenID string, at time.Time) error
	Touch(ctx context.Context, tenantID, tokenID string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

// PolicyStore is the relational half of C9: the policy documents
// themselves, independent of the in-memory working set.
type PolicyStore interface {
	Create(ctx context.Context, policy *Policy) error
	Get(ctx context.Context, id string) (*Policy, error)
	ListActive(ctx context.Context) ([]*Policy, error)
	List(ctx context.Context, tenantID *string) ([]*Policy, error)
	Deactivate(ctx context.Context, id string) error
}

// AuditEventStore is the relational half of C10: durable persisted events.
type AuditEventStore interface {
	WriteBatch(ctx context.Context, events []PersistedAuditEvent) error
	List(ctx context.Context, tenantID string, limit int) ([]PersistedAuditEvent, error)
}

// RevocationSet is C3: the shared key-value store's fast revocation lookup.
type RevocationSet interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RateLimiter is C4.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
	CurrentCount(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed   bool
	Current   int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter is the non-negative number of seconds until ResetAt.
func (r RateLimitResult) RetryAfter(now time.Time) int64 {
	d := int64(r.ResetAt.Sub(now).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// JWTManager is C6: symmetric access/refresh tokens for users and services.
type JWTManager interface {
	MintAccess(identityID, tenantID string, kind IdentityKind) (string, error)
	MintRefresh(identityID, tenantID, familyID string) (string, error)
	ValidateAccess(token string) (*AccessClaims, error)
	ValidateRefresh(token string) (*RefreshClaims, error)
	ExtractJTI(token string) (string, error)
}

// CapabilityTokenManager is C7: asymmetric, attenuable agent tokens.
type CapabilityTokenManager interface {
	Mint(req CapabilityMintRequest) (string, error)
	Validate(token string) (*CapabilityClaims, error)
	Attenuate(token string, extraChecks []string) (string, error)
	PublicKeyBytes() []byte
}

// CapabilityMintRequest is the input to Mint.
type CapabilityMintRequest struct {
	AgentID   string
	TenantID  string
	ParentID  string
	TaskID    string
	TaskScope map[string]any
	ExpiresAt time.Time
}

// PolicyBackend is the pluggable capability C9 is polymorphic over.
type PolicyBackend interface {
	Parse(id, text string) (any, error)
	EmptySet() any
	SetAdd(set any, id string, parsed any) any
	SetRemove(set any, id string) any
	Evaluate(set any, req AuthzRequest) (decision Decision, matchedIDs []string, errs []string)
}

// PolicyEngine is C9: the working-set-backed evaluator.
type PolicyEngine interface {
	Reload(ctx context.Context) (int, error)
	Add(ctx context.Context, policyID, text string) error
	Remove(ctx context.Context, policyID string) error
	Authorize(ctx context.Context, req AuthzRequest) AuthzResult
	AuthorizeBulk(ctx context.Context, reqs []AuthzRequest) AuthzBulkResult
}

// AuditSink is C10's producer-facing interface.
type AuditSink interface {
	Log(ctx context.Context, event AuditEvent) error
	Close(ctx context.Context) error
}

// AuditStorage is a single pluggable audit backend ("at least one
// acknowledges" fans out across N of these).
type AuditStorage interface {
	WriteBatch(ctx context.Context, events []PersistedAuditEvent) error
	Name() string
}

// Evaluator is C11: combines identity status and policy state into a
// single authorization decision. Session state is not consulted.
type Evaluator interface {
	Evaluate(ctx context.Context, tenantID string, req AuthzRequest) (AuthzResult, error)
}

// PasswordHasher is C1.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}
