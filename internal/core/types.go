// Package core holds the domain model and the collaborator interfaces every
// other package is built against. Nothing in here talks to Postgres, Redis,
// or HTTP directly — it is the shape the rest of the module agrees on.
package core

import "time"

// IdentityKind enumerates the three kinds of principal the service manages.
type IdentityKind string

const (
	KindUser    IdentityKind = "user"
	KindService IdentityKind = "service"
	KindAgent   IdentityKind = "agent"
)

// IdentityStatus is the lifecycle state of an Identity.
type IdentityStatus string

const (
	StatusActive    IdentityStatus = "active"
	StatusSuspended IdentityStatus = "suspended"
	StatusDeleted   IdentityStatus = "deleted"
)

// TokenType enumerates the kinds of token a Session row can record.
type TokenType string

const (
	TokenAccess     TokenType = "access"
	TokenRefresh    TokenType = "refresh"
	TokenCapability TokenType = "capability"
)

// Decision is the outcome of a policy or authorization evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditEventType enumerates the audit event taxonomy from the data model.
type AuditEventType string

const (
	EventAuthentication      AuditEventType = "authentication"
	EventAuthorization       AuditEventType = "authorization"
	EventIdentityCreated     AuditEventType = "identity_created"
	EventIdentityUpdated     AuditEventType = "identity_updated"
	EventIdentityDeleted     AuditEventType = "identity_deleted"
	EventPolicyCreated       AuditEventType = "policy_created"
	EventPolicyReloaded      AuditEventType = "policy_reloaded"
	EventSessionCreated      AuditEventType = "session_created"
	EventSessionRevoked      AuditEventType = "session_revoked"
	EventTokenIssued         AuditEventType = "token_issued"
	EventTokenRevoked        AuditEventType = "token_revoked"
	EventRateLimitExceeded   AuditEventType = "rate_limit_exceeded"
	EventConfigurationChange AuditEventType = "configuration_changed"
	EventSystemEvent         AuditEventType = "system_event"
)

// Tenant is a UUID-keyed isolation boundary. Every other entity carries a
// TenantID; nothing in this module ever reads or writes across tenants.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is a principal: a human user, a long-lived service, or a
// short-lived agent delegated from a parent identity.
type Identity struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	Kind            IdentityKind   `json:"kind"`
	Name            string         `json:"name"`
	Email           *string        `json:"email,omitempty"`
	Status          IdentityStatus `json:"status"`
	ParentID        *string        `json:"parent_identity_id,omitempty"`
	TaskID          *string        `json:"task_id,omitempty"`
	TaskScope       map[string]any `json:"task_scope,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	PasswordHash    *string        `json:"-"`
	APIKeyHash      *string        `json:"-"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastLoginAt     *time.Time     `json:"last_login_at,omitempty"`
}

// Session is the persistent record of an issued token, linking its jti
// (TokenID) back to the identity that holds it.
type Session struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	TenantID   string     `json:"tenant_id"`
	TokenID    string     `json:"token_id"`
	TokenType  TokenType  `json:"token_type"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	IPAddress  *string    `json:"ip_address,omitempty"`
	UserAgent  *string    `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Policy is a declarative authorization policy document in the language the
// configured policy backend parses.
type Policy struct {
	ID         string    `json:"id"`
	TenantID   *string   `json:"tenant_id,omitempty"` // nullable => global
	Name       string    `json:"name"`
	PolicyText string    `json:"policy_text"`
	Version    int       `json:"version"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuditEvent is a pre-persist audit record.
type AuditEvent struct {
	TenantID         string         `json:"tenant_id"`
	ActorIdentityID  *string        `json:"actor_identity_id,omitempty"`
	DelegationChain  []string       `json:"delegation_chain,omitempty"`
	EventType        AuditEventType `json:"event_type"`
	Action           string         `json:"action"`
	ResourceType     string         `json:"resource_type"`
	ResourceID       *string        `json:"resource_id,omitempty"`
	Decision         *Decision      `json:"decision,omitempty"`
	DecisionReason   *string        `json:"decision_reason,omitempty"`
	RequestID        *string        `json:"request_id,omitempty"`
	IPAddress        *string        `json:"ip_address,omitempty"`
	UserAgent        *string        `json:"user_agent,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	Timestamp        time.Time      `json:"timestamp"`
}

// PersistedAuditEvent is an AuditEvent after it has been hash-chained and
// assigned a durable id.
type PersistedAuditEvent struct {
	ID               string  `json:"id"`
	Event            AuditEvent `json:"event"`
	PreviousEventHash *string `json:"previous_event_hash,omitempty"`
	Signature        *string `json:"signature,omitempty"`
}

// AccessClaims is the claim shape minted into and validated out of a C6
// access token.
type AccessClaims struct {
	Subject   string       `json:"sub"`
	TenantID  string       `json:"tenant_id"`
	Kind      IdentityKind `json:"kind"`
	IssuedAt  int64        `json:"iat"`
	ExpiresAt int64        `json:"exp"`
	JTI       string       `json:"jti"`
	Issuer    string       `json:"iss"`
	Audience  []string     `json:"aud"`
}

// RefreshClaims is the claim shape for a C6 refresh token.
type RefreshClaims struct {
	Subject   string `json:"sub"`
	TenantID  string `json:"tenant_id"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	JTI       string `json:"jti"`
	FamilyID  string `json:"family_id"`
	Issuer    string `json:"iss"`
}

// CapabilityClaims is what ExtractClaims returns out of a validated
// capability token.
type CapabilityClaims struct {
	AgentID   string         `json:"agent_id"`
	TenantID  string         `json:"tenant_id"`
	ParentID  string         `json:"parent_id"`
	TaskID    string         `json:"task_id"`
	IssuedAt  int64          `json:"issued_at"`
	ExpiresAt int64          `json:"expires_at"`
	KeyID     string         `json:"key_id"`
	TaskScope map[string]any `json:"task_scope"`
}

// TokenPair is what login/refresh hand back to the caller.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// ProvisionAgentRequest is the input to the JIT agent provisioning flow.
type ProvisionAgentRequest struct {
	TenantID   string
	ParentID   string
	TaskID     string
	TaskScope  map[string]any
	Name       string
	TTLSeconds int
	Metadata   map[string]any
}

// AuthzRequest is a single (principal, action, resource) authorization ask.
type AuthzRequest struct {
	Principal string
	Action    string
	Resource  string
	Context   map[string]any
}

// AuthzResult is the outcome of evaluating a single AuthzRequest.
type AuthzResult struct {
	Allowed bool
	Reasons []string
	Errors  []string
}

// AuthzBulkResult is the outcome of a batch evaluation.
type AuthzBulkResult struct {
	Results      []AuthzResult
	Total        int
	AllowedCount int
	DeniedCount  int
}

// Clock is the sole source of "now" in the module; tests supply a fixed
// clock, production uses RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
