package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONMap is a GORM-mapped JSONB column holding an arbitrary object.
type JSONMap map[string]any

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*m = JSONMap{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = JSONMap{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return nil
	}
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// JSONStrings is a GORM-mapped JSONB column holding a string array.
type JSONStrings []string

func (s *JSONStrings) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*s = nil
			return nil
		}
		return json.Unmarshal(v, s)
	case string:
		if v == "" {
			*s = nil
			return nil
		}
		return json.Unmarshal([]byte(v), s)
	default:
		return nil
	}
}

func (s JSONStrings) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Tenant is the GORM model for tenants.
type Tenant struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Slug      string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Identity is the GORM model for C5's identity rows: users, services, and
// JIT-provisioned agents all live in the same table, distinguished by Kind.
type Identity struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_email"`
	Kind         string `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	Email        *string `gorm:"uniqueIndex:idx_tenant_email"`
	Status       string `gorm:"not null;index"`
	ParentID     *string `gorm:"type:uuid;index"`
	TaskID       *string
	TaskScope    JSONMap `gorm:"type:jsonb"`
	ExpiresAt    *time.Time `gorm:"index"`
	PasswordHash *string
	APIKeyHash   *string `gorm:"index"`
	Metadata     JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastLoginAt  *time.Time
}

// Session is the GORM model for C8's issued-token ledger.
type Session struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	IdentityID string `gorm:"type:uuid;not null;index"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	TokenID    string `gorm:"not null;uniqueIndex"`
	TokenType  string `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	RevokedAt  *time.Time `gorm:"index"`
	LastUsedAt *time.Time
	IPAddress  *string
	UserAgent  *string
	Metadata   JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
}

// Policy is the GORM model for C9's policy documents.
type Policy struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	TenantID   *string `gorm:"type:uuid;index"`
	Name       string  `gorm:"not null"`
	PolicyText string  `gorm:"not null"`
	Version    int     `gorm:"not null"`
	IsActive   bool    `gorm:"not null;default:true;index"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// AuditEvent is the GORM model for C10's persisted, hash-chained events.
type AuditEvent struct {
	ID                string  `gorm:"type:uuid;primaryKey"`
	TenantID          string  `gorm:"type:uuid;not null;index"`
	ActorIdentityID   *string `gorm:"type:uuid;index"`
	DelegationChain   JSONStrings `gorm:"type:jsonb"`
	EventType         string  `gorm:"not null;index"`
	Action            string  `gorm:"not null"`
	ResourceType      string  `gorm:"not null"`
	ResourceID        *string
	Decision          *string
	DecisionReason    *string
	RequestID         *string
	IPAddress         *string
	UserAgent         *string
	Metadata          JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	Timestamp         time.Time `gorm:"not null;index"`
	PreviousEventHash *string
	Signature         *string
}
