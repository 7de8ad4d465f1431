package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/agent-iam/iam/internal/core"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// GormStore is the composition root's relational handle: the single owner
// of identities, sessions, policies, and audit logs (§3's ownership rule).
type GormStore struct {
	db *gorm.DB
}

// setUUIDBeforeCreate sets UUID for empty primary key ID fields (so SQLite and Postgres both work)
func setUUIDBeforeCreate(db *gorm.DB) {
	if db.Statement.Schema == nil {
		return
	}
	for _, field := range db.Statement.Schema.Fields {
		if field.Name == "ID" && field.DBName == "id" && field.PrimaryKey {
			val, zero := field.ValueOf(db.Statement.Context, db.Statement.ReflectValue)
			if zero || val == nil {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
				return
			}
			if s, ok := val.(string); ok && s == "" {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
			}
			return
		}
	}
}

// New opens a GormStore against databaseURL, with the pool bounds §5
// requires (bounded store connection pool via database/sql under gorm).
func New(databaseURL string, maxOpenConn, maxIdleConn int) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("acquire sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConn)
	sqlDB.SetMaxIdleConns(maxIdleConn)

	db.Callback().Create().Before("gorm:before_create").Register("store:set_uuid", func(d *gorm.DB) {
		setUUIDBeforeCreate(d)
	})
	return &GormStore{db: db}, nil
}

// NewWithDB wraps an already-opened GORM handle, registering the same UUID
// callback New does.
func NewWithDB(db *gorm.DB) *GormStore {
	db.Callback().Create().Before("gorm:before_create").Register("store:set_uuid", func(d *gorm.DB) {
		setUUIDBeforeCreate(d)
	})
	return &GormStore{db: db}
}

// DB returns the underlying GORM handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// AutoMigrate runs schema migration for every owned table.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Tenant{},
		&Identity{},
		&Session{},
		&Policy{},
		&AuditEvent{},
	)
}

// Identities returns the identity store (C5).
func (s *GormStore) Identities() core.IdentityStore {
	return &identityStore{db: s.db}
}

// Sessions returns the session store (C8).
func (s *GormStore) Sessions() core.SessionStore {
	return &sessionStore{db: s.db}
}

// Policies returns the policy store (half of C9).
func (s *GormStore) Policies() core.PolicyStore {
	return &policyStore{db: s.db}
}

// AuditEvents returns the audit event store (half of C10).
func (s *GormStore) AuditEvents() core.AuditEventStore {
	return &auditEventStore{db: s.db}
}

// CleanupExpired transitions expired agent identities to deleted (the §3
// sweeper) and prunes long-revoked sessions.
func (s *GormStore) CleanupExpired(ctx context.Context, before time.Time) error {
	if err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("kind = ? AND expires_at < ? AND status <> ?", "agent", before, "deleted").
		Update("status", "deleted").Error; err != nil {
		return fmt.Errorf("cleanup expired agents: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL AND revoked_at < ?", before.Add(-30*24*time.Hour)).
		Delete(&Session{}).Error; err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	return nil
}
