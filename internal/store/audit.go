package store

import (
	"context"

	"github.com/agent-iam/iam/internal/core"
	"gorm.io/gorm"
)

// auditEventStore implements core.AuditEventStore: the default C10 backend,
// persisting already hash-chained events in batches.
type auditEventStore struct {
	db *gorm.DB
}

func (s *auditEventStore) WriteBatch(ctx context.Context, events []core.PersistedAuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]AuditEvent, len(events))
	for i, pe := range events {
		models[i] = fromCorePersistedEvent(pe)
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 100).Error
}

func (s *auditEventStore) List(ctx context.Context, tenantID string, limit int) ([]core.PersistedAuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var models []AuditEvent
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]core.PersistedAuditEvent, len(models))
	for i, m := range models {
		events[i] = toCorePersistedEvent(&m)
	}
	return events, nil
}

func fromCorePersistedEvent(pe core.PersistedAuditEvent) AuditEvent {
	e := pe.Event
	var decision *string
	if e.Decision != nil {
		d := string(*e.Decision)
		decision = &d
	}
	return AuditEvent{
		ID:                pe.ID,
		TenantID:          e.TenantID,
		ActorIdentityID:   e.ActorIdentityID,
		DelegationChain:   JSONStrings(e.DelegationChain),
		EventType:         string(e.EventType),
		Action:            e.Action,
		ResourceType:      e.ResourceType,
		ResourceID:        e.ResourceID,
		Decision:          decision,
		DecisionReason:    e.DecisionReason,
		RequestID:         e.RequestID,
		IPAddress:         e.IPAddress,
		UserAgent:         e.UserAgent,
		Metadata:          JSONMap(e.Metadata),
		Timestamp:         e.Timestamp,
		PreviousEventHash: pe.PreviousEventHash,
		Signature:         pe.Signature,
	}
}

func toCorePersistedEvent(m *AuditEvent) core.PersistedAuditEvent {
	var decision *core.Decision
	if m.Decision != nil {
		d := core.Decision(*m.Decision)
		decision = &d
	}
	return core.PersistedAuditEvent{
		ID: m.ID,
		Event: core.AuditEvent{
			TenantID:        m.TenantID,
			ActorIdentityID: m.ActorIdentityID,
			DelegationChain: []string(m.DelegationChain),
			EventType:       core.AuditEventType(m.EventType),
			Action:          m.Action,
			ResourceType:    m.ResourceType,
			ResourceID:      m.ResourceID,
			Decision:        decision,
			DecisionReason:  m.DecisionReason,
			RequestID:       m.RequestID,
			IPAddress:       m.IPAddress,
			UserAgent:       m.UserAgent,
			Metadata:        map[string]any(m.Metadata),
			Timestamp:       m.Timestamp,
		},
		PreviousEventHash: m.PreviousEventHash,
		Signature:         m.Signature,
	}
}
