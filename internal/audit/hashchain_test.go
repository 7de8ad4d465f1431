package audit

import (
	"testing"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/stretchr/testify/assert"
)

func sampleEvent(tenantID string) core.AuditEvent {
	return core.AuditEvent{
		TenantID:     tenantID,
		EventType:    core.EventAuthentication,
		Action:       "login",
		ResourceType: "identity",
		Timestamp:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:     map[string]any{},
	}
}

func TestHashChain_ComputeIsDeterministic(t *testing.T) {
	chain := NewHashChain()
	event := sampleEvent("tenant-1")

	a := chain.Compute("event-1", event, nil)
	b := chain.Compute("event-1", event, nil)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "sha256 hex digest is 64 characters")
}

func TestHashChain_PreviousHashChangesTheDigest(t *testing.T) {
	chain := NewHashChain()
	event := sampleEvent("tenant-1")
	prev := "deadbeef"

	withoutPrev := chain.Compute("event-1", event, nil)
	withPrev := chain.Compute("event-1", event, &prev)

	assert.NotEqual(t, withoutPrev, withPrev)
}

func TestHashChain_VerifyChainDetectsBreak(t *testing.T) {
	chain := NewHashChain()
	e1 := sampleEvent("tenant-1")
	e2 := sampleEvent("tenant-1")

	id1, id2 := "event-1", "event-2"
	hash1 := chain.Compute(id1, e1, nil)

	valid := []core.PersistedAuditEvent{
		{ID: id1, Event: e1, PreviousEventHash: nil},
		{ID: id2, Event: e2, PreviousEventHash: &hash1},
	}
	assert.True(t, chain.VerifyChain(valid))

	tampered := "0000000000000000000000000000000000000000000000000000000000000000"
	broken := []core.PersistedAuditEvent{
		{ID: id1, Event: e1, PreviousEventHash: nil},
		{ID: id2, Event: e2, PreviousEventHash: &tampered},
	}
	assert.False(t, chain.VerifyChain(broken))

	breakIdx := chain.FindBreak(broken)
	if assert.NotNil(t, breakIdx) {
		assert.Equal(t, 1, *breakIdx)
	}
}

func TestHashChain_EmptyChainIsValid(t *testing.T) {
	chain := NewHashChain()
	assert.True(t, chain.VerifyChain(nil))
}
