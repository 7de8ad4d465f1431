package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	assert.True(t, now.Equal(before) || now.After(before))
	assert.True(t, now.Equal(after) || now.Before(after))
	assert.Equal(t, time.UTC, now.Location())
}

func TestRateLimitResult_RetryAfter(t *testing.T) {
	now := time.Now()

	future := RateLimitResult{ResetAt: now.Add(30 * time.Second)}
	assert.Equal(t, int64(30), future.RetryAfter(now))

	past := RateLimitResult{ResetAt: now.Add(-30 * time.Second)}
	assert.Equal(t, int64(0), past.RetryAfter(now))
}

func TestIdentity_AgentShape(t *testing.T) {
	parent := "parent-id"
	taskID := "task-1"
	expires := time.Now().Add(time.Hour)

	agent := Identity{
		ID:        "agent-id",
		TenantID:  "tenant-1",
		Kind:      KindAgent,
		Status:    StatusActive,
		ParentID:  &parent,
		TaskID:    &taskID,
		ExpiresAt: &expires,
	}

	assert.Equal(t, KindAgent, agent.Kind)
	assert.NotNil(t, agent.ParentID)
	assert.NotNil(t, agent.ExpiresAt)
	assert.True(t, agent.ExpiresAt.After(time.Now()))
}
