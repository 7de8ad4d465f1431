// Package audit implements C2 (the hash chain) and C10 (the batched,
// tamper-evident pipeline). The canonicalization format and chain-walking
// algorithms are ported exactly from
// original_source/src/audit/tamper_proof.rs.
package audit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/agent-iam/iam/internal/core"
)

// HashChain computes and verifies the SHA-256 event chain.
type HashChain struct{}

// NewHashChain builds a HashChain.
func NewHashChain() *HashChain { return &HashChain{} }

// Canonicalize builds the deterministic string an event's hash is computed
// over. Field order and null rendering must match exactly, or
// independently-computed hashes for the same event will diverge.
func (HashChain) Canonicalize(id string, e core.AuditEvent) string {
	metadata, _ := json.Marshal(e.Metadata)

	actor := "null"
	if e.ActorIdentityID != nil {
		actor = *e.ActorIdentityID
	}
	resourceID := "null"
	if e.ResourceID != nil {
		resourceID = *e.ResourceID
	}
	decision := "null"
	if e.Decision != nil {
		decision = string(*e.Decision)
	}

	parts := []string{
		"id=" + id,
		"tenant_id=" + e.TenantID,
		"actor_identity_id=" + actor,
		"event_type=" + string(e.EventType),
		"action=" + e.Action,
		"resource_type=" + e.ResourceType,
		"resource_id=" + resourceID,
		"decision=" + decision,
		"timestamp=" + e.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		"previous_hash=null", // placeholder; replaced by CanonicalizeWithPrev
		"metadata=" + string(metadata),
	}
	return strings.Join(parts, "|")
}

// CanonicalizeWithPrev is Canonicalize with previousHash substituted into
// the previous_hash field (nil for a chain head).
func (h HashChain) CanonicalizeWithPrev(id string, e core.AuditEvent, previousHash *string) string {
	prev := "null"
	if previousHash != nil {
		prev = *previousHash
	}
	s := h.Canonicalize(id, e)
	return strings.Replace(s, "previous_hash=null", "previous_hash="+prev, 1)
}

// Compute is SHA-256(canonical string), hex-encoded (64 chars).
func (h HashChain) Compute(id string, e core.AuditEvent, previousHash *string) string {
	sum := sha256.Sum256([]byte(h.CanonicalizeWithPrev(id, e, previousHash)))
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether expected matches the hash computed for event,
// using a constant-time comparison.
func (h HashChain) VerifyHash(id string, e core.AuditEvent, previousHash *string, expected string) bool {
	actual := h.Compute(id, e, previousHash)
	return constantTimeEqual(actual, expected)
}

// VerifyChain reports whether seq is a self-consistent chain: the first
// event's previous hash must be nil, and every subsequent event's
// previous_event_hash must equal the hash of its predecessor.
func (h HashChain) VerifyChain(seq []core.PersistedAuditEvent) bool {
	return h.FindBreak(seq) == nil
}

// FindBreak returns the index of the first chain-consistency violation, or
// nil if seq is a valid chain (including the empty chain).
func (h HashChain) FindBreak(seq []core.PersistedAuditEvent) *int {
	if len(seq) == 0 {
		return nil
	}
	if seq[0].PreviousEventHash != nil {
		i := 0
		return &i
	}

	var runningPrev *string
	for i, pe := range seq {
		if i == 0 {
			computed := h.Compute(pe.ID, pe.Event, nil)
			runningPrev = &computed
			continue
		}
		if pe.PreviousEventHash == nil || !constantTimeEqual(*pe.PreviousEventHash, *runningPrev) {
			idx := i
			return &idx
		}
		computed := h.Compute(pe.ID, pe.Event, runningPrev)
		runningPrev = &computed
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
