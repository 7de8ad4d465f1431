// Package policy implements C9: a policy store with atomic reload, request
// evaluation against a typed entity model, and batch evaluation. Engine
// itself is polymorphic over core.PolicyBackend per §4.3; CasbinBackend
// (casbin_backend.go) is the only backend this module ships, grounded on
// auth/rbac/service.go's Casbin enforcer + model-string pattern, generalized
// from role-based matching to the spec's identity/action/resource
// vocabulary.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
)

// Engine implements core.PolicyEngine over a pluggable core.PolicyBackend.
// set is the backend's opaque working set; Engine never inspects its shape.
type Engine struct {
	mu      sync.RWMutex
	backend core.PolicyBackend
	set     any
	store   core.PolicyStore
}

// NewEngine builds an Engine backed by CasbinBackend with an empty working
// set; call Reload before serving traffic.
func NewEngine(store core.PolicyStore) (*Engine, error) {
	backend := NewCasbinBackend()
	return &Engine{backend: backend, set: backend.EmptySet(), store: store}, nil
}

// NewEngineWithBackend builds an Engine over a caller-supplied backend, for
// callers that want a policy language other than CasbinBackend's.
func NewEngineWithBackend(store core.PolicyStore, backend core.PolicyBackend) *Engine {
	return &Engine{backend: backend, set: backend.EmptySet(), store: store}
}

// Reload loads every active policy ordered by created_at, builds a fresh
// working set, and atomically swaps it in. A parse failure on any policy
// fails the whole reload; the previous working set remains in effect.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	policies, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.StoreError, "list active policies", err)
	}

	next := e.backend.EmptySet()
	for _, p := range policies {
		parsed, err := e.backend.Parse(p.ID, p.PolicyText)
		if err != nil {
			return 0, errs.Wrap(errs.ValidationError, fmt.Sprintf("parse policy %s", p.ID), err)
		}
		next = e.backend.SetAdd(next, p.ID, parsed)
	}

	e.mu.Lock()
	e.set = next
	e.mu.Unlock()

	return len(policies), nil
}

// Add mutates the working set directly under an exclusive lock, without a
// full reload.
func (e *Engine) Add(ctx context.Context, policyID, text string) error {
	parsed, err := e.backend.Parse(policyID, text)
	if err != nil {
		return errs.Wrap(errs.ValidationError, "parse policy text", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = e.backend.SetAdd(e.set, policyID, parsed)
	return nil
}

// Remove mutates the working set directly under an exclusive lock.
func (e *Engine) Remove(ctx context.Context, policyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = e.backend.SetRemove(e.set, policyID)
	return nil
}

// Authorize evaluates a single request against the current working set.
// Any parse/eval error yields deny with the error text surfaced in Errors.
func (e *Engine) Authorize(ctx context.Context, req core.AuthzRequest) core.AuthzResult {
	e.mu.RLock()
	set := e.set
	e.mu.RUnlock()

	decision, matchedIDs, evalErrs := e.backend.Evaluate(set, req)
	if len(evalErrs) > 0 {
		return core.AuthzResult{Allowed: false, Errors: evalErrs}
	}
	return core.AuthzResult{Allowed: decision == core.DecisionAllow, Reasons: matchedIDs}
}

// AuthorizeBulk evaluates up to 100 requests, reloading the working set
// once beforehand rather than per-request. It never short-circuits: a
// failure at index i does not prevent index j from being evaluated.
// Callers are expected to reject oversized batches before reaching here
// (internal/httpapi's /v1/authz/bulk-check does); this cap is a backstop
// for any other caller of the core.PolicyEngine interface.
func (e *Engine) AuthorizeBulk(ctx context.Context, reqs []core.AuthzRequest) core.AuthzBulkResult {
	if _, err := e.Reload(ctx); err != nil {
		// Reload failure degrades to evaluating against the existing
		// working set rather than aborting the whole batch.
		_ = err
	}

	n := len(reqs)
	if n > 100 {
		n = 100
	}

	results := make([]core.AuthzResult, n)
	allowed, denied := 0, 0
	for i := 0; i < n; i++ {
		func(i int) {
			defer func() {
				if r := recover(); r != nil {
					results[i] = core.AuthzResult{Allowed: false, Errors: []string{fmt.Sprintf("panic: %v", r)}}
				}
			}()
			results[i] = e.Authorize(ctx, reqs[i])
		}(i)
		if results[i].Allowed {
			allowed++
		} else {
			denied++
		}
	}

	return core.AuthzBulkResult{Results: results, Total: n, AllowedCount: allowed, DeniedCount: denied}
}
