// Package authz implements C11, named here for the first time: the
// distilled spec folds it into data-flow prose ("C11 evaluates against
// C9") without giving it its own type. Evaluator combines C5's
// identity/status check with C9's policy decision; it does not consult C8,
// so session validity is not part of its decision.
package authz

import (
	"context"
	"strings"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
)

// Evaluator implements core.Evaluator.
type Evaluator struct {
	identities core.IdentityStore
	policy     core.PolicyEngine
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(identities core.IdentityStore, policy core.PolicyEngine) *Evaluator {
	return &Evaluator{identities: identities, policy: policy}
}

// Evaluate answers a single (principal, action, resource) ask. A
// suspended or deleted identity is always deny, before the policy engine is
// even consulted — an invariant §3's identity lifecycle rules imply but
// never states as an authz rule explicitly.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID string, req core.AuthzRequest) (core.AuthzResult, error) {
	principalID, ok := extractIdentityID(req.Principal)
	if ok {
		identity, err := e.identities.Get(ctx, tenantID, principalID)
		if err == nil && identity.Status != core.StatusActive {
			return core.AuthzResult{
				Allowed: false,
				Reasons: []string{"identity status is " + string(identity.Status)},
			}, nil
		}
		if err != nil && errs.KindOf(err) != errs.NotFound {
			return core.AuthzResult{}, err
		}
	}

	return e.policy.Authorize(ctx, req), nil
}

// extractIdentityID pulls a bare UUID out of a Type::"id" principal string
// (e.g. `User::"alice"` -> "alice"); identity lookups beyond the policy
// engine only make sense for principals that resolve to a managed identity
// row, so a principal that isn't in that shape is passed straight to C9.
func extractIdentityID(principal string) (string, bool) {
	const prefix = `::"`
	i := strings.Index(principal, prefix)
	if i < 0 || !strings.HasSuffix(principal, `"`) {
		return "", false
	}
	start := i + len(prefix)
	if start >= len(principal)-1 {
		return "", false
	}
	return principal[start : len(principal)-1], true
}
