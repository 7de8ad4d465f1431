package policy

import (
	"fmt"
	"strings"

	"github.com/agent-iam/iam/internal/core"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const casbinModel = `
[request_definition]
r = sub, act, obj

[policy_definition]
p = sub, act, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.act == p.act && r.obj == p.obj
`

type policyLine struct{ sub, act, obj string }

// casbinSet is the opaque working set CasbinBackend hands Engine: a built
// enforcer plus the id -> policy-lines index SetAdd/SetRemove keep current,
// which Evaluate also consults to report which policy ids matched.
type casbinSet struct {
	enforcer *casbin.Enforcer
	lines    map[string][]policyLine
}

// CasbinBackend implements core.PolicyBackend over a Casbin enforcer,
// generalized from auth/rbac/service.go's role-based matcher to the
// spec's identity/action/resource vocabulary. Policy documents are
// newline-separated lines in the form `sub, act, obj` (e.g.
// `User::"alice", read, File::"f1"`).
type CasbinBackend struct{}

// NewCasbinBackend builds the default backend.
func NewCasbinBackend() *CasbinBackend { return &CasbinBackend{} }

// Parse turns policy text into the backend's internal representation.
func (CasbinBackend) Parse(id, text string) (any, error) {
	return parsePolicyText(text)
}

// EmptySet builds a fresh, empty working set. The model string is a
// compile-time constant that has already been validated; a failure here
// would mean the constant itself is broken, so this follows the
// regexp.MustCompile idiom rather than threading an error through
// core.PolicyBackend's signature.
func (CasbinBackend) EmptySet() any {
	m, err := model.NewModelFromString(casbinModel)
	if err != nil {
		panic("policy: invalid casbin model: " + err.Error())
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		panic("policy: build casbin enforcer: " + err.Error())
	}
	enforcer.EnableAutoSave(false)
	return &casbinSet{enforcer: enforcer, lines: map[string][]policyLine{}}
}

// SetAdd adds policyID's parsed lines to set and returns it.
func (CasbinBackend) SetAdd(set any, policyID string, parsed any) any {
	s := set.(*casbinSet)
	lines := parsed.([]policyLine)
	for _, l := range lines {
		_, _ = s.enforcer.AddPolicy(l.sub, l.act, l.obj)
	}
	s.lines[policyID] = lines
	return s
}

// SetRemove removes policyID's lines from set and returns it.
func (CasbinBackend) SetRemove(set any, policyID string) any {
	s := set.(*casbinSet)
	lines, ok := s.lines[policyID]
	if !ok {
		return s
	}
	for _, l := range lines {
		_, _ = s.enforcer.RemovePolicy(l.sub, l.act, l.obj)
	}
	delete(s.lines, policyID)
	return s
}

// Evaluate runs a single (principal, action, resource) request against set.
func (CasbinBackend) Evaluate(set any, req core.AuthzRequest) (core.Decision, []string, []string) {
	s := set.(*casbinSet)

	sub := normalizeEntity(req.Principal)
	act := normalizeAction(req.Action)
	obj := normalizeEntity(req.Resource)

	allowed, err := s.enforcer.Enforce(sub, act, obj)
	if err != nil {
		return core.DecisionDeny, nil, []string{err.Error()}
	}
	if !allowed {
		return core.DecisionDeny, nil, nil
	}
	return core.DecisionAllow, matchedPolicyIDs(s, sub, act, obj), nil
}

func matchedPolicyIDs(set *casbinSet, sub, act, obj string) []string {
	var ids []string
	for id, lines := range set.lines {
		for _, l := range lines {
			if l.sub == sub && l.act == act && l.obj == obj {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

func parsePolicyText(text string) ([]policyLine, error) {
	var lines []policyLine
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		parts := strings.Split(raw, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("policy line %q: want `sub, act, obj`", raw)
		}
		lines = append(lines, policyLine{
			sub: normalizeEntity(strings.TrimSpace(parts[0])),
			act: normalizeAction(strings.TrimSpace(parts[1])),
			obj: normalizeEntity(strings.TrimSpace(parts[2])),
		})
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("policy text contains no rules")
	}
	return lines, nil
}

// normalizeEntity passes through a Type::"id" identity string unchanged;
// bare identifiers are left as-is since callers are expected to already use
// the typed form.
func normalizeEntity(s string) string {
	return strings.TrimSpace(s)
}

// normalizeAction accepts either a bare name ("read") or a fully qualified
// one (`Action::"read"`) and returns the bare form Casbin matches on.
func normalizeAction(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `Action::"`) && strings.HasSuffix(s, `"`) {
		return s[len(`Action::"`) : len(s)-1]
	}
	return s
}
