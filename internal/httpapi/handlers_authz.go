package httpapi

import (
	"net/http"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/agent-iam/iam/internal/orchestrate"
	"github.com/agent-iam/iam/internal/policy"
	"github.com/rs/zerolog"
)

// maxBulkCheckRequests mirrors policy.Engine.AuthorizeBulk's own cap; a
// batch beyond it is rejected outright rather than silently truncated.
const maxBulkCheckRequests = 100

// AuthzHandlers serves §6's /v1/authz/* and /v1/policies routes.
type AuthzHandlers struct {
	orchestrator *orchestrate.Service
	engine       *policy.Engine
	policies     core.PolicyStore
	log          zerolog.Logger
}

// NewAuthzHandlers builds AuthzHandlers.
func NewAuthzHandlers(orchestrator *orchestrate.Service, engine *policy.Engine, policies core.PolicyStore, log zerolog.Logger) *AuthzHandlers {
	return &AuthzHandlers{orchestrator: orchestrator, engine: engine, policies: policies, log: log}
}

type checkRequest struct {
	Principal string         `json:"principal"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Context   map[string]any `json:"context"`
}

// Check serves POST /v1/authz/check.
func (h *AuthzHandlers) Check(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}

	var req checkRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, errs.Wrap(errs.ValidationError, "invalid request body", err))
		return
	}
	if req.Principal == "" || req.Action == "" || req.Resource == "" {
		WriteError(w, h.log, errs.New(errs.ValidationError, "principal, action, and resource are required"))
		return
	}

	result, err := h.orchestrator.Check(r.Context(), claims.TenantID, core.AuthzRequest{
		Principal: req.Principal, Action: req.Action, Resource: req.Resource, Context: req.Context,
	})
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	Respond(w, http.StatusOK, result)
}

type bulkCheckRequest struct {
	Requests []checkRequest `json:"requests"`
}

// BulkCheck serves POST /v1/authz/bulk-check, capped at 100 requests.
func (h *AuthzHandlers) BulkCheck(w http.ResponseWriter, r *http.Request) {
	if _, ok := ClaimsFromContext(r.Context()); !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}

	var req bulkCheckRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, errs.Wrap(errs.ValidationError, "invalid request body", err))
		return
	}
	if len(req.Requests) == 0 {
		WriteError(w, h.log, errs.New(errs.ValidationError, "requests must not be empty"))
		return
	}
	if len(req.Requests) > maxBulkCheckRequests {
		WriteError(w, h.log, errs.New(errs.ValidationError, "requests must not exceed 100 entries"))
		return
	}

	reqs := make([]core.AuthzRequest, len(req.Requests))
	for i, item := range req.Requests {
		reqs[i] = core.AuthzRequest{Principal: item.Principal, Action: item.Action, Resource: item.Resource, Context: item.Context}
	}

	result := h.engine.AuthorizeBulk(r.Context(), reqs)
	Respond(w, http.StatusOK, result)
}

// ListPolicies serves GET /v1/policies.
func (h *AuthzHandlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}

	policies, err := h.policies.List(r.Context(), &claims.TenantID)
	if err != nil {
		WriteError(w, h.log, errs.Wrap(errs.StoreError, "list policies", err))
		return
	}
	Respond(w, http.StatusOK, map[string]any{"policies": policies})
}
