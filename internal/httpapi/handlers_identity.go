package httpapi

import (
	"net/http"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/agent-iam/iam/internal/orchestrate"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// IdentityHandlers serves §6's /v1/identities/* routes.
type IdentityHandlers struct {
	orchestrator *orchestrate.Service
	log          zerolog.Logger
}

// NewIdentityHandlers builds IdentityHandlers.
func NewIdentityHandlers(orchestrator *orchestrate.Service, log zerolog.Logger) *IdentityHandlers {
	return &IdentityHandlers{orchestrator: orchestrator, log: log}
}

type provisionAgentRequest struct {
	ParentID   string         `json:"parent_identity_id"`
	TaskID     string         `json:"task_id"`
	TaskScope  map[string]any `json:"task_scope"`
	Name       string         `json:"name"`
	TTLSeconds int            `json:"ttl_seconds"`
	Metadata   map[string]any `json:"metadata"`
}

type provisionAgentResponse struct {
	Identity        *core.Identity `json:"identity"`
	CapabilityToken string         `json:"capability_token"`
}

// Create serves POST /v1/identities, the §4.1 JIT agent provisioning path.
func (h *IdentityHandlers) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}

	var req provisionAgentRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, errs.Wrap(errs.ValidationError, "invalid request body", err))
		return
	}
	if req.ParentID == "" {
		req.ParentID = claims.Subject
	}
	if req.TaskID == "" || req.Name == "" {
		WriteError(w, h.log, errs.New(errs.ValidationError, "task_id and name are required"))
		return
	}

	agent, token, err := h.orchestrator.ProvisionAgent(r.Context(), core.ProvisionAgentRequest{
		TenantID:   claims.TenantID,
		ParentID:   req.ParentID,
		TaskID:     req.TaskID,
		TaskScope:  req.TaskScope,
		Name:       req.Name,
		TTLSeconds: req.TTLSeconds,
		Metadata:   req.Metadata,
	})
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	Respond(w, http.StatusCreated, provisionAgentResponse{Identity: agent, CapabilityToken: token})
}

// Get serves GET /v1/identities/{id}.
func (h *IdentityHandlers) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}
	id := chi.URLParam(r, "id")

	identity, err := h.orchestrator.Identities().Get(r.Context(), claims.TenantID, id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	Respond(w, http.StatusOK, identity)
}

// DelegationChain serves GET /v1/identities/{id}/delegation-chain.
func (h *IdentityHandlers) DelegationChain(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}
	id := chi.URLParam(r, "id")

	chain, err := h.orchestrator.Identities().DelegationChain(r.Context(), claims.TenantID, id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	Respond(w, http.StatusOK, map[string]any{"chain": chain})
}
