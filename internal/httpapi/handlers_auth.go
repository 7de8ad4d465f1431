package httpapi

import (
	"net/http"

	"github.com/agent-iam/iam/internal/errs"
	"github.com/agent-iam/iam/internal/orchestrate"
	"github.com/rs/zerolog"
)

// AuthHandlers serves §6's /v1/auth/* routes.
type AuthHandlers struct {
	orchestrator *orchestrate.Service
	log          zerolog.Logger
}

// NewAuthHandlers builds AuthHandlers.
func NewAuthHandlers(orchestrator *orchestrate.Service, log zerolog.Logger) *AuthHandlers {
	return &AuthHandlers{orchestrator: orchestrator, log: log}
}

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login serves POST /v1/auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, errs.Wrap(errs.ValidationError, "invalid request body", err))
		return
	}
	if req.TenantID == "" || req.Email == "" || req.Password == "" {
		WriteError(w, h.log, errs.New(errs.ValidationError, "tenant_id, email, and password are required"))
		return
	}

	result, err := h.orchestrator.Login(r.Context(), req.TenantID, req.Email, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	Respond(w, http.StatusOK, tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.Tokens.ExpiresIn,
	})
}

// Logout serves POST /v1/auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, errs.New(errs.Unauthorized, "missing bearer token"))
		return
	}

	bearer := bearerToken(r)
	if err := h.orchestrator.Logout(r.Context(), claims.TenantID, bearer); err != nil {
		WriteError(w, h.log, err)
		return
	}

	Respond(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type refreshRequest struct {
	TenantID     string `json:"tenant_id"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh serves POST /v1/auth/refresh.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, h.log, errs.Wrap(errs.ValidationError, "invalid request body", err))
		return
	}
	if req.TenantID == "" || req.RefreshToken == "" {
		WriteError(w, h.log, errs.New(errs.ValidationError, "tenant_id and refresh_token are required"))
		return
	}

	result, err := h.orchestrator.Refresh(r.Context(), req.TenantID, req.RefreshToken)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	Respond(w, http.StatusOK, tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.Tokens.ExpiresIn,
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
