package httpapi

import (
	"net/http"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/sessions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps bundles everything NewRouter needs to wire §6's route table.
type Deps struct {
	Auth     *AuthHandlers
	Identity *IdentityHandlers
	Authz    *AuthzHandlers
	Health   *HealthHandlers
	JWT      core.JWTManager
	Sessions *sessions.Service
	Log      zerolog.Logger
	Origins  []string
	Registry *prometheus.Registry
}

// NewRouter builds the chi router implementing the §6 route table, grounded
// on wisbric-nightowl/internal/httpserver/server.go's middleware stack and
// route grouping.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(CORS(deps.Origins))

	r.Get("/health/live", deps.Health.Live)
	r.Get("/health/ready", deps.Health.Ready)
	r.Get("/health/startup", deps.Health.Startup)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/login", deps.Auth.Login)
		r.Post("/refresh", deps.Auth.Refresh)
		r.With(AuthMiddleware(deps.JWT, deps.Sessions, deps.Log)).Post("/logout", deps.Auth.Logout)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.JWT, deps.Sessions, deps.Log))

		r.Route("/identities", func(r chi.Router) {
			r.Post("/", deps.Identity.Create)
			r.Get("/{id}", deps.Identity.Get)
			r.Get("/{id}/delegation-chain", deps.Identity.DelegationChain)
		})

		r.Route("/authz", func(r chi.Router) {
			r.Post("/check", deps.Authz.Check)
			r.Post("/bulk-check", deps.Authz.BulkCheck)
		})

		r.Get("/policies", deps.Authz.ListPolicies)
	})

	return r
}
