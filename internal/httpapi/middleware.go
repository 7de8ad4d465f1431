package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/agent-iam/iam/internal/core"
	"github.com/agent-iam/iam/internal/errs"
	"github.com/agent-iam/iam/internal/sessions"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type contextKey string

const claimsContextKey contextKey = "access_claims"

// AuthMiddleware validates the bearer access token and stores its claims in
// the request context. Per §9 Open Question 3, the tenant id used by every
// downstream handler always comes from these claims, never from a
// client-supplied header or path segment. Per §4.6, a cryptographically
// valid token is not enough: its jti must also clear sessions.Service's
// revocation check, so a logged-out token stops authorizing immediately
// instead of merely expiring naturally.
func AuthMiddleware(jwtManager core.JWTManager, sess *sessions.Service, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				WriteError(w, log, errs.New(errs.Unauthorized, "missing bearer token"))
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			claims, err := jwtManager.ValidateAccess(token)
			if err != nil {
				WriteError(w, log, err)
				return
			}

			if _, err := sess.ValidateTokenID(r.Context(), claims.TenantID, claims.JTI); err != nil {
				WriteError(w, log, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the access claims AuthMiddleware attached.
func ClaimsFromContext(ctx context.Context) (*core.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*core.AccessClaims)
	return claims, ok
}

// CORS builds the cross-origin handler, grounded on
// wisbric-nightowl/internal/httpserver/server.go's cors.Handler usage.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// RequestLogger logs each request's method, path, status, and duration via
// zerolog, tagged with chi's request id — the structured logging the
// teacher's own LoggingMiddleware stub never implemented.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}
