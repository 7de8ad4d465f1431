package httpapi

import (
	"net/http"

	"gorm.io/gorm"
)

// HealthHandlers serves the unauthenticated liveness/readiness/startup
// probes every deployment wraps around this service.
type HealthHandlers struct {
	db *gorm.DB
}

// NewHealthHandlers builds HealthHandlers.
func NewHealthHandlers(db *gorm.DB) *HealthHandlers {
	return &HealthHandlers{db: db}
}

// Live serves GET /health/live: the process is up.
func (h *HealthHandlers) Live(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "live"})
}

// Ready serves GET /health/ready: dependencies (the database) are reachable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err != nil {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	if err := sqlDB.PingContext(r.Context()); err != nil {
		Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Startup serves GET /health/startup: migrations have run and the process
// can begin accepting readiness checks.
func (h *HealthHandlers) Startup(w http.ResponseWriter, r *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "started"})
}
