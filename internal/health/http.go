package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// RegisterRoutes exposes liveness and readiness endpoints. Liveness only
// says the process is up; readiness re-probes dependencies.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", m.handleLiveness)
	mux.HandleFunc("GET /readyz", m.handleReadiness)
}

func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

type readinessResponse struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

func (m *Manager) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := m.RunChecks(r.Context())
	overall := m.Overall()

	status := http.StatusOK
	if overall == StatusUnhealthy || overall == StatusUnknown {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readinessResponse{
		Status:    overall.String(),
		Checks:    checks,
		Timestamp: time.Now(),
	})
}
