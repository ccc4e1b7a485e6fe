package handlers

import "net/http"

// Health handles GET /health with a fixed liveness payload; this process
// has no external dependency that would make a richer readiness check
// meaningful.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
