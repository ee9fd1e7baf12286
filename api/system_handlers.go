package api

import (
	"net/http"
	"strings"
)

// getHealth reports component status. It answers 503 when the backend is
// unreachable so load balancers can act on it.
func (a *API) getHealth(w http.ResponseWriter, r *http.Request) {
	health := a.dashboard.Health(r.Context())
	status := http.StatusOK
	if health.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	a.respondJSON(w, health, status)
}

type transformRequest struct {
	Query string `json:"query"`
}

// transform previews the concrete query a semantic query rewrites to.
func (a *API) transform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := a.decodeJSONBody(w, r, &req, false); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required", nil, a.logger)
		return
	}
	a.respondJSON(w, a.dashboard.Transform(req.Query), http.StatusOK)
}
