package api

import (
	"net/http"
	"time"

	"argus/core"

	"github.com/gorilla/mux"
)

const (
	defaultAlertPageSize = 50
	maxAlertPageSize     = 1000
)

type alertPage struct {
	Alerts []core.Alert `json:"alerts"`
	Total  int          `json:"total"`
	Page   int          `json:"page"`
	Limit  int          `json:"limit"`
}

// getAlerts lists alerts newest first, one page at a time.
func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	filter, page, limit, err := parseAlertQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	alerts, total := a.dashboard.ListAlerts(filter)
	a.respondJSON(w, alertPage{Alerts: alerts, Total: total, Page: page, Limit: limit}, http.StatusOK)
}

func parseAlertQuery(r *http.Request) (core.AlertFilter, int, int, error) {
	severity, err := querySeverity(r)
	if err != nil {
		return core.AlertFilter{}, 0, 0, err
	}
	page, err := queryInt(r, "page", 1, 1, 1_000_000)
	if err != nil {
		return core.AlertFilter{}, 0, 0, err
	}
	limit, err := queryInt(r, "limit", defaultAlertPageSize, 1, maxAlertPageSize)
	if err != nil {
		return core.AlertFilter{}, 0, 0, err
	}

	q := r.URL.Query()
	filter := core.AlertFilter{
		Severity: severity,
		RuleID:   q.Get("rule_id"),
		Category: q.Get("category"),
		Offset:   (page - 1) * limit,
		Limit:    limit,
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return core.AlertFilter{}, 0, 0, err
		}
		filter.Since = ts
	}
	return filter, page, limit, nil
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.dashboard.GetAlert(mux.Vars(r)["id"])
	if err != nil {
		a.writeServiceError(w, "Failed to get alert", err)
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) clearAlerts(w http.ResponseWriter, r *http.Request) {
	cleared, err := a.dashboard.ClearAlerts(r.Context())
	if err != nil {
		a.writeServiceError(w, "Failed to clear alerts", err)
		return
	}
	a.logger.Infow("Alerts cleared", "count", cleared, "client", clientIP(r, a.config.TrustProxy))
	a.respondJSON(w, map[string]int{"cleared": cleared}, http.StatusOK)
}
