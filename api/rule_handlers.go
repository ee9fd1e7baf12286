package api

import (
	"net/http"

	"argus/service"

	"github.com/gorilla/mux"
)

// getRules lists rules, optionally filtered by category, severity and enabled.
func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	severity, err := querySeverity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	enabled, err := queryBool(r, "enabled")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	rules := a.dashboard.ListRules(service.RuleFilter{
		Category: r.URL.Query().Get("category"),
		Severity: severity,
		Enabled:  enabled,
	})
	a.respondJSON(w, map[string]any{"rules": rules, "total": len(rules)}, http.StatusOK)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.dashboard.GetRule(mux.Vars(r)["id"])
	if err != nil {
		a.writeServiceError(w, "Failed to get rule", err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

func (a *API) getRejectedRules(w http.ResponseWriter, r *http.Request) {
	rejected := a.dashboard.RejectedRules()
	a.respondJSON(w, map[string]any{"rejected": rejected, "total": len(rejected)}, http.StatusOK)
}

func (a *API) enableRule(w http.ResponseWriter, r *http.Request) {
	a.setRuleEnabled(w, r, true)
}

func (a *API) disableRule(w http.ResponseWriter, r *http.Request) {
	a.setRuleEnabled(w, r, false)
}

func (a *API) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	rule, err := a.dashboard.SetRuleEnabled(r.Context(), mux.Vars(r)["id"], enabled)
	if err != nil {
		a.writeServiceError(w, "Failed to update rule state", err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

type executeRequest struct {
	RuleIDs []string `json:"rule_ids"`
}

// execute runs every enabled rule, or only rule_ids when given. The batch is
// tied to the request: a client that disconnects cancels it.
func (a *API) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := a.decodeJSONBody(w, r, &req, true); err != nil {
		return
	}

	summary, err := a.dashboard.Execute(r.Context(), service.ParseScope(req.RuleIDs))
	if err != nil {
		a.writeServiceError(w, "Execution failed", err)
		return
	}
	a.respondJSON(w, summary, http.StatusOK)
}

func (a *API) getExecutions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20, 1, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	records, err := a.dashboard.ExecutionHistory(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, "Failed to read execution history", err)
		return
	}
	a.respondJSON(w, map[string]any{"executions": records, "total": len(records)}, http.StatusOK)
}
