package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"argus/service"
)

const (
	defaultTopItems      = 10
	maxTopItems          = 100
	defaultTimelineHours = 24
	maxTimelineHours     = 24 * 30
)

// chartData is the shape every chart endpoint returns.
type chartData struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

func countsChart(counts []service.Count) chartData {
	chart := chartData{Labels: make([]string, 0, len(counts)), Values: make([]int, 0, len(counts))}
	for _, c := range counts {
		label := c.Label
		if label == "" {
			label = c.Key
		}
		chart.Labels = append(chart.Labels, label)
		chart.Values = append(chart.Values, c.Count)
	}
	return chart
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.dashboard.Stats(r.Context()), http.StatusOK)
}

// getTimelineChart buckets alerts over the last hours (default 24) with
// bucket width (default 1h).
func (a *API) getTimelineChart(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", defaultTimelineHours, 1, maxTimelineHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	width := time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("bucket")); raw != "" {
		width, err = time.ParseDuration(raw)
		if err != nil || width < time.Minute {
			err = fmt.Errorf("bucket must be a duration of at least 1m")
			writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
			return
		}
	}

	buckets, err := a.dashboard.Timeline(time.Duration(hours)*time.Hour, width)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	chart := chartData{Labels: make([]string, 0, len(buckets)), Values: make([]int, 0, len(buckets))}
	for _, b := range buckets {
		chart.Labels = append(chart.Labels, b.Start.UTC().Format(time.RFC3339))
		chart.Values = append(chart.Values, b.Count)
	}
	a.respondJSON(w, chart, http.StatusOK)
}

func (a *API) getSeverityChart(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, countsChart(a.dashboard.SeverityBreakdown()), http.StatusOK)
}

func (a *API) getCategoryChart(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, countsChart(a.dashboard.CategoryBreakdown()), http.StatusOK)
}

func (a *API) getTopRulesChart(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTopItems, 1, maxTopItems)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	a.respondJSON(w, countsChart(a.dashboard.TopRules(limit)), http.StatusOK)
}

func (a *API) getTopSourcesChart(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTopItems, 1, maxTopItems)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	a.respondJSON(w, countsChart(a.dashboard.TopSources(limit)), http.StatusOK)
}
