package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"argus/backend"
	"argus/core"
	"argus/detect"
	"argus/storage"

	"go.uber.org/zap"
)

// ============================================================================
// Collaborators
// ============================================================================

// Executor runs execution batches.
type Executor interface {
	Execute(ctx context.Context, scope detect.Scope) (core.ExecutionSummary, error)
}

// HistoryReader returns recent batch summaries.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]storage.ExecutionRecord, error)
}

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) error

// ComponentHealth is the state of one component.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health reports the state of the backend and the other components.
type Health struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Rules      int                        `json:"rules"`
	Alerts     int                        `json:"alerts"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Stats is the snapshot plus live backend reachability.
type Stats struct {
	Snapshot
	BackendConnected bool `json:"backend_connected"`
}

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
)

// ============================================================================
// Dashboard
// ============================================================================

// DashboardOption configures a Dashboard.
type DashboardOption func(*Dashboard)

// WithHistory enables ExecutionHistory.
func WithHistory(h HistoryReader) DashboardOption {
	return func(d *Dashboard) { d.history = h }
}

// WithHealthCheck adds a named component to Health.
func WithHealthCheck(name string, check HealthCheck) DashboardOption {
	return func(d *Dashboard) { d.checks[name] = check }
}

// WithSourceFields sets the fields read by TopSources.
func WithSourceFields(fields []string) DashboardOption {
	return func(d *Dashboard) {
		if len(fields) > 0 {
			d.sourceFields = append([]string(nil), fields...)
		}
	}
}

// WithDashboardClock replaces time.Now for timelines and health stamps.
func WithDashboardClock(now func() time.Time) DashboardOption {
	return func(d *Dashboard) { d.now = now }
}

// Dashboard is the facade behind every dashboard-facing operation.
type Dashboard struct {
	rules        *RuleRepository
	executor     Executor
	alerts       *storage.AlertStore
	transformer  *detect.QueryTransformer
	connector    backend.Connector
	history      HistoryReader
	checks       map[string]HealthCheck
	sourceFields []string
	now          func() time.Time
	logger       *zap.SugaredLogger
}

// NewDashboard wires the facade.
func NewDashboard(rules *RuleRepository, executor Executor, alerts *storage.AlertStore, transformer *detect.QueryTransformer, connector backend.Connector, logger *zap.SugaredLogger, opts ...DashboardOption) *Dashboard {
	d := &Dashboard{
		rules:       rules,
		executor:    executor,
		alerts:      alerts,
		transformer: transformer,
		connector:   connector,
		checks:      make(map[string]HealthCheck),
		now:         time.Now,
		logger:      logger,
	}
	candidates, _ := transformer.Table().Lookup(DefaultSourceDimension)
	d.sourceFields = SourceFields(DefaultSourceDimension, candidates)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListRules returns rules passing filter, ordered by id.
func (d *Dashboard) ListRules(filter RuleFilter) []core.Rule {
	return d.rules.ListFiltered(filter)
}

// GetRule returns one rule or storage.ErrRuleNotFound.
func (d *Dashboard) GetRule(id string) (core.Rule, error) {
	return d.rules.Get(id)
}

// SetRuleEnabled enables or disables a rule.
func (d *Dashboard) SetRuleEnabled(ctx context.Context, id string, enabled bool) (core.Rule, error) {
	return d.rules.SetEnabled(ctx, id, enabled)
}

// RejectedRules lists definitions that failed validation.
func (d *Dashboard) RejectedRules() []core.RuleRejection {
	return d.rules.Rejected()
}

// Execute runs a batch.
func (d *Dashboard) Execute(ctx context.Context, scope detect.Scope) (core.ExecutionSummary, error) {
	return d.executor.Execute(ctx, scope)
}

// ListAlerts returns one page of alerts and the number matching filter.
func (d *Dashboard) ListAlerts(filter core.AlertFilter) ([]core.Alert, int) {
	return d.alerts.List(filter), d.alerts.CountMatching(filter)
}

// GetAlert returns one alert or storage.ErrAlertNotFound.
func (d *Dashboard) GetAlert(id string) (core.Alert, error) {
	return d.alerts.Get(id)
}

// ClearAlerts removes every alert and returns how many there were.
func (d *Dashboard) ClearAlerts(ctx context.Context) (int, error) {
	return d.alerts.Clear(ctx)
}

func (d *Dashboard) allAlerts() []core.Alert {
	return d.alerts.List(core.AlertFilter{})
}

// Snapshot summarizes rules and alerts.
func (d *Dashboard) Snapshot() Snapshot {
	return ComputeSnapshot(d.rules.List(), d.allAlerts(), len(d.rules.Rejected()))
}

// Stats is Snapshot plus a backend ping.
func (d *Dashboard) Stats(ctx context.Context) Stats {
	return Stats{
		Snapshot:         d.Snapshot(),
		BackendConnected: d.connector.Ping(ctx) == nil,
	}
}

// Timeline buckets alerts over the lookback ending now.
func (d *Dashboard) Timeline(lookback, width time.Duration) ([]TimelineBucket, error) {
	return Timeline(d.allAlerts(), d.now(), lookback, width)
}

// SeverityBreakdown counts alerts per severity.
func (d *Dashboard) SeverityBreakdown() []Count {
	return BySeverity(d.allAlerts())
}

// CategoryBreakdown counts alerts per category.
func (d *Dashboard) CategoryBreakdown() []Count {
	return ByCategory(d.allAlerts())
}

// TopRules returns the n rules with the most alerts.
func (d *Dashboard) TopRules(n int) []Count {
	return TopRules(d.allAlerts(), n)
}

// TopSources returns the n most frequent source values.
func (d *Dashboard) TopSources(n int) []Count {
	return TopSources(d.allAlerts(), n, d.sourceFields)
}

// Transform previews the rewrite of a semantic query.
func (d *Dashboard) Transform(query string) detect.TransformResult {
	return d.transformer.Transform(query)
}

// ExecutionHistory returns recent batch summaries, newest first.
func (d *Dashboard) ExecutionHistory(ctx context.Context, limit int) ([]storage.ExecutionRecord, error) {
	if d.history == nil {
		return []storage.ExecutionRecord{}, nil
	}
	return d.history.Recent(ctx, limit)
}

// Health pings the backend and runs every registered check. The backend
// being unreachable makes the status down; any other failure degrades it.
func (d *Dashboard) Health(ctx context.Context) Health {
	h := Health{
		Status:     statusOK,
		Components: make(map[string]ComponentHealth, len(d.checks)+1),
		Rules:      len(d.rules.List()),
		Alerts:     d.alerts.Count(),
		CheckedAt:  d.now().UTC(),
	}

	if err := d.connector.Ping(ctx); err != nil {
		h.Components["backend"] = ComponentHealth{Status: statusDown, Error: err.Error()}
		h.Status = statusDown
	} else {
		h.Components["backend"] = ComponentHealth{Status: statusOK}
	}

	names := make([]string, 0, len(d.checks))
	for name := range d.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.checks[name](ctx); err != nil {
			h.Components[name] = ComponentHealth{Status: statusDown, Error: err.Error()}
			if h.Status == statusOK {
				h.Status = statusDegraded
			}
			d.logger.Warnw("Health check failed", "component", name, "error", err)
			continue
		}
		h.Components[name] = ComponentHealth{Status: statusOK}
	}
	return h
}

// IsNotFound reports whether err means a rule or alert does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrRuleNotFound) || errors.Is(err, storage.ErrAlertNotFound)
}

// ParseScope builds a scope from optional ids: none means every enabled rule.
func ParseScope(ids []string) detect.Scope {
	if len(ids) == 0 {
		return detect.AllEnabled()
	}
	return detect.RuleIDs(ids...)
}

// String renders a health status line for logs and the CLI.
func (h Health) String() string {
	return fmt.Sprintf("%s (rules=%d alerts=%d)", h.Status, h.Rules, h.Alerts)
}
