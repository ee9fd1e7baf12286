package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus/backend"
	"argus/core"
	"argus/detect"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pingConnector struct {
	err error
}

func (p pingConnector) RunQuery(context.Context, backend.Request) (backend.Result, error) {
	return backend.Result{}, nil
}

func (p pingConnector) Ping(context.Context) error { return p.err }

type recordingExecutor struct {
	scopes []detect.Scope
}

func (r *recordingExecutor) Execute(_ context.Context, scope detect.Scope) (core.ExecutionSummary, error) {
	r.scopes = append(r.scopes, scope)
	return core.ExecutionSummary{Requested: len(scope.IDs())}, nil
}

type staticHistory []storage.ExecutionRecord

func (h staticHistory) Recent(_ context.Context, limit int) ([]storage.ExecutionRecord, error) {
	if limit > 0 && limit < len(h) {
		return h[:limit], nil
	}
	return h, nil
}

type dashboardFixture struct {
	dashboard *Dashboard
	store     *storage.AlertStore
	executor  *recordingExecutor
}

func newDashboardFixture(t *testing.T, conn backend.Connector, opts ...DashboardOption) *dashboardFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	repo := newTestRepository(t, []core.Rule{validRule("a"), validRule("b")}, storage.NewMemoryRuleStateStore())
	store := storage.NewAlertStore(storage.NewMemoryDedupIndex(0, time.Hour), logger)
	exec := &recordingExecutor{}
	opts = append([]DashboardOption{WithDashboardClock(func() time.Time { return statsNow })}, opts...)
	d := NewDashboard(repo, exec, store, detect.NewQueryTransformer(detect.DefaultMappingTable()), conn, logger, opts...)
	return &dashboardFixture{dashboard: d, store: store, executor: exec}
}

func (f *dashboardFixture) insert(t *testing.T, alerts ...core.Alert) {
	t.Helper()
	for i, a := range alerts {
		if a.DedupKey == "" {
			a.DedupKey = time.Duration(i).String() + a.RuleID
		}
		_, err := f.store.Insert(context.Background(), a)
		require.NoError(t, err)
	}
}

func TestDashboard_RuleOperations(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{})
	d := f.dashboard

	assert.Len(t, d.ListRules(RuleFilter{}), 2)
	_, err := d.GetRule("nope")
	assert.True(t, IsNotFound(err))

	rule, err := d.SetRuleEnabled(context.Background(), "a", false)
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
	assert.Empty(t, d.RejectedRules())
}

func TestDashboard_ExecuteScope(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{})

	_, err := f.dashboard.Execute(context.Background(), ParseScope(nil))
	require.NoError(t, err)
	summary, err := f.dashboard.Execute(context.Background(), ParseScope([]string{"a", "b"}))
	require.NoError(t, err)

	require.Len(t, f.executor.scopes, 2)
	assert.True(t, f.executor.scopes[0].IsAll())
	assert.Equal(t, []string{"a", "b"}, f.executor.scopes[1].IDs())
	assert.Equal(t, 2, summary.Requested)
}

func TestDashboard_AlertViews(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{})
	f.insert(t,
		alertAt("a", core.SeverityHigh, "NIST", statsNow.Add(-10*time.Minute)),
		alertAt("a", core.SeverityHigh, "NIST", statsNow.Add(-20*time.Minute)),
		alertAt("b", core.SeverityLow, "CIS", statsNow.Add(-2*time.Hour)),
	)
	d := f.dashboard

	page, total := d.ListAlerts(core.AlertFilter{Severity: core.SeverityHigh, Limit: 1})
	assert.Len(t, page, 1)
	assert.Equal(t, 2, total)

	got, err := d.GetAlert(page[0].ID)
	require.NoError(t, err)
	assert.Equal(t, page[0].ID, got.ID)
	_, err = d.GetAlert("missing")
	assert.True(t, IsNotFound(err))

	snap := d.Snapshot()
	assert.Equal(t, 3, snap.Alerts.Total)
	assert.Equal(t, 2, snap.Rules.Total)

	buckets, err := d.Timeline(time.Hour, 30*time.Minute)
	require.NoError(t, err)
	sum := 0
	for _, b := range buckets {
		sum += b.Count
	}
	assert.Equal(t, 2, sum)

	assert.Equal(t, 2, d.SeverityBreakdown()[1].Count)
	assert.Equal(t, "NIST", d.CategoryBreakdown()[0].Key)
	assert.Equal(t, "a", d.TopRules(1)[0].Key)
	assert.Empty(t, d.TopSources(5))

	cleared, err := d.ClearAlerts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cleared)
	assert.Equal(t, 0, d.Snapshot().Alerts.Total)
}

func TestDashboard_TopSourcesUsesMappedCandidates(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{})
	candidates, ok := detect.DefaultMappingTable().Lookup("source.ip")
	require.True(t, ok)

	f.insert(t, core.Alert{RuleID: "a", Timestamp: statsNow, Group: map[string]any{candidates[0]: "192.168.1.5"}})
	got := f.dashboard.TopSources(5)
	require.Len(t, got, 1)
	assert.Equal(t, "192.168.1.5", got[0].Key)
}

func TestDashboard_Transform(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{})
	res := f.dashboard.Transform(`FROM logs-* | WHERE user.name == "admin"`)
	assert.Equal(t, `FROM logs-* | WHERE winlog.event_data.TargetUserName == "admin"`, res.Query)
}

func TestDashboard_Health(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{}, WithHealthCheck("state_db", func(context.Context) error { return nil }))
	h := f.dashboard.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ok", h.Components["backend"].Status)
	assert.Equal(t, "ok", h.Components["state_db"].Status)
	assert.Equal(t, 2, h.Rules)
	assert.True(t, f.dashboard.Stats(context.Background()).BackendConnected)

	f = newDashboardFixture(t, pingConnector{}, WithHealthCheck("redis", func(context.Context) error { return errors.New("refused") }))
	h = f.dashboard.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "refused", h.Components["redis"].Error)

	f = newDashboardFixture(t, pingConnector{err: core.UnreachableError(errors.New("connection refused"))})
	h = f.dashboard.Health(context.Background())
	assert.Equal(t, "down", h.Status)
	assert.False(t, f.dashboard.Stats(context.Background()).BackendConnected)
}

func TestDashboard_ExecutionHistory(t *testing.T) {
	f := newDashboardFixture(t, pingConnector{})
	records, err := f.dashboard.ExecutionHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	history := staticHistory{{ID: 2}, {ID: 1}}
	f = newDashboardFixture(t, pingConnector{}, WithHistory(history))
	records, err = f.dashboard.ExecutionHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].ID)
}
