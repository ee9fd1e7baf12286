package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"argus/core"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingStore struct {
	overridesErr error
	setErr       error
}

func (f failingStore) EnabledOverrides(context.Context) (map[string]bool, error) {
	return map[string]bool{}, f.overridesErr
}

func (f failingStore) SetEnabled(context.Context, string, bool) error { return f.setErr }

func validRule(id string) core.Rule {
	return core.Rule{
		ID:       id,
		Name:     "Rule " + id,
		Category: "NIST",
		Severity: core.SeverityMedium,
		Index:    []string{"logs-*"},
		Query:    "FROM logs-* | LIMIT 1",
		Enabled:  true,
	}
}

func newTestRepository(t *testing.T, defs []core.Rule, store DefinitionStore) *RuleRepository {
	t.Helper()
	repo, err := NewRuleRepository(context.Background(), defs, nil, store, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return repo
}

func TestRuleRepository_ValidatesAndOrders(t *testing.T) {
	bad := validRule("bad")
	bad.Severity = "urgent"
	bad.RiskScore = 300
	noQuery := validRule("noquery")
	noQuery.Query = "   "
	dup := validRule("b")
	dup.Name = "Duplicate"

	repo := newTestRepository(t, []core.Rule{validRule("b"), bad, validRule("a"), noQuery, dup}, storage.NewMemoryRuleStateStore())

	rules := repo.List()
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].ID)
	assert.Equal(t, "b", rules[1].ID)
	assert.Equal(t, "Rule b", rules[1].Name, "first definition of an id wins")

	rejected := repo.Rejected()
	require.Len(t, rejected, 3)
	assert.Equal(t, "bad", rejected[0].RuleID)
	assert.Contains(t, rejected[0].Reason, "severity")
	assert.Contains(t, rejected[0].Reason, "risk_score")
	assert.Equal(t, "noquery", rejected[1].RuleID)
	assert.Contains(t, rejected[1].Reason, "query")
	assert.Equal(t, "duplicate id", rejected[2].Reason)
}

func TestRuleRepository_KeepsLoaderRejections(t *testing.T) {
	prior := []core.RuleRejection{{Source: "x.yml", Reason: "failed to parse rule YAML"}}
	repo, err := NewRuleRepository(context.Background(), nil, prior, storage.NewMemoryRuleStateStore(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, prior, repo.Rejected())
}

func TestRuleRepository_AppliesOverrides(t *testing.T) {
	store := storage.NewMemoryRuleStateStore()
	ctx := context.Background()
	require.NoError(t, store.SetEnabled(ctx, "a", false))
	require.NoError(t, store.SetEnabled(ctx, "gone", true))

	repo := newTestRepository(t, []core.Rule{validRule("a"), validRule("b")}, store)

	a, err := repo.Get("a")
	require.NoError(t, err)
	assert.False(t, a.Enabled)

	snapshot := repo.EnabledSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "b", snapshot[0].ID)
}

func TestRuleRepository_OverrideLoadFailure(t *testing.T) {
	_, err := NewRuleRepository(context.Background(), []core.Rule{validRule("a")}, nil,
		failingStore{overridesErr: errors.New("db locked")}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestRuleRepository_SetEnabled(t *testing.T) {
	store := storage.NewMemoryRuleStateStore()
	repo := newTestRepository(t, []core.Rule{validRule("a")}, store)
	ctx := context.Background()

	rule, err := repo.SetEnabled(ctx, "a", false)
	require.NoError(t, err)
	assert.False(t, rule.Enabled)

	overrides, _ := store.EnabledOverrides(ctx)
	assert.Equal(t, map[string]bool{"a": false}, overrides)

	_, err = repo.SetEnabled(ctx, "missing", true)
	assert.ErrorIs(t, err, storage.ErrRuleNotFound)
}

func TestRuleRepository_SetEnabledPersistFailureLeavesState(t *testing.T) {
	repo := newTestRepository(t, []core.Rule{validRule("a")}, failingStore{setErr: errors.New("disk full")})

	_, err := repo.SetEnabled(context.Background(), "a", false)
	require.Error(t, err)

	rule, _ := repo.Get("a")
	assert.True(t, rule.Enabled)
}

func TestRuleRepository_SnapshotsAreCopies(t *testing.T) {
	repo := newTestRepository(t, []core.Rule{validRule("a")}, storage.NewMemoryRuleStateStore())

	found, unknown := repo.Snapshot([]string{"a", "zzz"})
	require.Len(t, found, 1)
	assert.Equal(t, []string{"zzz"}, unknown)

	found[0].Index[0] = "mutated"
	found[0].Enabled = false
	rule, _ := repo.Get("a")
	assert.Equal(t, "logs-*", rule.Index[0])
	assert.True(t, rule.Enabled)
}

func TestRuleRepository_ConcurrentToggleAndSnapshot(t *testing.T) {
	repo := newTestRepository(t, []core.Rule{validRule("a"), validRule("b")}, storage.NewMemoryRuleStateStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := repo.SetEnabled(ctx, "a", i%2 == 0)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			snap := repo.EnabledSnapshot()
			assert.GreaterOrEqual(t, len(snap), 1)
		}()
	}
	wg.Wait()
}

func TestRuleRepository_ListFilteredAndStats(t *testing.T) {
	high := validRule("h")
	high.Severity = core.SeverityHigh
	high.Category = "MITRE"
	off := validRule("off")
	off.Enabled = false
	repo := newTestRepository(t, []core.Rule{validRule("m"), high, off}, storage.NewMemoryRuleStateStore())

	assert.Len(t, repo.ListFiltered(RuleFilter{Category: "MITRE"}), 1)
	assert.Len(t, repo.ListFiltered(RuleFilter{Severity: core.SeverityMedium}), 2)
	disabled := false
	assert.Len(t, repo.ListFiltered(RuleFilter{Enabled: &disabled}), 1)

	stats := repo.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Enabled)
	assert.Equal(t, 1, stats.Disabled)
	assert.Equal(t, 2, stats.ByCategory["NIST"])
	assert.Equal(t, 0, stats.BySeverity[core.SeverityCritical])
}

func TestNewRuleRepository_RequiresStore(t *testing.T) {
	_, err := NewRuleRepository(context.Background(), nil, nil, nil, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
