package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"argus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "argus.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewSQLite_CreatesSchema(t *testing.T) {
	db := newTestSQLite(t)
	require.NoError(t, db.HealthCheck(context.Background()))

	for _, table := range []string{"rule_state", "execution_history"} {
		var name string
		err := db.ReadDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestValidateDatabasePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"memory", ":memory:", false},
		{"relative", "data/argus.db", false},
		{"traversal", "../argus.db", true},
		{"null byte", "argus\x00.db", true},
		{"absolute outside temp", "/etc/argus.db", true},
		{"temp dir", filepath.Join(t.TempDir(), "x.db"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDatabasePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSQLite_WithTransactionRollsBack(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO rule_state (rule_id, enabled, updated_at) VALUES ('r', 1, 'x')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.ReadDB.QueryRow(`SELECT COUNT(*) FROM rule_state`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestRuleStateStore_Overrides(t *testing.T) {
	store := NewRuleStateStore(newTestSQLite(t))
	ctx := context.Background()

	overrides, err := store.EnabledOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)

	require.NoError(t, store.SetEnabled(ctx, "r1", false))
	require.NoError(t, store.SetEnabled(ctx, "r2", true))
	require.NoError(t, store.SetEnabled(ctx, "r1", true))

	overrides, err = store.EnabledOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"r1": true, "r2": true}, overrides)
}

func TestMemoryRuleStateStore_ReturnsCopy(t *testing.T) {
	store := NewMemoryRuleStateStore()
	ctx := context.Background()
	require.NoError(t, store.SetEnabled(ctx, "r1", false))

	overrides, err := store.EnabledOverrides(ctx)
	require.NoError(t, err)
	overrides["r1"] = true

	again, _ := store.EnabledOverrides(ctx)
	assert.False(t, again["r1"])
}

func TestExecutionHistory_RecordAndRecent(t *testing.T) {
	history := NewExecutionHistory(newTestSQLite(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		summary := core.ExecutionSummary{
			Requested:       10,
			Executed:        10,
			Succeeded:       9,
			Failed:          1,
			AlertsGenerated: i,
			Failures: []core.RuleFailure{
				{RuleID: "r7", Kind: core.ErrorKindSchema, Reason: "unknown column"},
			},
			StartedAt:  started,
			FinishedAt: started.Add(1500 * time.Millisecond),
		}
		require.NoError(t, history.Record(ctx, summary))
	}

	records, err := history.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, base.Add(2*time.Minute), records[0].StartedAt)
	assert.Equal(t, base.Add(2*time.Minute+1500*time.Millisecond), records[0].FinishedAt)
	assert.Equal(t, 2, records[0].AlertsGenerated)
	require.Len(t, records[0].Failures, 1)
	assert.Equal(t, core.ErrorKindSchema, records[0].Failures[0].Kind)

	all, err := history.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestExecutionHistory_Retention(t *testing.T) {
	history := NewExecutionHistory(newTestSQLite(t), WithHistoryRetention(2))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, history.Record(ctx, core.ExecutionSummary{
			Requested:  i,
			StartedAt:  started,
			FinishedAt: started.Add(time.Second),
		}))
	}

	records, err := history.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 3, records[0].Requested)
	assert.Equal(t, 2, records[1].Requested)
}
