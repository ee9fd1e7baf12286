package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RuleStateStore persists enable/disable overrides in SQLite. Rule
// definitions themselves stay in their files.
type RuleStateStore struct {
	db *SQLite
}

// NewRuleStateStore creates a store over db.
func NewRuleStateStore(db *SQLite) *RuleStateStore {
	return &RuleStateStore{db: db}
}

// EnabledOverrides returns every persisted override keyed by rule id.
func (r *RuleStateStore) EnabledOverrides(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.ReadDB.QueryContext(ctx, `SELECT rule_id, enabled FROM rule_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled int
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule state: %w", err)
		}
		out[id] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rule state: %w", err)
	}
	return out, nil
}

// SetEnabled upserts the override for ruleID.
func (r *RuleStateStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := r.db.WriteDB.ExecContext(ctx, `
		INSERT INTO rule_state (rule_id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		ruleID, v, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to persist rule state for %s: %w", ruleID, err)
	}
	return nil
}

// MemoryRuleStateStore keeps overrides for the life of the process. It is
// used when no state database is configured.
type MemoryRuleStateStore struct {
	mu        sync.Mutex
	overrides map[string]bool
}

// NewMemoryRuleStateStore creates an empty store.
func NewMemoryRuleStateStore() *MemoryRuleStateStore {
	return &MemoryRuleStateStore{overrides: make(map[string]bool)}
}

func (m *MemoryRuleStateStore) EnabledOverrides(_ context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.overrides))
	for k, v := range m.overrides {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryRuleStateStore) SetEnabled(_ context.Context, ruleID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[ruleID] = enabled
	return nil
}
