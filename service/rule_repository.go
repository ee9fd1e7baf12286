package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"argus/core"
	"argus/storage"

	"go.uber.org/zap"
)

// DefinitionStore persists enable/disable overrides for rules. Definitions
// themselves are never written back.
type DefinitionStore interface {
	EnabledOverrides(ctx context.Context) (map[string]bool, error)
	SetEnabled(ctx context.Context, ruleID string, enabled bool) error
}

// RuleFilter narrows ListFiltered. Zero values match everything.
type RuleFilter struct {
	Category string
	Severity core.Severity
	Enabled  *bool
}

func (f RuleFilter) matches(r *core.Rule) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.Enabled != nil && r.Enabled != *f.Enabled {
		return false
	}
	return true
}

// RuleRepository holds the validated rule definitions for the life of the
// process. It hands out copies only.
//
// Invariants:
//   - ids are unique; a later definition with a known id is rejected
//   - only Enabled changes after construction, and only after the
//     DefinitionStore accepted the change
type RuleRepository struct {
	mu       sync.RWMutex
	rules    map[string]*core.Rule
	ids      []string // sorted
	rejected []core.RuleRejection
	store    DefinitionStore
	logger   *zap.SugaredLogger
}

// NewRuleRepository validates defs, records rejections (appended to any the
// loader already produced) and applies the persisted enabled overrides.
func NewRuleRepository(ctx context.Context, defs []core.Rule, rejected []core.RuleRejection, store DefinitionStore, logger *zap.SugaredLogger) (*RuleRepository, error) {
	if store == nil {
		return nil, errors.New("definition store is required")
	}

	repo := &RuleRepository{
		rules:    make(map[string]*core.Rule, len(defs)),
		rejected: append([]core.RuleRejection(nil), rejected...),
		store:    store,
		logger:   logger,
	}

	for i := range defs {
		def := defs[i].Clone()
		def.Query = strings.TrimSpace(def.Query)
		if err := def.Validate(); err != nil {
			repo.reject(def, core.RejectionReason(err))
			continue
		}
		if _, dup := repo.rules[def.ID]; dup {
			repo.reject(def, "duplicate id")
			continue
		}
		if def.Category == "" {
			def.Category = core.DefaultCategory
		}
		repo.rules[def.ID] = &def
		repo.ids = append(repo.ids, def.ID)
	}
	sort.Strings(repo.ids)

	overrides, err := store.EnabledOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule state: %w", err)
	}
	applied := 0
	for id, enabled := range overrides {
		if r, ok := repo.rules[id]; ok {
			r.Enabled = enabled
			applied++
		}
	}

	logger.Infow("Rule repository loaded",
		"rules", len(repo.rules),
		"rejected", len(repo.rejected),
		"overrides_applied", applied)
	return repo, nil
}

func (r *RuleRepository) reject(def core.Rule, reason string) {
	r.rejected = append(r.rejected, core.RuleRejection{
		Source: def.SourcePath,
		RuleID: def.ID,
		Name:   def.Name,
		Reason: reason,
	})
	r.logger.Warnw("Rejected rule definition", "rule_id", def.ID, "source", def.SourcePath, "reason", reason)
}

// List returns every rule ordered by id.
func (r *RuleRepository) List() []core.Rule {
	return r.ListFiltered(RuleFilter{})
}

// ListFiltered returns the rules passing filter, ordered by id.
func (r *RuleRepository) ListFiltered(filter RuleFilter) []core.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Rule, 0, len(r.ids))
	for _, id := range r.ids {
		if rule := r.rules[id]; filter.matches(rule) {
			out = append(out, rule.Clone())
		}
	}
	return out
}

// Get returns the rule with id or storage.ErrRuleNotFound.
func (r *RuleRepository) Get(id string) (core.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return core.Rule{}, storage.ErrRuleNotFound
	}
	return rule.Clone(), nil
}

// SetEnabled persists the new state and then applies it. When persisting
// fails the rule is left as it was.
func (r *RuleRepository) SetEnabled(ctx context.Context, id string, enabled bool) (core.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return core.Rule{}, storage.ErrRuleNotFound
	}
	if err := r.store.SetEnabled(ctx, id, enabled); err != nil {
		return rule.Clone(), fmt.Errorf("failed to persist rule %s state: %w", id, err)
	}
	rule.Enabled = enabled
	r.logger.Infow("Rule state changed", "rule_id", id, "enabled", enabled)
	return rule.Clone(), nil
}

// Rejected returns the definitions that failed validation, in load order.
func (r *RuleRepository) Rejected() []core.RuleRejection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.RuleRejection{}, r.rejected...)
}

// EnabledSnapshot copies the enabled rules, ordered by id.
func (r *RuleRepository) EnabledSnapshot() []core.Rule {
	enabled := true
	return r.ListFiltered(RuleFilter{Enabled: &enabled})
}

// Snapshot copies the named rules in request order and reports the ids it
// does not hold.
func (r *RuleRepository) Snapshot(ids []string) ([]core.Rule, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := make([]core.Rule, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		if rule, ok := r.rules[id]; ok {
			found = append(found, rule.Clone())
		} else {
			unknown = append(unknown, id)
		}
	}
	return found, unknown
}

// Stats counts the loaded rules.
func (r *RuleRepository) Stats() RuleTotals {
	return ComputeRuleTotals(r.List())
}
