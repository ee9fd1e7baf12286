package core

import (
	"sort"
	"sync"
	"time"
)

// RuleFailure is the recorded reason a rule did not succeed in a batch.
type RuleFailure struct {
	RuleID   string    `json:"rule_id"`
	RuleName string    `json:"rule_name,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Reason   string    `json:"reason"`
}

// RuleOutcome is the per-rule result within a batch.
type RuleOutcome struct {
	RuleID           string        `json:"rule_id"`
	Rows             int           `json:"rows"`
	AlertsInserted   int           `json:"alerts_inserted"`
	AlertsSuppressed int           `json:"alerts_suppressed"`
	StoreFailures    int           `json:"store_failures"`
	Duration         time.Duration `json:"duration"`
	Failed           bool          `json:"failed"`
}

// ExecutionSummary reports the outcome of one execution batch. It is never
// modified after Execute returns it.
type ExecutionSummary struct {
	Requested        int           `json:"requested"`
	Executed         int           `json:"executed"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	AlertsGenerated  int           `json:"alerts_generated"`
	AlertsSuppressed int           `json:"alerts_suppressed"`
	StoreFailures    int           `json:"store_failures"`
	Failures         []RuleFailure `json:"failures"`
	Outcomes         []RuleOutcome `json:"outcomes,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Duration         time.Duration `json:"duration"`
}

// SummaryRecorder accumulates a summary from concurrent workers. All updates
// are serialized; Finish returns an independent copy.
type SummaryRecorder struct {
	mu      sync.Mutex
	summary ExecutionSummary
}

// NewSummaryRecorder starts a summary for a batch of requested rules.
func NewSummaryRecorder(requested int, startedAt time.Time) *SummaryRecorder {
	return &SummaryRecorder{summary: ExecutionSummary{
		Requested: requested,
		StartedAt: startedAt,
		Failures:  []RuleFailure{},
	}}
}

// Unresolved records a requested rule that could not be resolved, so it
// counts as failed without having been executed.
func (r *SummaryRecorder) Unresolved(ruleID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Failed++
	r.summary.Failures = append(r.summary.Failures, RuleFailure{
		RuleID: ruleID,
		Kind:   ErrorKindNotFound,
		Reason: reason,
	})
}

// Succeeded records a rule that executed and whose results were processed.
func (r *SummaryRecorder) Succeeded(outcome RuleOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Executed++
	r.summary.Succeeded++
	r.summary.AlertsGenerated += outcome.AlertsInserted
	r.summary.AlertsSuppressed += outcome.AlertsSuppressed
	r.summary.StoreFailures += outcome.StoreFailures
	r.summary.Outcomes = append(r.summary.Outcomes, outcome)
}

// RuleFailed records an executed rule that failed with err.
func (r *SummaryRecorder) RuleFailed(rule Rule, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Executed++
	r.summary.Failed++
	r.summary.Failures = append(r.summary.Failures, RuleFailure{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Kind:     KindOf(err),
		Reason:   err.Error(),
	})
	r.summary.Outcomes = append(r.summary.Outcomes, RuleOutcome{RuleID: rule.ID, Duration: d, Failed: true})
}

// Finish stamps the end time and returns the summary, with failures and
// outcomes sorted by rule id so output does not depend on scheduling.
func (r *SummaryRecorder) Finish(finishedAt time.Time) ExecutionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.summary
	out.FinishedAt = finishedAt
	out.Duration = finishedAt.Sub(out.StartedAt)
	out.Failures = append([]RuleFailure{}, r.summary.Failures...)
	out.Outcomes = append([]RuleOutcome(nil), r.summary.Outcomes...)
	sort.SliceStable(out.Failures, func(i, j int) bool { return out.Failures[i].RuleID < out.Failures[j].RuleID })
	sort.SliceStable(out.Outcomes, func(i, j int) bool { return out.Outcomes[i].RuleID < out.Outcomes[j].RuleID })
	return out
}
