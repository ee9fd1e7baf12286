package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"argus/backend"
	"argus/core"
	"argus/metrics"
	"argus/search"
	"argus/storage"
	"argus/util/goroutine"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "argus/detect"

// Engine defaults applied when EngineConfig leaves a field zero.
const (
	DefaultRuleTimeout   = 60 * time.Second
	DefaultMaxSampleSize = 50
	DefaultBucket        = 5 * time.Minute
)

// RuleSource hands the engine copies of rule definitions. Snapshots are taken
// once per batch, so enable/disable during a batch does not affect it.
type RuleSource interface {
	EnabledSnapshot() []core.Rule
	// Snapshot returns the named rules in request order plus the ids it
	// does not know.
	Snapshot(ids []string) (found []core.Rule, unknown []string)
}

// AlertSink receives the alerts a rule produces.
type AlertSink interface {
	Insert(ctx context.Context, alert core.Alert) (storage.InsertResult, error)
}

// Scope selects the rules of one batch.
type Scope struct {
	all bool
	ids []string
}

// AllEnabled selects every enabled rule.
func AllEnabled() Scope {
	return Scope{all: true}
}

// RuleIDs selects the named rules whether or not they are enabled. Repeated
// ids are requested once.
func RuleIDs(ids ...string) Scope {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return Scope{ids: out}
}

// IsAll reports whether the scope is every enabled rule.
func (s Scope) IsAll() bool { return s.all }

// IDs returns the explicit ids, or nil for AllEnabled.
func (s Scope) IDs() []string { return append([]string(nil), s.ids...) }

// EngineConfig tunes rule execution.
type EngineConfig struct {
	// RuleTimeout bounds each backend call.
	RuleTimeout time.Duration
	// MaxSampleSize bounds matched_logs of one alert.
	MaxSampleSize int
	// DefaultBucket is the dedup bucket width for rules with neither a
	// lookback predicate nor a schedule interval.
	DefaultBucket time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.RuleTimeout <= 0 {
		c.RuleTimeout = DefaultRuleTimeout
	}
	if c.MaxSampleSize <= 0 {
		c.MaxSampleSize = DefaultMaxSampleSize
	}
	if c.DefaultBucket <= 0 {
		c.DefaultBucket = DefaultBucket
	}
	return c
}

// SummaryHook observes every finished batch.
type SummaryHook func(ctx context.Context, summary core.ExecutionSummary)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

// WithEngineClock replaces time.Now for windows and fallback timestamps.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithSummaryHook adds a hook run after each batch, including scheduled ones.
func WithSummaryHook(hook SummaryHook) EngineOption {
	return func(e *Engine) { e.hooks = append(e.hooks, hook) }
}

// Engine executes detection rules concurrently on a shared worker pool. One
// rule failing never affects the others in its batch.
type Engine struct {
	rules       RuleSource
	transformer *QueryTransformer
	connector   backend.Connector
	alerts      AlertSink
	pool        *core.WorkerPool
	cfg         EngineConfig
	tracer      trace.Tracer
	now         func() time.Time
	hooks       []SummaryHook
	logger      *zap.SugaredLogger
}

// NewEngine creates an engine. The pool must already be started and is
// shared by all batches.
func NewEngine(rules RuleSource, transformer *QueryTransformer, connector backend.Connector, alerts AlertSink, pool *core.WorkerPool, cfg EngineConfig, logger *zap.SugaredLogger, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:       rules,
		transformer: transformer,
		connector:   connector,
		alerts:      alerts,
		pool:        pool,
		cfg:         cfg.withDefaults(),
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// QueryPlan is everything the engine derives from a rule before calling the
// backend.
type QueryPlan struct {
	RuleID    string          `json:"rule_id"`
	Query     string          `json:"query"`
	Transform TransformResult `json:"transform"`
	// SourceAdded is set when the rule's collections were prefixed as FROM.
	SourceAdded  bool          `json:"source_added"`
	Lookback     time.Duration `json:"lookback"`
	Aggregating  bool          `json:"aggregating"`
	Grouping     []string      `json:"grouping,omitempty"`
	CountColumns []string      `json:"count_columns,omitempty"`
	Bucket       time.Duration `json:"bucket"`
}

// Window returns the backend filter for the plan, or a zero window when the
// query has no lookback predicate of its own.
func (p QueryPlan) Window(now time.Time) backend.Window {
	if p.Lookback <= 0 {
		return backend.Window{}
	}
	return backend.Window{From: now.Add(-p.Lookback), To: now}
}

// Plan transforms rule's query and analyses the result.
func (e *Engine) Plan(rule core.Rule) QueryPlan {
	transformed := e.transformer.Transform(rule.Query)
	query, added := search.EnsureSource(transformed.Query, rule.Index)
	tokens := search.Lex(query)

	plan := QueryPlan{
		RuleID:       rule.ID,
		Query:        query,
		Transform:    transformed,
		SourceAdded:  added,
		Aggregating:  search.IsAggregating(tokens),
		CountColumns: search.CountColumns(tokens),
	}
	plan.Lookback, _ = search.ExtractLookback(tokens, core.TimestampField)

	if len(rule.GroupBy) > 0 {
		plan.Grouping = make([]string, len(rule.GroupBy))
		for i, path := range rule.GroupBy {
			plan.Grouping[i], _ = e.transformer.Resolve(path)
		}
	} else {
		plan.Grouping = search.GroupingColumns(tokens)
	}

	switch {
	case plan.Lookback > 0:
		plan.Bucket = plan.Lookback
	case rule.Schedule() > 0:
		plan.Bucket = rule.Schedule()
	default:
		plan.Bucket = e.cfg.DefaultBucket
	}
	return plan
}

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

// ruleTask is claimed exactly once, either by the worker that runs it or by
// the batch when the pool stops before a worker picks it up.
type ruleTask struct {
	rule  core.Rule
	state atomic.Int32
}

func (t *ruleTask) claim(to int32) bool {
	return t.state.CompareAndSwap(taskPending, to)
}

// Execute runs one batch and returns its summary. The error is non-nil only
// when the batch could not run to completion because the worker pool is not
// running; the summary then still accounts for every requested rule.
func (e *Engine) Execute(ctx context.Context, scope Scope) (core.ExecutionSummary, error) {
	ctx, span := e.tracer.Start(ctx, "argus.execute_batch")
	defer span.End()

	startedAt := e.now()
	var rules []core.Rule
	var unknown []string
	if scope.all {
		rules = e.rules.EnabledSnapshot()
	} else {
		rules, unknown = e.rules.Snapshot(scope.ids)
	}

	rec := core.NewSummaryRecorder(len(rules)+len(unknown), startedAt)
	for _, id := range unknown {
		rec.Unresolved(id, fmt.Sprintf("rule %q not found", id))
		metrics.RuleExecutions.WithLabelValues(string(core.ErrorKindNotFound)).Inc()
	}
	metrics.BatchExecutions.Inc()

	var wg sync.WaitGroup
	var batchErr error
	tasks := make([]*ruleTask, 0, len(rules))
	for i := range rules {
		task := &ruleTask{rule: rules[i]}
		wg.Add(1)
		err := e.pool.SubmitContext(ctx, func() {
			if !task.claim(taskRunning) {
				return
			}
			defer wg.Done()
			e.runRule(ctx, task.rule, startedAt, rec)
		})
		if err != nil {
			wg.Done()
			var reason error
			if ctxErr := ctx.Err(); ctxErr != nil {
				reason = ctxErr
			} else {
				reason = core.NewExecutionError(core.ErrorKindCanceled, err)
				batchErr = fmt.Errorf("failed to submit rule %s: %w", rules[i].ID, err)
			}
			for _, rule := range rules[i:] {
				e.fail(rec, rule, reason, 0)
			}
			break
		}
		tasks = append(tasks, task)
	}

	if err := e.await(&wg, tasks, rec); err != nil && batchErr == nil {
		batchErr = err
	}

	summary := rec.Finish(e.now())
	span.SetAttributes(
		attribute.Int("argus.requested", summary.Requested),
		attribute.Int("argus.succeeded", summary.Succeeded),
		attribute.Int("argus.failed", summary.Failed),
		attribute.Int("argus.alerts_generated", summary.AlertsGenerated),
	)
	if batchErr != nil {
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Error())
	}

	e.logger.Infow("Execution batch finished",
		"requested", summary.Requested,
		"executed", summary.Executed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"alerts_generated", summary.AlertsGenerated,
		"alerts_suppressed", summary.AlertsSuppressed,
		"duration", summary.Duration)

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range e.hooks {
		hook(hookCtx, summary)
	}
	return summary, batchErr
}

// await blocks until every submitted task has finished. If the pool stops
// first, tasks no worker has claimed are recorded as canceled.
func (e *Engine) await(wg *sync.WaitGroup, tasks []*ruleTask, rec *core.SummaryRecorder) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-e.pool.Done():
	}

	abandoned := 0
	for _, task := range tasks {
		if task.claim(taskAbandoned) {
			e.fail(rec, task.rule, core.NewExecutionError(core.ErrorKindCanceled, core.ErrWorkerPoolNotRunning), 0)
			wg.Done()
			abandoned++
		}
	}
	<-done
	if abandoned > 0 {
		return fmt.Errorf("worker pool stopped with %d rules queued: %w", abandoned, core.ErrWorkerPoolNotRunning)
	}
	return nil
}

func (e *Engine) runRule(ctx context.Context, rule core.Rule, batchStart time.Time, rec *core.SummaryRecorder) {
	start := time.Now()
	defer goroutine.RecoverWith("rule-execution", e.logger, func(r any) {
		e.fail(rec, rule, core.NewExecutionError(core.ErrorKindInternal, fmt.Errorf("panic: %v", r)), time.Since(start))
	})

	// Queued behind a cancelled batch: never reach the backend.
	if err := ctx.Err(); err != nil {
		e.fail(rec, rule, err, 0)
		return
	}

	outcome, err := e.executeRule(ctx, rule, batchStart)
	elapsed := time.Since(start)
	metrics.RuleExecutionDuration.Observe(elapsed.Seconds())
	if err != nil {
		e.fail(rec, rule, err, elapsed)
		return
	}
	outcome.Duration = elapsed
	rec.Succeeded(outcome)
	metrics.RuleExecutions.WithLabelValues("success").Inc()
}

func (e *Engine) executeRule(ctx context.Context, rule core.Rule, batchStart time.Time) (core.RuleOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "argus.execute_rule", trace.WithAttributes(
		attribute.String("argus.rule_id", rule.ID),
		attribute.String("argus.rule_name", rule.Name),
	))
	defer span.End()

	outcome := core.RuleOutcome{RuleID: rule.ID}
	plan := e.Plan(rule)
	for _, w := range plan.Transform.Warnings {
		e.logger.Warnw("Unmapped field in rule query", "rule_id", rule.ID, "field", w.Path, "offset", w.Offset)
	}
	metrics.TransformWarnings.Add(float64(len(plan.Transform.Warnings)))

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RuleTimeout)
	defer cancel()

	result, err := e.connector.RunQuery(runCtx, backend.Request{
		Query:       plan.Query,
		Collections: rule.Index,
		Window:      plan.Window(e.now()),
		SampleLimit: e.cfg.MaxSampleSize,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && core.KindOf(err) != core.ErrorKindTimeout {
			err = core.TimeoutError(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}

	outcome.Rows = len(result.Rows)
	span.SetAttributes(attribute.Int("argus.rows", outcome.Rows))

	for _, alert := range e.buildAlerts(rule, plan, result, batchStart) {
		res, err := e.alerts.Insert(ctx, alert)
		switch {
		case err != nil:
			outcome.StoreFailures++
			e.logger.Errorw("Failed to store alert", "rule_id", rule.ID, "dedup_key", alert.DedupKey, "error", err)
		case res == storage.Suppressed:
			outcome.AlertsSuppressed++
		default:
			outcome.AlertsInserted++
		}
	}
	span.SetAttributes(attribute.Int("argus.alerts_inserted", outcome.AlertsInserted))

	e.logger.Debugw("Rule executed",
		"rule_id", rule.ID,
		"rows", outcome.Rows,
		"alerts_inserted", outcome.AlertsInserted,
		"alerts_suppressed", outcome.AlertsSuppressed)
	return outcome, nil
}

func (e *Engine) fail(rec *core.SummaryRecorder, rule core.Rule, err error, d time.Duration) {
	kind := core.KindOf(err)
	rec.RuleFailed(rule, err, d)
	metrics.RuleExecutions.WithLabelValues(string(kind)).Inc()
	e.logger.Warnw("Rule execution failed",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"kind", kind,
		"error", err)
}

// RunScheduled executes all enabled rules immediately and then every
// interval until ctx is done. It returns early only if the worker pool stops.
func (e *Engine) RunScheduled(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", interval)
	}
	e.logger.Infow("Starting scheduled execution", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.Execute(ctx, AllEnabled()); err != nil {
			e.logger.Errorw("Scheduled execution failed", "error", err)
			if errors.Is(err, core.ErrWorkerPoolNotRunning) {
				return err
			}
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Scheduled execution stopped")
			return nil
		case <-e.pool.Done():
			return core.ErrWorkerPoolNotRunning
		case <-ticker.C:
		}
	}
}
