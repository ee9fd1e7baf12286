package bootstrap

import (
	"context"
	"fmt"

	"argus/backend"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/service"
	"argus/storage"

	"go.uber.org/zap"
)

// InitMappings builds the built-in mapping table with the configured file
// merged on top.
func InitMappings(cfg *config.Config, sugar *zap.SugaredLogger) (*detect.MappingTable, error) {
	table := detect.DefaultMappingTable()
	if cfg.Mappings.File == "" {
		sugar.Infow("Using built-in field mappings", "paths", table.Len())
		return table, nil
	}

	entries, err := detect.LoadMappingFile(cfg.Mappings.File)
	if err != nil {
		return nil, err
	}
	merged, err := table.Merge(entries)
	if err != nil {
		return nil, fmt.Errorf("invalid field mappings in %s: %w", cfg.Mappings.File, err)
	}
	sugar.Infow("Field mappings loaded",
		"file", cfg.Mappings.File,
		"overrides", len(entries),
		"paths", merged.Len())
	return merged, nil
}

// InitConnector creates the Elasticsearch connector behind retries, a
// circuit breaker and the optional rate limit.
func InitConnector(cfg *config.Config, sugar *zap.SugaredLogger) (*backend.ResilientConnector, error) {
	es := cfg.Elasticsearch
	inner, err := backend.NewElasticsearchConnector(backend.ElasticsearchConfig{
		Addresses:          es.Addresses,
		Username:           es.Username,
		Password:           es.Password,
		APIKey:             es.APIKey,
		Timeout:            es.Timeout,
		InsecureSkipVerify: es.InsecureSkipVerify,
		TimestampField:     core.TimestampField,
	}, sugar)
	if err != nil {
		return nil, err
	}

	policy := backend.DefaultRetryPolicy()
	policy.MaxRetries = es.MaxRetries

	breaker := backend.DefaultBreakerConfig()
	if es.CircuitBreaker.MaxFailures > 0 {
		breaker.FailureThreshold = es.CircuitBreaker.MaxFailures
	}
	if es.CircuitBreaker.OpenTimeout > 0 {
		breaker.Timeout = es.CircuitBreaker.OpenTimeout
	}

	return backend.NewResilientConnector(inner, policy, breaker, es.RateLimitPerSecond, sugar), nil
}

// LoadRules reads the rule directory and builds the repository with the
// persisted enabled state applied.
func LoadRules(ctx context.Context, cfg *config.Config, state service.DefinitionStore, sugar *zap.SugaredLogger) (*service.RuleRepository, error) {
	loaded, err := detect.LoadRuleDir(cfg.Rules.Dir, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.Rules.Dir, err)
	}
	return service.NewRuleRepository(ctx, loaded.Rules, loaded.Rejected, state, sugar)
}

// InitEngine creates the worker pool and the execution engine. Every batch
// summary is recorded in history when one is given.
func InitEngine(ctx context.Context, cfg *config.Config, rules detect.RuleSource, transformer *detect.QueryTransformer, connector backend.Connector, alerts detect.AlertSink, history *storage.ExecutionHistory, sugar *zap.SugaredLogger) (*detect.Engine, *core.WorkerPool, error) {
	pool := core.NewWorkerPool(ctx, cfg.Engine.Workers, cfg.Engine.QueueSize, "rules", sugar)
	if err := pool.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	opts := []detect.EngineOption{}
	if history != nil {
		opts = append(opts, detect.WithSummaryHook(func(ctx context.Context, summary core.ExecutionSummary) {
			if err := history.Record(ctx, summary); err != nil {
				sugar.Errorw("Failed to record execution summary", "error", err)
			}
		}))
	}

	engine := detect.NewEngine(rules, transformer, connector, alerts, pool, detect.EngineConfig{
		RuleTimeout:   cfg.Engine.RuleTimeout,
		MaxSampleSize: cfg.Engine.MaxSampleSize,
		DefaultBucket: cfg.Engine.DefaultBucket,
	}, sugar, opts...)
	sugar.Infow("Execution engine ready",
		"workers", cfg.Engine.Workers,
		"queue_size", cfg.Engine.QueueSize,
		"rule_timeout", cfg.Engine.RuleTimeout)
	return engine, pool, nil
}
