// Package api serves the dashboard operations over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/service"
	"argus/storage"
	"argus/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dashboard is the set of operations the handlers expose.
type Dashboard interface {
	ListRules(filter service.RuleFilter) []core.Rule
	GetRule(id string) (core.Rule, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool) (core.Rule, error)
	RejectedRules() []core.RuleRejection
	Execute(ctx context.Context, scope detect.Scope) (core.ExecutionSummary, error)
	ListAlerts(filter core.AlertFilter) ([]core.Alert, int)
	GetAlert(id string) (core.Alert, error)
	ClearAlerts(ctx context.Context) (int, error)
	Stats(ctx context.Context) service.Stats
	Timeline(lookback, width time.Duration) ([]service.TimelineBucket, error)
	SeverityBreakdown() []service.Count
	CategoryBreakdown() []service.Count
	TopRules(n int) []service.Count
	TopSources(n int) []service.Count
	Transform(query string) detect.TransformResult
	ExecutionHistory(ctx context.Context, limit int) ([]storage.ExecutionRecord, error)
	Health(ctx context.Context) service.Health
}

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the API server
type API struct {
	router    *mux.Router
	server    *http.Server
	dashboard Dashboard
	config    config.APIConfig
	logger    *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewAPI creates a new API server
func NewAPI(dashboard Dashboard, cfg config.APIConfig, logger *zap.SugaredLogger) *API {
	a := &API{
		router:       mux.NewRouter(),
		dashboard:    dashboard,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	a.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.metricsMiddleware)
	if a.config.RateLimit.RequestsPerSecond > 0 {
		a.router.Use(a.rateLimitMiddleware)
	}

	a.router.HandleFunc("/api/health", a.getHealth).Methods(http.MethodGet)

	a.router.HandleFunc("/api/rules", a.getRules).Methods(http.MethodGet)
	a.router.HandleFunc("/api/rules/rejected", a.getRejectedRules).Methods(http.MethodGet)
	a.router.HandleFunc("/api/rules/{id}", a.getRule).Methods(http.MethodGet)
	a.router.HandleFunc("/api/rules/{id}/enable", a.enableRule).Methods(http.MethodPost)
	a.router.HandleFunc("/api/rules/{id}/disable", a.disableRule).Methods(http.MethodPost)

	a.router.HandleFunc("/api/execute", a.execute).Methods(http.MethodPost)
	a.router.HandleFunc("/api/executions", a.getExecutions).Methods(http.MethodGet)

	a.router.HandleFunc("/api/alerts", a.getAlerts).Methods(http.MethodGet)
	a.router.HandleFunc("/api/alerts", a.clearAlerts).Methods(http.MethodDelete)
	a.router.HandleFunc("/api/alerts/{id}", a.getAlert).Methods(http.MethodGet)

	a.router.HandleFunc("/api/stats", a.getStats).Methods(http.MethodGet)
	a.router.HandleFunc("/api/charts/timeline", a.getTimelineChart).Methods(http.MethodGet)
	a.router.HandleFunc("/api/charts/severity", a.getSeverityChart).Methods(http.MethodGet)
	a.router.HandleFunc("/api/charts/categories", a.getCategoryChart).Methods(http.MethodGet)
	a.router.HandleFunc("/api/charts/top-rules", a.getTopRulesChart).Methods(http.MethodGet)
	a.router.HandleFunc("/api/charts/top-sources", a.getTopSourcesChart).Methods(http.MethodGet)

	a.router.HandleFunc("/api/transform", a.transform).Methods(http.MethodPost)

	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routed handler, for tests and embedding.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves on the configured listen address until Stop is called. It
// returns nil after a clean shutdown.
func (a *API) Start() error {
	goroutine.Go("api-rate-limiter-cleanup", a.logger, a.cleanupRateLimiters)

	a.logger.Infow("API server listening", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return a.server.Shutdown(ctx)
}
