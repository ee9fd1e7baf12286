package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"argus/api"
	"argus/backend"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// apiShutdownTimeout bounds in-flight requests at shutdown.
const apiShutdownTimeout = 30 * time.Second

// App holds every long-lived component of a running Argus instance.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage     *StorageComponents
	Transformer *detect.QueryTransformer
	Connector   *backend.ResilientConnector
	Rules       *service.RuleRepository
	Engine      *detect.Engine
	Pool        *core.WorkerPool
	Dashboard   *service.Dashboard
	APIServer   *api.API

	shutdownOnce sync.Once
}

// NewApp initializes all components. On error anything already opened is
// released.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Sugar:  logger.Sugar(),
	}
	ok := false
	defer func() {
		if !ok {
			app.Shutdown()
		}
	}()
	sugar := app.Sugar
	sugar.Info("Argus starting...")

	sc, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = sc

	table, err := InitMappings(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Transformer = detect.NewQueryTransformer(table)

	app.Connector, err = InitConnector(cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Rules, err = LoadRules(ctx, cfg, sc.RuleState, sugar)
	if err != nil {
		return nil, err
	}

	app.Engine, app.Pool, err = InitEngine(ctx, cfg, app.Rules, app.Transformer, app.Connector, sc.Alerts, sc.History, sugar)
	if err != nil {
		return nil, err
	}

	candidates, _ := table.Lookup(cfg.Engine.SourceDimension)
	opts := []service.DashboardOption{
		service.WithHistory(sc.History),
		service.WithSourceFields(service.SourceFields(cfg.Engine.SourceDimension, candidates)),
		service.WithHealthCheck("state_db", sc.SQLite.HealthCheck),
		service.WithHealthCheck("workers", poolCheck(app.Pool)),
	}
	if sc.Redis != nil {
		opts = append(opts, service.WithHealthCheck("redis", func(ctx context.Context) error {
			return sc.Redis.Ping(ctx).Err()
		}))
	}
	if sc.ClickHouse != nil {
		opts = append(opts, service.WithHealthCheck("clickhouse", sc.ClickHouse.HealthCheck))
	}
	app.Dashboard = service.NewDashboard(app.Rules, app.Engine, sc.Alerts, app.Transformer, app.Connector, sugar, opts...)
	app.APIServer = api.NewAPI(app.Dashboard, cfg.API, sugar)

	ok = true
	return app, nil
}

// Run serves the API and, when a schedule interval is configured, executes
// all enabled rules on that interval. It returns once ctx is done and the
// API server has drained, or when either component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.APIServer.Start(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if interval := a.Config.Engine.ScheduleInterval; interval > 0 {
		g.Go(func() error {
			return a.Engine.RunScheduled(gctx, interval)
		})
	} else {
		a.Sugar.Info("No schedule interval configured; rules run on demand only")
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		if err := a.APIServer.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// Shutdown stops the worker pool and closes storage. It is safe to call
// more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		if a.Pool != nil {
			a.Pool.Stop()
		}
		if a.Storage != nil {
			a.Storage.Close(a.Sugar)
		}

		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
}

func poolCheck(pool *core.WorkerPool) service.HealthCheck {
	return func(context.Context) error {
		stats := pool.Stats()
		if !stats.Running {
			return core.ErrWorkerPoolNotRunning
		}
		if stats.Slots > 0 && stats.Queued == stats.Slots {
			return fmt.Errorf("%w: %d tasks waiting", core.ErrWorkerPoolQueueFull, stats.Queued)
		}
		return nil
	}
}
