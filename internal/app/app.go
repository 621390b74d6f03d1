package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kiesh/exchange-core/internal/config"
	"github.com/kiesh/exchange-core/internal/engine"
	"github.com/kiesh/exchange-core/internal/infra/closer"
	"github.com/kiesh/exchange-core/internal/infra/db"
	"github.com/kiesh/exchange-core/internal/infrastructure/kafka"
	"github.com/kiesh/exchange-core/internal/infrastructure/redis"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/migrations"
)

// App wires the exchange core and keeps it alive behind a metrics endpoint.
// The engine itself is embedded, callers reach it through Engine().
type App struct {
	diContainer *DiContainer

	dbPool        *pgxpool.Pool
	redisClient   *goredis.Client
	notifier      engine.TickNotifier
	limiter       engine.RateLimiter
	metricsServer *http.Server

	config config.Config
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{
		config: cfg,
	}

	if err := app.setupDeps(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

func (a *App) Engine(ctx context.Context) *engine.Engine {
	return a.diContainer.Engine(ctx)
}

func (a *App) Start(ctx context.Context) error {
	return a.runMetricsServer(ctx)
}

func (a *App) setupDeps(ctx context.Context) error {
	setups := []func(ctx context.Context) error{
		a.setupLogger,
		a.setupCloser,
		a.setupDB,
		a.setupRateLimiter,
		a.setupNotifier,
		a.setupDI,
		a.setupMetricsServer,
	}

	for _, init := range setups {
		if err := init(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) setupLogger(_ context.Context) error {
	logger.Init(a.config.LogLevel, a.config.LogJSON)
	return nil
}

func (a *App) setupCloser(_ context.Context) error {
	closer.AddNamed("zap logger sync", func(ctx context.Context) error {
		_ = logger.Sync()
		return nil
	})

	return nil
}

func (a *App) setupDB(ctx context.Context) error {
	pool, err := db.SetupDB(ctx, a.config.DBURI, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("db.SetupDB: %w", err)
	}

	a.dbPool = pool

	closer.AddNamed("Postgres pool", func(ctx context.Context) error {
		a.dbPool.Close()
		return nil
	})

	return nil
}

func (a *App) setupRateLimiter(ctx context.Context) error {
	if !a.config.Redis.Enabled() {
		a.limiter = engine.NopLimiter{}
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     a.config.Redis.Address,
		Password: a.config.Redis.Password,
		DB:       a.config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	a.redisClient = client
	a.limiter = redis.NewPlaceRateLimiter(client, a.config.RateLimit.PlaceLimit, a.config.RateLimit.PlaceWindow)

	closer.AddNamed("Redis client", func(ctx context.Context) error {
		return a.redisClient.Close()
	})

	return nil
}

func (a *App) setupNotifier(_ context.Context) error {
	if !a.config.Kafka.Enabled() {
		a.notifier = engine.NopNotifier{}
		return nil
	}

	notifier, err := kafka.NewTickNotifier(a.config.Kafka.Brokers, a.config.Kafka.TickTopic, a.config.CircuitBreaker)
	if err != nil {
		return fmt.Errorf("kafka.NewTickNotifier: %w", err)
	}

	a.notifier = notifier

	closer.AddNamed("Kafka tick notifier", func(ctx context.Context) error {
		return notifier.Close()
	})

	return nil
}

func (a *App) setupDI(_ context.Context) error {
	a.diContainer = NewDIContainer(a.dbPool, a.notifier, a.limiter)
	return nil
}

func (a *App) setupMetricsServer(_ context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:              a.config.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	closer.AddNamed("metrics server", func(ctx context.Context) error {
		return a.metricsServer.Shutdown(ctx)
	})

	return nil
}

func (a *App) runMetricsServer(ctx context.Context) error {
	logger.Info(ctx, "metrics server listening on "+a.config.MetricsAddress)

	if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}
