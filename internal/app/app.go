// Package app wires the shared dependencies of the api and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/store"
	"rollcall/internal/syncqueue"
)

// App holds the long-lived components of one process.
type App struct {
	Config   config.App
	DB       *store.DB
	Redis    *store.Redis
	Metrics  *metrics.Metrics
	Roster   *attendance.SQLRoster
	Records  *attendance.Repository
	Ledger   *attendance.Ledger
	Settings *attendance.CachedSettings
	Service  *attendance.Service
	Work     queue.Queue

	// Nil when no sync upstream is configured.
	SyncQueue  *syncqueue.Queue
	Reconciler *syncqueue.Reconciler
}

// Build connects to storage and assembles the attendance pipeline.
func Build(ctx context.Context, cfg config.App, reg prometheus.Registerer) (*App, error) {
	log := logging.Logger("app")

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db, Redis: store.NewRedis(cfg.RedisAddr)}
	if a.Redis.Client != nil && !a.Redis.Healthy(ctx) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable, continuing")
	}

	switch cfg.QueueBackend {
	case "memory":
		a.Work = queue.NewInMemory(64)
	default:
		if a.Redis.Client == nil {
			a.Close()
			return nil, errors.New("queue_backend redis requires redis_addr")
		}
		a.Work = queue.NewRedisQueue(a.Redis.Client, cfg.QueueKey)
	}

	a.Metrics = metrics.New(reg)
	a.Roster = attendance.NewSQLRoster(db.Client)
	a.Records = attendance.NewRepository(db, nil)
	a.Ledger = attendance.NewLedger(db, a.Roster, a.Redis.Client, a.Metrics)
	a.Settings = attendance.NewCachedSettings(attendance.NewSQLSettings(db.Client), a.Redis.Client, cfg.SettingsCacheTTL)

	opts := []attendance.Option{attendance.WithMetrics(a.Metrics)}
	if cfg.SyncUpstreamURL != "" {
		tokens := auth.NewServiceTokens(cfg.NodeName, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.ServiceTTL)
		sender := syncqueue.NewHTTPSender(cfg.SyncUpstreamURL, tokens)
		a.SyncQueue = syncqueue.New(a.Records, sender, nil, syncqueue.Config{
			BatchSize:  cfg.SyncBatchSize,
			Timeout:    cfg.SyncTimeout,
			RetryDelay: cfg.SyncRetryDelay,
		}, a.Metrics)
		a.Reconciler = syncqueue.NewReconciler(a.Records, sender, cfg.SyncTimeout, a.Metrics)
		opts = append(opts, attendance.WithQueue(a.SyncQueue))
		log.Info().Str("upstream", cfg.SyncUpstreamURL).Msg("sync upstream configured")
	}
	a.Service = attendance.NewService(a.Records, a.Ledger, a.Settings, a.Roster, cfg.Location(), opts...)
	return a, nil
}

// Checks returns the dependency probes served on /healthz.
func (a *App) Checks() map[string]func(context.Context) bool {
	checks := map[string]func(context.Context) bool{"db": a.DB.Healthy}
	if a.Redis.Client != nil {
		checks["redis"] = a.Redis.Healthy
	}
	return checks
}

// Close flushes the sync queue and releases connections.
func (a *App) Close() {
	log := logging.Logger("app")
	if a.SyncQueue != nil {
		a.SyncQueue.Close()
	}
	if err := a.Redis.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("close db")
	}
}

// SeedToday runs the daily seeding pass for the current day.
func (a *App) SeedToday(ctx context.Context) error {
	day := a.Service.Today()
	n, err := a.Ledger.Seed(ctx, day)
	if err != nil {
		return fmt.Errorf("seed %s: %w", day.Key, err)
	}
	logging.Logger("app").Info().Str("day", day.Key).Int("created", n).Msg("scheduled seeding done")
	return nil
}
