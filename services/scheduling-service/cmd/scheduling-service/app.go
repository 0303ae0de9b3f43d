package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/libs/db"
	"github.com/dteedee/medix/libs/kafkax"
	"github.com/dteedee/medix/libs/runtime"
	"github.com/dteedee/medix/services/scheduling-service/internal/availability"
	"github.com/dteedee/medix/services/scheduling-service/internal/booking"
	"github.com/dteedee/medix/services/scheduling-service/internal/lifecycle"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
	"github.com/dteedee/medix/services/scheduling-service/internal/reconcile"
	"github.com/dteedee/medix/services/scheduling-service/internal/schedule"
	"github.com/dteedee/medix/services/scheduling-service/internal/slotcache"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    settings
	logger *slog.Logger
	clock  clock.Clock

	pool  *db.Pool
	store storage.Store
	redis *redis.Client

	resolver   *availability.Resolver
	guard      *booking.Guard
	lifecycle  *lifecycle.Manager
	schedule   *schedule.Service
	reconciler *reconcile.Reconciler
	publisher  *outbox.Publisher

	checks []runtime.ReadyCheck
}

func newApp(ctx context.Context, cfg settings, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, clock: clock.System()}

	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		a.store = storage.NewMemory()
	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = storage.NewPostgres(pool)
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
		a.publisher = outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
			Brokers:   cfg.Kafka,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		if brokers := kafkax.SplitBrokers(cfg.Kafka); len(brokers) > 0 {
			a.checks = append(a.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	}

	var cache availability.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		cache = slotcache.NewRedis(a.redis, cfg.SlotCacheTTL, logger)
		a.checks = append(a.checks, runtime.ReadyCheck{Name: "redis", Check: slotcache.ReadyCheck(a.redis)})
	}

	a.resolver = availability.NewResolver(a.store, a.clock, logger, availability.Config{Location: cfg.Location, Cache: cache})
	a.guard = booking.NewGuard(a.store, a.resolver, a.clock, logger, cfg.Booking)
	a.lifecycle = lifecycle.NewManager(a.store, a.resolver, a.clock, logger, cfg.Refunds)
	a.schedule = schedule.NewService(a.store, a.resolver, a.clock, cfg.Location, logger)
	a.reconciler = reconcile.NewReconciler(a.store, a.clock, cfg.Location, logger, cfg.ReconcileInterval)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}
