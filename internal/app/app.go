// Package app wires the configured store, locks and services for the
// binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/example/hotel-refunds/internal/arbitration"
	"github.com/example/hotel-refunds/internal/arbitrators"
	"github.com/example/hotel-refunds/internal/config"
	"github.com/example/hotel-refunds/internal/disputes"
	"github.com/example/hotel-refunds/internal/idgen"
	"github.com/example/hotel-refunds/internal/locks"
	"github.com/example/hotel-refunds/internal/payout"
	"github.com/example/hotel-refunds/internal/refunds"
	"github.com/example/hotel-refunds/internal/store"
	"github.com/example/hotel-refunds/internal/store/memory"
	"github.com/example/hotel-refunds/internal/store/postgres"
	"github.com/example/hotel-refunds/internal/store/sqlite"
)

// App holds the services shared by every binary.
type App struct {
	Store       store.Store
	Redis       *redis.Client
	Locker      locks.Locker
	Controller  *disputes.Controller
	Refunds     *refunds.Service
	Arbitrators *arbitrators.Directory
	Engine      *arbitration.Engine
}

// OpenStore opens the store selected by DATABASE_URL.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver() {
	case "postgres":
		return postgres.Open(ctx, cfg.DatabaseURL)
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath())
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported DATABASE_URL %q", cfg.DatabaseURL)
}

// New opens the store and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ids, err := idgen.New(cfg.SnowflakeNode)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{Store: st}
	opts := locks.DefaultOptions()
	opts.TTL = cfg.Lock.TTL
	opts.MaxAttempts = cfg.Lock.MaxAttempts
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.Locker = locks.NewRedisLocker(a.Redis, "hotel_refunds", opts)
	} else {
		logger.Warn("REDIS_ADDR not set, case locks are local to this process")
		a.Locker = locks.NewLocalLocker(opts)
	}

	factory := arbitration.NewCaseFactory(ids, cfg.ArbitrationPolicy)
	a.Controller = disputes.NewController(st, factory, ids, logger)
	a.Refunds = refunds.NewService(st, a.Controller, ids, logger)
	a.Arbitrators = arbitrators.NewDirectory(st, ids, logger)
	a.Engine = arbitration.NewEngine(st, a.Locker, factory, a.Controller, logger)
	return a, nil
}

// NewDispatcher builds the outbox dispatcher. Events go to Kafka when brokers
// are configured and to the log otherwise.
func (a *App) NewDispatcher(cfg *config.Config, logger *slog.Logger) (*payout.Dispatcher, payout.Publisher, error) {
	var pub payout.Publisher = payout.LogPublisher{Logger: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := payout.NewKafkaPublisher(payout.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		pub = kp
	}
	return payout.NewDispatcher(a.Store, pub, cfg.Outbox.BatchSize, cfg.Outbox.PollInterval, logger), pub, nil
}

// Close releases the store and the Redis client.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
