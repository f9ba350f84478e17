// Package app wires the stores, clients and services shared by the HTTP
// server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"rental-service/config"
	"rental-service/internal/broker"
	"rental-service/internal/catalog"
	"rental-service/internal/confirm"
	"rental-service/internal/redisclient"
	"rental-service/internal/service"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

const (
	startupLockKey = "startup-reconcile"
	startupLockTTL = 2 * time.Minute
)

// App holds the wired components
type App struct {
	Config *config.Config

	Repo     store.Repository
	Redis    *redisclient.Client
	Telegram *confirm.Telegram

	Pool         *service.UnitPool
	Availability *service.Availability
	Allocator    *service.Allocator
	Orders       *service.OrderService
	Inventory    *service.InventoryService

	Actions *broker.ActionPublisher

	producers []*broker.Producer
	logger    *zap.Logger
}

// Options switches off the outer integrations the CLI does not need
type Options struct {
	SkipKafka bool
	SkipRedis bool
}

// New connects to the configured backends and builds the services
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, logger: util.GetLogger()}

	repo, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.Repo = repo

	var cache service.OccupancyCache
	if cfg.Redis.Enabled && !opts.SkipRedis {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.OccupancyTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = rc
		cache = rc
		a.logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher service.Publisher
	if cfg.Kafka.Enabled && !opts.SkipKafka {
		events := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		actions := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicActions)
		a.producers = append(a.producers, events, actions)
		publisher = broker.NewEventPublisher(events)
		a.Actions = broker.NewActionPublisher(actions)
		a.logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var channel service.ConfirmationChannel = confirm.NewLog()
	if cfg.Telegram.Enabled() {
		a.Telegram = confirm.NewTelegram(confirm.TelegramConfig{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
			APIURL: cfg.Telegram.APIURL,
		})
		channel = a.Telegram
	}
	a.logger.Info("Confirmation channel selected", zap.String("channel", channel.Name()))

	a.Pool = service.NewUnitPool(repo, publisher, cache)
	a.Availability = service.NewAvailability(repo, cache)
	a.Allocator = service.NewAllocator(repo, a.Pool, cache)
	a.Orders = service.NewOrderService(repo, a.Allocator, publisher, channel)
	a.Inventory = service.NewInventoryService(repo, a.Pool, a.Availability, a.Allocator)
	return a, nil
}

// Migrate applies the schema when the store manages one
func (a *App) Migrate(ctx context.Context) error {
	if m, ok := a.Repo.(store.Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}

// SeedCatalog applies the configured catalog file, if any
func (a *App) SeedCatalog(ctx context.Context, path string) (*service.CatalogResult, error) {
	if path == "" {
		return &service.CatalogResult{}, nil
	}
	entries, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return a.Inventory.ApplyCatalog(ctx, entries)
}

// Startup seeds the catalog and repairs every unit pool. With Redis the work
// runs on one instance only.
func (a *App) Startup(ctx context.Context) error {
	if a.Redis != nil {
		lock, err := a.Redis.AcquireLock(ctx, startupLockKey, startupLockTTL)
		if err != nil {
			return err
		}
		if lock == nil {
			a.logger.Info("Startup reconciliation running elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				a.logger.Warn("Failed to release startup lock", zap.Error(err))
			}
		}()
	}

	seeded, err := a.SeedCatalog(ctx, a.Config.Catalog.SeedFile)
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	repaired, err := a.Pool.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile unit pools: %w", err)
	}

	a.logger.Info("Startup reconciliation finished",
		zap.Int("created", seeded.Created),
		zap.Int("updated", seeded.Updated),
		zap.Int("repaired", repaired))
	return nil
}

// Ready reports whether the backends answer
func (a *App) Ready(ctx context.Context) error {
	if s, ok := a.Repo.(*store.Store); ok {
		if err := s.GetDB().PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases every connection
func (a *App) Close() {
	for _, p := range a.producers {
		if err := p.Close(); err != nil {
			a.logger.Warn("Failed to close Kafka producer", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			a.logger.Warn("Failed to close store", zap.Error(err))
		}
	}
}
