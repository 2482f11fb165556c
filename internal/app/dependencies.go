package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/postgres"
)

// Dependencies содержит хранилище и репозитории приложения.
type Dependencies struct {
	Tx         domain.TxManager
	Orders     domain.OrderRepository
	Products   domain.ProductRepository
	PaymentLog domain.PaymentLogRepository
	Admins     domain.AdminRepository
	Outbox     domain.OutboxRepository
	Timeline   domain.TimelineRepository
	Logger     *log.Entry

	store *postgres.Store
}

// NewDependencies инициализирует хранилище по выбранному драйверу.
// In-memory вариант предназначен для локального запуска и тестов.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return newMemoryDependencies(cfg, logger), nil
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func newMemoryDependencies(cfg Config, logger *log.Entry) *Dependencies {
	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository()
	outbox := memory.NewOutboxRepository()

	return &Dependencies{
		Tx:         memory.NewTxManager(orders, products, outbox),
		Orders:     orders,
		Products:   products,
		PaymentLog: memory.NewPaymentLogRepository(),
		Admins:     memory.NewAdminRepository(cfg.AdminIDs...),
		Outbox:     outbox,
		Timeline:   memory.NewTimelineRepository(),
		Logger:     logger,
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres driver requires SHOPCORE_POSTGRES_DSN")
	}

	var storeOpts []postgres.Option
	if cfg.PostgresMaxConns > 0 {
		storeOpts = append(storeOpts, postgres.WithMaxConns(cfg.PostgresMaxConns))
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	for _, adminID := range cfg.AdminIDs {
		if err := postgres.AddAdmin(store, adminID, ""); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("provision admin %s: %w", adminID, err)
		}
	}

	return &Dependencies{
		Tx:         postgres.NewTxManager(store),
		Orders:     postgres.NewOrderRepository(store),
		Products:   postgres.NewProductRepository(store),
		PaymentLog: postgres.NewPaymentLogRepository(store),
		Admins:     postgres.NewAdminRepository(store),
		Outbox:     postgres.NewOutboxRepository(store),
		Timeline:   postgres.NewTimelineRepository(store),
		Logger:     logger,
		store:      store,
	}, nil
}

// Ping проверяет доступность хранилища; in-memory вариант всегда доступен.
func (d *Dependencies) Ping(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.store.Ping(ctx)
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
