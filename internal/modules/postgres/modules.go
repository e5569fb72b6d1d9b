package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"alpha_bot/internal/modules/config"
	pgstore "alpha_bot/internal/storage/postgres"
	"alpha_bot/pkg/db"
)

// NewStore поднимает пул и схему. Без db_dsn возвращает nil: статистика только в файлах.
func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*pgstore.Store, error) {
	if cfg.DB == "" {
		log.Info("db_dsn not set, postgres sink disabled")
		return nil, nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      cfg.DB,
		MaxConns: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, err
	}

	tx := db.NewPgTxManager(poolMaster)
	store := pgstore.NewStore(tx)
	if err := store.Migrate(ctx); err != nil {
		tx.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	log.Info("postgres sink ready")
	return store, nil
}

// Module — опциональный постгрес-приёмник статистики.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(NewStore),
	)
}
