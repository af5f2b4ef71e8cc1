package postgres

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/swarm-sync/internal/registry/migrate"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.HistoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := open(cfg.DBURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if err := sqlDB.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("failed to ping postgres: %w", err)
			}
			return gormstore.New(db, mapError), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.StoreMigrateAtStart {
		return nil
	}
	if cfg.StoreType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}
