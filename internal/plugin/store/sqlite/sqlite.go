package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/swarm-sync/internal/registry/migrate"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.HistoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := open(cfg.DBURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// sqlite serializes writers; one connection avoids SQLITE_BUSY.
			sqlDB.SetMaxOpenConns(1)
			return gormstore.New(db, mapError), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func open(path string) (*gorm.DB, error) {
	if path == "" {
		path = "swarm-sync.db"
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return &registrystore.ConflictError{Message: sqliteErr.Error(), Code: "primary_key"}
	}
	return err
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.StoreMigrateAtStart {
		return nil
	}
	if cfg.StoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: failed to open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(&gormstore.Interaction{}); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
