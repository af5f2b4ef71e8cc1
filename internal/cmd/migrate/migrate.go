package migrate

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	registrymigrate "github.com/chirino/swarm-sync/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their loaders.
	_ "github.com/chirino/swarm-sync/internal/plugin/store/mongo"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/postgres"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the history store schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("SWARM_SYNC_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "store-kind",
				Sources: cli.EnvVars("SWARM_SYNC_STORE_KIND"),
				Usage:   "History store (postgres|sqlite|mongo)",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.StoreType = cmd.String("store-kind")
			cfg.StoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "store", cfg.StoreType, "migrators", strings.Join(registrymigrate.Names(), ","))
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
