package replay

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/feed"
	registrymigrate "github.com/chirino/swarm-sync/internal/registry/migrate"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/swarm-sync/internal/plugin/store/memory"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/mongo"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/postgres"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/sqlite"
)

// Command returns the replay sub-command. It applies a recorded event feed
// to the history store, e.g. to rebuild a store from a capture.
func Command() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Apply a recorded event feed (JSON lines or arrays) to the history store",
		ArgsUsage: "<file|->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store-kind",
				Sources: cli.EnvVars("SWARM_SYNC_STORE_KIND"),
				Usage:   "History store",
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("SWARM_SYNC_DB_URL"),
				Usage:   "Database connection URL",
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "Apply every event to this account",
			},
			&cli.StringFlag{
				Name:    "filter",
				Sources: cli.EnvVars("SWARM_SYNC_EVENT_FILTER"),
				Usage:   "jq expression reshaping feed documents into events",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one feed file (use - for stdin)")
			}
			cfg := config.DefaultConfig()
			cfg.StoreType = cmd.String("store-kind")
			cfg.DBURL = cmd.String("db-url")
			cfg.EventFilter = cmd.String("filter")
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}

			in := io.Reader(os.Stdin)
			if name := cmd.Args().First(); name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			applied, err := Run(config.WithContext(ctx, &cfg), &cfg, cmd.String("account"), in)
			log.Info("Replay finished", "applied", applied)
			return err
		},
	}
}

// Run decodes the feed read from in and applies it to an engine backed by
// the configured store.
func Run(ctx context.Context, cfg *config.Config, account string, in io.Reader) (int, error) {
	filter, err := feed.CompileFilter(cfg.EventFilter)
	if err != nil {
		return 0, fmt.Errorf("invalid filter: %w", err)
	}
	events, err := feed.Decode(in, filter)
	if err != nil {
		return 0, err
	}

	if err := registrymigrate.RunAll(ctx); err != nil {
		return 0, fmt.Errorf("migrations failed: %w", err)
	}
	loader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return 0, err
	}
	store, err := loader(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize store: %w", err)
	}

	eng := engine.New(cfg, store, nil, nil)
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("Close failed", "err", err)
		}
	}()
	return feed.Dispatch(ctx, eng, account, events)
}
