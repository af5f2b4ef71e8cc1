package serve

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	registrycache "github.com/chirino/swarm-sync/internal/registry/cache"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/swarm-sync/internal/plugin/cache/local"
	_ "github.com/chirino/swarm-sync/internal/plugin/cache/noop"
	_ "github.com/chirino/swarm-sync/internal/plugin/cache/redis"
	_ "github.com/chirino/swarm-sync/internal/plugin/command/logsink"
	_ "github.com/chirino/swarm-sync/internal/plugin/command/redis"
	_ "github.com/chirino/swarm-sync/internal/plugin/route/accounts"
	_ "github.com/chirino/swarm-sync/internal/plugin/route/events"
	_ "github.com/chirino/swarm-sync/internal/plugin/route/system"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/memory"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/mongo"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/postgres"
	_ "github.com/chirino/swarm-sync/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	opts := &options{readHeaderTimeoutSecs: 5}
	return &cli.Command{
		Name:  "serve",
		Usage: "Ingest the event feed and serve conversation state over HTTP",
		Flags: flags(&cfg, opts),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := opts.apply(&cfg); err != nil {
				return err
			}
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

// options holds flag values that need parsing before they land in Config.
type options struct {
	readHeaderTimeoutSecs int
	cacheTTL              string
	localCacheSize        string
	anomalyThreshold      string
	anomalyInterval       string
	accounts              string
}

func (o *options) apply(cfg *config.Config) error {
	cfg.Listener.ReadHeaderTimeout = time.Duration(o.readHeaderTimeoutSecs) * time.Second
	cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout

	for _, d := range []struct {
		name string
		raw  string
		dest *time.Duration
	}{
		{"cache-ttl", o.cacheTTL, &cfg.CacheTTL},
		{"anomaly-threshold", o.anomalyThreshold, &cfg.AnomalyThreshold},
		{"anomaly-scan-interval", o.anomalyInterval, &cfg.AnomalyScanInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := config.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", d.name, err)
		}
		*d.dest = v
	}
	if o.localCacheSize != "" {
		size, err := config.ParseMemorySize(o.localCacheSize)
		if err != nil {
			return fmt.Errorf("invalid --local-cache-size: %w", err)
		}
		cfg.LocalCacheMaxCost = size
	}
	if o.accounts != "" {
		accounts, err := config.ParseAccounts(o.accounts)
		if err != nil {
			return fmt.Errorf("invalid --accounts: %w", err)
		}
		for id, user := range accounts {
			cfg.Accounts[id] = user
		}
	}
	return nil
}

func flags(cfg *config.Config, opts *options) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: &opts.readHeaderTimeoutSecs,
			Value:       opts.readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Time allowed for in-flight requests to finish on shutdown",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("SWARM_SYNC_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("SWARM_SYNC_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("SWARM_SYNC_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("SWARM_SYNC_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("SWARM_SYNC_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("SWARM_SYNC_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("SWARM_SYNC_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── History Store ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "store-kind",
			Category:    "History Store:",
			Sources:     cli.EnvVars("SWARM_SYNC_STORE_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "History store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "History Store:",
			Sources:     cli.EnvVars("SWARM_SYNC_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres DSN, sqlite file, mongodb:// URL)",
		},
		&cli.BoolFlag{
			Name:        "store-migrate-at-start",
			Category:    "History Store:",
			Sources:     cli.EnvVars("SWARM_SYNC_STORE_MIGRATE_AT_START"),
			Destination: &cfg.StoreMigrateAtStart,
			Value:       cfg.StoreMigrateAtStart,
			Usage:       "Create or update the store schema on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "History Store:",
			Sources:     cli.EnvVars("SWARM_SYNC_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "History Store:",
			Sources:     cli.EnvVars("SWARM_SYNC_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("SWARM_SYNC_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "History cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("SWARM_SYNC_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL, shared by the redis cache and the redis command sink",
		},
		&cli.StringFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("SWARM_SYNC_CACHE_TTL"),
			Destination: &opts.cacheTTL,
			Usage:       "How long a cached history stays valid (e.g. 10m or PT10M)",
		},
		&cli.StringFlag{
			Name:        "local-cache-size",
			Category:    "Cache:",
			Sources:     cli.EnvVars("SWARM_SYNC_LOCAL_CACHE_SIZE"),
			Destination: &opts.localCacheSize,
			Usage:       "Approximate memory budget of the local cache (e.g. 64M)",
		},

		// ── Commands ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "command-kind",
			Category:    "Commands:",
			Sources:     cli.EnvVars("SWARM_SYNC_COMMAND_KIND"),
			Destination: &cfg.CommandType,
			Value:       cfg.CommandType,
			Usage:       "Command sink for local actions (" + strings.Join(registrycommand.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "command-channel",
			Category:    "Commands:",
			Sources:     cli.EnvVars("SWARM_SYNC_COMMAND_CHANNEL"),
			Destination: &cfg.CommandChannel,
			Value:       cfg.CommandChannel,
			Usage:       "Redis channel commands are published on",
		},

		// ── Accounts ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "accounts",
			Category:    "Accounts:",
			Sources:     cli.EnvVars("SWARM_SYNC_ACCOUNTS"),
			Destination: &opts.accounts,
			Usage:       "Comma-separated id=uri account declarations",
		},
		&cli.BoolFlag{
			Name:        "auto-create-accounts",
			Category:    "Accounts:",
			Destination: &cfg.AutoCreateAccounts,
			Value:       cfg.AutoCreateAccounts,
			Usage:       "Register unknown accounts on their first event",
		},
		&cli.StringFlag{
			Name:        "event-filter",
			Category:    "Accounts:",
			Sources:     cli.EnvVars("SWARM_SYNC_EVENT_FILTER"),
			Destination: &cfg.EventFilter,
			Usage:       "jq expression reshaping ingested feed documents into events",
		},
		&cli.BoolFlag{
			Name:        "downgrade-status-on-update",
			Category:    "Accounts:",
			Sources:     cli.EnvVars("SWARM_SYNC_DOWNGRADE_STATUS_ON_UPDATE"),
			Destination: &cfg.DowngradeStatusOnUpdate,
			Usage:       "Reset a message to SENDING on any per-peer update other than SENDING or DISPLAYED",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("SWARM_SYNC_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL (enables bearer token auth)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("SWARM_SYNC_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
		&cli.StringFlag{
			Name:        "anomaly-threshold",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("SWARM_SYNC_ANOMALY_THRESHOLD"),
			Destination: &opts.anomalyThreshold,
			Usage:       "Report messages still waiting for an ancestor after this long (e.g. 5m)",
		},
		&cli.StringFlag{
			Name:        "anomaly-scan-interval",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("SWARM_SYNC_ANOMALY_SCAN_INTERVAL"),
			Destination: &opts.anomalyInterval,
			Usage:       "How often to scan for stuck messages",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

// maxBodySizeMiddleware caps request bodies. Stream routes carry no body.
func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil && c.Request.Method != http.MethodGet {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
