package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for swarm-sync.
type Config struct {
	// History store backend: "memory", "sqlite", "postgres" or "mongo".
	StoreType string

	// Database URL (DSN for postgres, file path for sqlite, mongodb:// for mongo).
	DBURL string

	// Run store migrations on startup.
	StoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// History cache backend: "none", "local" or "redis".
	CacheType string

	// Redis, used by the redis cache and the redis command sink.
	RedisURL string

	// How long a cached history stays valid.
	CacheTTL time.Duration

	// Maximum total cost (approximate bytes) of the local cache.
	LocalCacheMaxCost int64

	// Command sink: "log" or "redis".
	CommandType string

	// Redis channel commands are published on.
	CommandChannel string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly
	// provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables access logging for /health, /ready and /metrics.
	ManagementAccessLog bool

	// Body size limit (bytes) for event ingest.
	MaxBodySize int64

	// CORS
	CORSEnabled bool
	CORSOrigins string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Nodes left unlinearized longer than AnomalyThreshold are reported.
	AnomalyThreshold    time.Duration
	AnomalyScanInterval time.Duration

	// DowngradeStatusOnUpdate forces a node's status back to SENDING on any
	// per-peer update other than SENDING or DISPLAYED.
	DowngradeStatusOnUpdate bool

	// Accounts maps account ids to the uri of their local user.
	Accounts map[string]string

	// AutoCreateAccounts registers unknown accounts on their first event.
	AutoCreateAccounts bool

	// EventFilter is a jq expression applied to ingested feed documents.
	EventFilter string

	// Authentication. With neither set the API is open.
	OIDCIssuer string
	APIKeys    map[string]string // key value -> client id

	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreType:           "memory",
		StoreMigrateAtStart: true,
		DBMaxOpenConns:      25,
		DBMaxIdleConns:      5,
		CacheType:           "none",
		CacheTTL:            10 * time.Minute,
		LocalCacheMaxCost:   64 * 1024 * 1024,
		CommandType:         "log",
		CommandChannel:      "swarm-sync.commands",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MaxBodySize:         8 * 1024 * 1024,
		DrainTimeout:        30,
		MetricsLabels:       "service=swarm-sync",
		AnomalyThreshold:    5 * time.Minute,
		AnomalyScanInterval: 30 * time.Second,
		AutoCreateAccounts:  true,
		Accounts:            map[string]string{},
		APIKeys:             map[string]string{},
		LogLevel:            "info",
	}
}
