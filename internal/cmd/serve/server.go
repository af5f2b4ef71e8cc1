package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/feed"
	"github.com/chirino/swarm-sync/internal/metrics"
	routesystem "github.com/chirino/swarm-sync/internal/plugin/route/system"
	storemetrics "github.com/chirino/swarm-sync/internal/plugin/store/metrics"
	registrycache "github.com/chirino/swarm-sync/internal/registry/cache"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
	registrymigrate "github.com/chirino/swarm-sync/internal/registry/migrate"
	registryroute "github.com/chirino/swarm-sync/internal/registry/route"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/chirino/swarm-sync/internal/security"
	"github.com/chirino/swarm-sync/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Engine          *engine.Engine
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown stops accepting requests, drains in-flight ones and tears the
// engine down.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	if closeErr := s.Engine.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting swarm-sync",
		"port", cfg.Listener.Port,
		"store", cfg.StoreType,
		"cache", cfg.CacheType,
		"commands", cfg.CommandType,
		"accounts", len(cfg.Accounts),
	)

	metricsLabels, err := metrics.ParseLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.Init(metricsLabels)

	filter, err := feed.CompileFilter(cfg.EventFilter)
	if err != nil {
		return nil, fmt.Errorf("invalid --event-filter: %w", err)
	}

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// The cache is optional: a missing backend degrades to store-only reads.
	var cache registrycache.HistoryCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if cache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		cache = nil
	}

	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	sinkLoader, err := registrycommand.Select(cfg.CommandType)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sink, err := sinkLoader(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize command sink: %w", err)
	}

	eng := engine.New(cfg, store, cache, sink)

	resolver, err := security.NewTokenResolver(ctx, cfg)
	if err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("failed to initialize authentication: %w", err)
	}
	auth := security.AuthMiddleware(resolver)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(metrics.Middleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	deps := registryroute.Deps{Engine: eng, Filter: filter, Auth: auth}
	if err := registryroute.Mount(router, registryroute.RouteTypeMain, deps); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	// Management routes get their own port when one is configured, and share
	// the main router otherwise.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.RouteTypeManagement, registryroute.Deps{}); err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		if !mgmtCfg.EnablePlainText && !mgmtCfg.EnableTLS {
			mgmtCfg.EnablePlainText = true
		}
		mgmt, err := StartSinglePort("management", mgmtCfg, mgmtRouter)
		if err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "addr", mgmt.Addr)
		closeManagement = mgmt.Close
	} else if err := registryroute.Mount(router, registryroute.RouteTypeManagement, deps); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("failed to load management routes: %w", err)
	}

	running, err := StartSinglePort("main", cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(ctx)
		}
		_ = eng.Close()
		return nil, err
	}
	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	anomalies := service.NewAnomalyService(eng, cfg.AnomalyScanInterval, cfg.AnomalyThreshold)
	go anomalies.Start(ctx)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Engine:          eng,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}
