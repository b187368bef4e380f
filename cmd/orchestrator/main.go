package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/cluster"
	"github.com/beamline/botfleet/internal/config"
	"github.com/beamline/botfleet/internal/handler"
	"github.com/beamline/botfleet/internal/health"
	"github.com/beamline/botfleet/internal/hooks"
	"github.com/beamline/botfleet/internal/lifecycle"
	"github.com/beamline/botfleet/internal/metrics"
	"github.com/beamline/botfleet/internal/pipeline"
	"github.com/beamline/botfleet/internal/revision"
	"github.com/beamline/botfleet/internal/service"
	"github.com/beamline/botfleet/internal/store"
	"github.com/beamline/botfleet/internal/util/workerpool"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	// Create data directories
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Storage.ArchiveDir, 0755); err != nil {
		logger.Fatal("Failed to create archive directory", zap.Error(err))
	}

	// Initialize stores
	configStore, err := store.NewPostgresConfigStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize config store", zap.Error(err))
	}
	defer configStore.Close()

	stateStore, err := store.NewFSStateStore(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize state store", zap.Error(err))
	}

	archiveStore, err := store.NewFSArchiveStore(cfg.Storage.ArchiveDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize archive store", zap.Error(err))
	}

	var clusterStore store.ClusterStore
	if cfg.Redis.Enabled {
		clusterStore, err = store.NewRedisClusterStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize shared state store", zap.Error(err))
		}
		defer clusterStore.Close()
	}

	// Cached config service
	cache := store.NewInMemoryCache(cfg.Cache.MaxSize, logger)
	configSvc := service.NewConfigService(configStore, cache, cfg.Cache.ConfigTTL, logger)

	// Load pipeline definition
	pipelineDef, err := pipeline.LoadDefinition(cfg.Pipeline.DefinitionPath)
	if err != nil {
		logger.Fatal("Failed to load pipeline definition", zap.Error(err))
	}
	if pipelineDef.Enabled() {
		logger.Info("Promotion pipeline enabled",
			zap.Int("stages", len(pipelineDef.Stages)))
	}

	// Hook bus. Promotion gating is a hook like any other.
	hookBus := hooks.NewBus(logger)
	if cfg.Pipeline.MinApprovals > 0 {
		hookBus.OnStageChangeRequest(hooks.RequireApprovals(cfg.Pipeline.MinApprovals))
	}

	// Health aggregation
	healthAgg := health.NewAggregator(
		cfg.Server.NodeID,
		clusterStore,
		cfg.Health.FlushInterval,
		cfg.Health.SnapshotTTL,
		logger,
	)
	healthAgg.Start()
	defer healthAgg.Stop()

	// Node-local lifecycle
	registry := lifecycle.NewMountedRegistry()
	coordinator := lifecycle.NewCoordinator(configSvc, stateStore, registry, healthAgg, hookBus, nil, logger)

	// Cluster membership and broadcast fan-out
	advertiseAddr := cfg.Server.AdvertiseAddr
	if advertiseAddr == "" {
		advertiseAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	var peers cluster.PeerLister
	if cfg.ClusterIn.Enabled {
		membership, err := cluster.NewMembership(
			&cluster.MembershipConfig{
				BindPort:       cfg.ClusterIn.BindPort,
				SeedNodes:      cfg.ClusterIn.SeedNodes,
				GossipInterval: cfg.ClusterIn.GossipInterval,
				ProbeTimeout:   cfg.ClusterIn.ProbeTimeout,
				ProbeInterval:  cfg.ClusterIn.ProbeInterval,
			},
			cfg.Server.NodeID,
			advertiseAddr,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to join cluster", zap.Error(err))
		}
		defer membership.Shutdown()
		peers = membership
	}

	broadcastPool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "broadcast",
		MaxWorkers: cfg.Broadcast.MaxWorkers,
		QueueSize:  cfg.Broadcast.QueueSize,
		Logger:     logger,
	})
	defer broadcastPool.Stop(5 * time.Second)

	nodeClient := cluster.NewNodeClient(cfg.Broadcast.RemoteTimeout, logger)
	broadcaster := cluster.NewBroadcaster(peers, nodeClient, broadcastPool, cfg.Broadcast.RemoteTimeout, logger)

	broadcastLifecycle := &service.BroadcastLifecycle{
		MountFn:   broadcaster.Wrap(cluster.OpMount, coordinator.Mount),
		UnmountFn: broadcaster.Wrap(cluster.OpUnmount, func(ctx context.Context, botID string) (bool, error) {
			coordinator.Unmount(ctx, botID)
			return true, nil
		}),
		Registry: registry,
	}

	// Revisions and promotions
	revisionMgr := revision.NewManager(configSvc, stateStore, archiveStore, hookBus, pipelineDef, broadcastLifecycle, logger)
	pipelineSvc := pipeline.NewService(configSvc, stateStore, pipelineDef, hookBus, revisionMgr, broadcastLifecycle, cfg.Pipeline.AutoRevision, logger)

	// Admin facade
	m := metrics.NewMetrics()
	orchestrator := service.NewOrchestrator(
		configSvc,
		stateStore,
		broadcastLifecycle,
		healthAgg,
		pipelineSvc,
		revisionMgr,
		m,
		logger,
	)

	// HTTP server
	router := mux.NewRouter()

	adminHandlers := handler.NewAdminHandlers(orchestrator, logger)
	adminHandlers.RegisterRoutes(router)

	nodeHandlers := handler.NewNodeHandlers(coordinator, logger)
	nodeHandlers.RegisterRoutes(router)

	prober := health.NewProber(configSvc, clusterStore, logger)
	router.HandleFunc("/healthz", prober.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", prober.ReadinessHandler).Methods(http.MethodGet)

	if cfg.Metrics.Enabled {
		metricsServer := handler.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, m, logger)
		metricsServer.Start()
		defer metricsServer.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down gracefully...")

		// Push one final health snapshot so peers see this node's bots
		// drop out only when the TTL expires, not mid-request.
		healthAgg.FlushLocal(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shut down server", zap.Error(err))
		}
	}()

	logger.Info("Orchestrator node starting",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("address", server.Addr))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level

	return zapCfg.Build()
}
