package main

import (
	"context"

	"github.com/traloxolcus/soccer-rig/internal/clocksync"
	"github.com/traloxolcus/soccer-rig/internal/config"
	"github.com/traloxolcus/soccer-rig/internal/controller"
	"github.com/traloxolcus/soccer-rig/internal/gates"
	"github.com/traloxolcus/soccer-rig/internal/handlers"
	"github.com/traloxolcus/soccer-rig/internal/manifest"
	"github.com/traloxolcus/soccer-rig/internal/pipeline"
	"github.com/traloxolcus/soccer-rig/internal/status"
	"github.com/traloxolcus/soccer-rig/internal/storage"
	"github.com/traloxolcus/soccer-rig/internal/updater"
	pkgconfig "github.com/traloxolcus/soccer-rig/pkg/config"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
	"github.com/traloxolcus/soccer-rig/pkg/monitoring"
	"github.com/traloxolcus/soccer-rig/pkg/server"
	"github.com/traloxolcus/soccer-rig/pkg/version"
)

func main() {
	// Setup structured logger
	logger := logging.NewLoggerWithService("rigcam")

	// Load environment variables from .env file
	pkgconfig.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting soccer-rig camera node")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		logger.WithError(err).Fatal("Failed to create storage layout")
	}

	logger.WithFields(logging.Fields{
		"camera_id": cfg.CameraID,
		"base_dir":  cfg.BaseDir,
		"sync_role": cfg.SyncRole(),
		"simulate":  cfg.Simulate,
	}).Info("Node configuration loaded")

	// Clock sync agent: configure chrony for this node's role, degrade on
	// failure instead of refusing to boot
	syncAgent := clocksync.NewAgent(cfg.SyncRole(), cfg.NTPMasterHost, "", logger)
	if health := syncAgent.Configure(); health.LastError != "" {
		logger.WithField("error", health.LastError).Warn("Clock sync configuration degraded")
	}

	// Storage and manifest layers
	capacity := storage.NewCapacity(cfg.BaseDir)
	store := manifest.NewStore(cfg.ManifestsDir(), cfg.RecordingsDir(), capacity.FreeGB, logger)

	// Readiness gates
	checker := gates.NewChecker()
	checker.SimulateCamera = cfg.Simulate

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("rigcam", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("rigcam", version.Version, version.GitCommit)

	healthChecker.AddCheck("storage", monitoring.DirectoryWritableHealthCheck(cfg.RecordingsDir()))
	healthChecker.AddCheck("chrony", monitoring.SystemServiceHealthCheck("chronyd"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"camera_id": cfg.CameraID,
		"base_dir":  cfg.BaseDir,
	}))

	operations, evictions, diskFree, activeSessions := metricsCollector.CreateRecorderMetrics()
	recorderMetrics := controller.Metrics{
		Operations: operations,
		Evictions:  evictions,
		DiskFreeGB: diskFree,
		Active:     activeSessions,
	}

	// Pipeline runner: real capture hardware or simulated
	var runner pipeline.Runner = pipeline.ExecRunner{}
	if cfg.Simulate {
		runner = pipeline.SimRunner{}
		logger.Info("Simulate mode active, no capture hardware will be used")
	}

	ctrl := controller.New(cfg, store, capacity, checker, syncAgent, runner, recorderMetrics, logger)
	aggregator := status.NewAggregator(cfg, ctrl, capacity, syncAgent, checker, logger)
	updates := updater.New(cfg.UpdateRepo, logger)

	// Background storage sweep runs until shutdown
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go ctrl.RunCleanupLoop(sweepCtx)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "rigcam", healthChecker, metricsCollector)
	handlers.New(cfg, ctrl, aggregator, updates, logger).RegisterRoutes(router)

	srvConfig := server.DefaultConfig("rigcam", "8080")
	if err := server.Start(srvConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server shutdown failed")
	}

	// Server stopped; make sure an in-flight session is finalized so its
	// manifest survives the restart
	if _, err := ctrl.Stop(); err == nil {
		logger.Info("Finalized in-flight session during shutdown")
	}
}
