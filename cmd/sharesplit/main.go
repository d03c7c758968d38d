package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/adapter/filesystem"
	"github.com/vertextoedge/sharesplit/internal/adapter/sqlite"
	"github.com/vertextoedge/sharesplit/internal/config"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/download"
	"github.com/vertextoedge/sharesplit/internal/extract"
	"github.com/vertextoedge/sharesplit/internal/logger"
	"github.com/vertextoedge/sharesplit/internal/pipeline"
	"github.com/vertextoedge/sharesplit/internal/service/maintenance"
	"github.com/vertextoedge/sharesplit/internal/service/server"
	"github.com/vertextoedge/sharesplit/internal/split"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting sharesplit",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Initialize filesystem manager
	fsManager, err := filesystem.NewManager(cfg.Work.RootDir)
	if err != nil {
		zapLogger.Fatal("failed to create filesystem manager", zap.Error(err))
	}

	// Open database
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Work.RootDir, "sharesplit.db")
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err), zap.String("path", dbPath))
	}
	defer store.Close()

	// Create event dispatcher with logging handler
	dispatcher := event.NewInMemoryDispatcher(false)
	dispatcher.Subscribe(event.NewLoggingHandler(zapLogger))

	// Create download coordinator
	coordinator := download.NewCoordinator(&download.Config{
		MaxRetries:             cfg.Download.MaxRetries,
		BufferSize:             cfg.Download.GetBufferSize(),
		MinFreeSpace:           cfg.Download.GetMinFreeSpace(),
		ProgressUpdateInterval: cfg.Download.GetProgressUpdateInterval(),
		UserAgent:              cfg.Extract.UserAgent,
	}, store, fsManager, dispatcher, zapLogger)

	// Release download jobs orphaned by an unclean shutdown
	if err := coordinator.Recover(); err != nil {
		zapLogger.Fatal("failed to recover download tasks", zap.Error(err))
	}

	// Create extractor
	extractor := extract.NewHTTPExtractor(&extract.Config{
		Timeout:   cfg.Extract.GetTimeout(),
		UserAgent: cfg.Extract.UserAgent,
	}, zapLogger)

	// Create splitter
	splitter, err := split.NewFFmpegSplitter(&split.Config{
		FFmpegPath:  cfg.Split.FFmpegPath,
		FFprobePath: cfg.Split.FFprobePath,
		ExtraArgs:   cfg.Split.ExtraArgs,
		Timeout:     cfg.Split.GetTimeout(),
	}, fsManager, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create splitter", zap.Error(err))
	}

	// Create pipeline registry
	registry := pipeline.NewRegistry(extractor, coordinator, splitter, store, dispatcher, zapLogger)

	// Create maintenance service
	maintenanceCfg := &maintenance.Config{
		StaleTaskCheckInterval: time.Minute,
		StaleTaskTimeout:       cfg.Download.GetStaleTaskTimeout(),
		CleanupInterval:        time.Hour,
		TerminalTaskMaxAge:     24 * time.Hour,
		TempFileMaxAge:         cfg.Work.GetTempFileMaxAge(),
	}
	maintenanceService := maintenance.New(maintenanceCfg, store, fsManager, zapLogger)

	// Create HTTP server
	serverCfg := &server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, registry, store, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resume sessions that were in flight when the process died
	if err := registry.ResumeAll(ctx); err != nil {
		zapLogger.Error("failed to resume persisted sessions", zap.Error(err))
	}

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start maintenance service
	go func() {
		if err := maintenanceService.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("work_dir", cfg.Work.RootDir),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	// Cancel context to stop the maintenance loop
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop services. In-flight download jobs are suspended, not
	// cancelled: their task rows and session rows stay behind so the
	// next start resumes them.
	maintenanceService.Stop()
	coordinator.Stop()

	// Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("application stopped successfully")
}
