// Command orchestratord runs the multi-agent orchestrator as an HTTP and
// WebSocket service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/claude"
	"github.com/jeffjacobsen/orchestrator/internal/common/config"
	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
	"github.com/jeffjacobsen/orchestrator/internal/events/bus"
	"github.com/jeffjacobsen/orchestrator/internal/httpapi"
	"github.com/jeffjacobsen/orchestrator/internal/orchestrator"
	"github.com/jeffjacobsen/orchestrator/internal/storage"
	"github.com/jeffjacobsen/orchestrator/internal/streaming"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting orchestrator service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus. An empty NATS URL keeps everything
	// in-process.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 5. Open the store and mirror bus events into it
	store, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	adapter := storage.NewAdapter(store, log)
	if err := adapter.Start(eventBus); err != nil {
		log.Fatal("Failed to start storage adapter", zap.Error(err))
	}
	log.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	// 6. Initialize the orchestrator and fleet monitor
	client := claude.NewCLIClient("", log)
	orc := orchestrator.New(*cfg, client, eventBus, log)
	orc.StartMonitor(ctx)
	log.Info("Orchestrator ready",
		zap.String("model", cfg.Agent.Model),
		zap.Int("max_concurrent", cfg.Agent.MaxConcurrent),
	)

	// 7. Start the WebSocket hub and bus bridge
	hub := streaming.NewHub(log)
	go hub.Run(ctx)

	bridge := streaming.NewBridge(hub, log)
	if err := bridge.Start(eventBus); err != nil {
		log.Fatal("Failed to start streaming bridge", zap.Error(err))
	}

	// 8. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// 9. Register API routes
	httpapi.SetupRoutes(router, orc, hub, log)

	// 10. Create HTTP server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down orchestrator service...")

	// 13. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	bridge.Stop()
	adapter.Stop()
	orc.Stop(shutdownCtx)

	log.Info("Orchestrator service stopped")
}
