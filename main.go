package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"displayfleet/activity"
	"displayfleet/api"
	"displayfleet/clock"
	"displayfleet/config"
	"displayfleet/service"
	"displayfleet/store"
)

// setupLogging creates a log file in the log directory with timestamp
// Returns the log file handle (caller should defer Close())
func setupLogging(logDir string) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// log/2026-03-14_18-00-00.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Write to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	gin.DefaultWriter = multiWriter

	log.Printf("📝 Logging to: %s", logPath)
	return logFile, nil
}

func loadConfig() (config.Config, error) {
	configPath := pflag.String("config", "", "path to config.yaml")
	listen := pflag.String("listen", "", "listen address (overrides server.listen)")
	dbPath := pflag.String("db", "", "SQLite database path (overrides database.path)")
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return config.Config{}, err
		}
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	return cfg, nil
}

func newActivityLogger(ctx context.Context, cfg config.ActivityConfig, sqlite func() (service.ActivityLogger, error)) (service.ActivityLogger, error) {
	switch cfg.Backend {
	case "dynamodb":
		return activity.NewDynamoLogger(ctx, cfg.DynamoDBTable)
	case "log":
		return activity.StdLogger{}, nil
	default:
		return sqlite()
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup file logging
	logFile, err := setupLogging(cfg.Log.Dir)
	if err != nil {
		log.Printf("Warning: Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting display fleet controller...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer config.CloseDatabase(db)

	deviceStore, err := store.NewSQLiteStore(db)
	if err != nil {
		log.Fatalf("Failed to prepare device store: %v", err)
	}
	activityLog, err := newActivityLogger(ctx, cfg.Activity, func() (service.ActivityLogger, error) {
		return activity.NewSQLiteLogger(db)
	})
	if err != nil {
		log.Fatalf("Failed to set up activity log (%s): %v", cfg.Activity.Backend, err)
	}
	log.Printf("Activity log backend: %s", cfg.Activity.Backend)

	clk := clock.Real()
	auth := service.NewStaticTokenAuthorizer(cfg.Auth.Tokens)
	if len(cfg.Auth.Tokens) == 0 {
		log.Println("⚠️  No auth tokens configured, admin API is locked")
	}

	// Registry first; the router needs it to find fallback targets.
	deviceManager := service.NewDeviceManager(deviceStore, clk, activityLog)
	if err := deviceManager.Load(ctx); err != nil {
		log.Fatalf("Failed to load displays: %v", err)
	}

	// Initialize WebSocket hub
	wsHub := api.NewWebSocketHub(deviceManager, auth)
	go wsHub.Run(ctx)

	router := service.NewBroadcastRouter(wsHub, deviceManager, cfg.Fallback, clk)
	deviceManager.SetRouter(router)

	timers := service.NewTimerEngine(clk, router)
	emergency := service.NewEmergencyController(timers, router, activityLog, clk)
	deviceManager.SetEmergency(emergency)
	timers.SetEmergency(emergency)

	sweeper := service.NewLivenessSweeper(deviceManager, clk, cfg.Liveness, service.NewHubNotifier(router), activityLog)
	go sweeper.Run(ctx)

	// Setup HTTP server
	gin.SetMode(cfg.Server.Mode)
	if err := api.RegisterValidators(); err != nil {
		log.Fatalf("Failed to register validators: %v", err)
	}
	engine := gin.Default()
	api.SetupRoutes(engine, &api.Services{
		Devices:   deviceManager,
		Router:    router,
		Timers:    timers,
		Emergency: emergency,
		Flyers:    service.NewFlyerService(clk, router),
		Auth:      auth,
		Hub:       wsHub,
	}, cfg.RateLimit)

	srv := &http.Server{Addr: cfg.Server.Listen, Handler: engine}
	go func() {
		log.Printf("Server starting on %s", cfg.Server.Listen)
		log.Printf("WebSocket server on %s/ws", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: graceful shutdown failed: %v", err)
	}
	log.Println("✅ Stopped")
}
