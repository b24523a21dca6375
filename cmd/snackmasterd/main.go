package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"snackmaster-backend/config"
	"snackmaster-backend/internal/api"
	"snackmaster-backend/internal/db"
	"snackmaster-backend/internal/notification"
	"snackmaster-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "snackmaster-backend ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Low-stock alerts are optional; without VAPID keys the service runs
	// with notifications disabled.
	var webpushOptions *webpush.Options
	var notifier *notification.WorkerPool
	if cfg.Notify.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatalf("notify.enabled requires VAPID keys in the push section of the config")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		notifier = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		notifier.Start(ctx)
		logger.Printf("low-stock notifications enabled (threshold %d%%, %d workers)",
			cfg.Notify.LowStockThreshold, cfg.WorkerPool.Size)
	}

	router := api.NewRouter(cfg, appStore, webpushOptions, notifier)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
