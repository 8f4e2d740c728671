// Command server runs the rxfirestore gateway: the document API over REST
// and realtime listens over WebSocket, backed by the configured store.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rxfirestore/internal/di"
	httpAdapter "rxfirestore/internal/firestore/adapter/http"
	"rxfirestore/internal/firestore/config"
)

const (
	startupTimeout     = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	var envFiles []string
	if _, err := os.Stat(".env"); err == nil {
		envFiles = append(envFiles, ".env")
	}
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container := di.NewContainer(cfg)
	appLogger := container.Logger
	appLogger.Infof("Starting rxfirestore gateway with %s backend", cfg.Backend)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	err = container.InitializeFirestore(ctx)
	cancel()
	if err != nil {
		appLogger.Fatalf("Failed to initialize Firestore module: %v", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Errorf("Failed to close container: %v", err)
		}
	}()
	if container.Tokens == nil {
		appLogger.Warn("JWT_SECRET not set, gateway accepts unauthenticated requests")
	}

	app := httpAdapter.NewApp(httpAdapter.Options{
		Firestore: container.Firestore(),
		Config:    cfg,
		Tokens:    container.Tokens,
		HealthCheck: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			return container.HealthCheck(ctx)
		},
		Log: appLogger,
	})

	serverAddr := cfg.Server.Addr()
	appLogger.Infof("Gateway listening on %s", serverAddr)

	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Errorf("Server stopped: %v", err)
		}
	case sig := <-quit:
		appLogger.Infof("Received shutdown signal: %v", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Errorf("Server forced to shutdown: %v", err)
		}
		appLogger.Info("HTTP server stopped")
	}
}
