package http

import (
	"context"
	"time"

	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/usecase"
	"rxfirestore/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Options configures NewApp.
type Options struct {
	Firestore *usecase.FirestoreUsecase
	Config    *config.Config

	// Tokens guards /v1 and the listen endpoint. Nil disables auth.
	Tokens *TokenService

	// HealthCheck backs /health. Nil reports healthy while serving.
	HealthCheck func(ctx context.Context) error

	Log logger.Logger
}

// NewApp builds the gateway application: REST routes, the WebSocket listen
// endpoint and /health.
func NewApp(opts Options) *fiber.App {
	log := opts.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		AppName:               "rxfirestore gateway",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Header: "X-Request-ID"}))
	app.Use(RequestContext())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	var guard []fiber.Handler
	if opts.Tokens != nil {
		guard = append(guard, Protect(opts.Tokens))
	}

	handler := NewHandler(opts.Firestore, cfg.DeleteBatchLimit, log)
	handler.healthCheck = opts.HealthCheck
	handler.RegisterRoutes(app, guard...)
	NewWebSocketHandler(opts.Firestore, cfg.Realtime.ClientSendChannelBuffer, log).
		RegisterRoutes(app, cfg.Realtime.WebSocketPath, guard...)
	return app
}
