package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/flowrule/pkg/engine"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger   *slog.Logger
	engine   *engine.Engine
	store    persistence.Store
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, engine *engine.Engine, store persistence.Store) *API {
	return &API{
		logger:   logger,
		engine:   engine,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.logger, a.engine, a.store, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowrule API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	web.Register(app, handlers)

	return app
}

// Serve listens on port until ctx is done, then shuts the server down gracefully.
func (a *API) Serve(ctx context.Context, port int, shutdownTimeout time.Duration) error {
	app := a.App()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	a.logger.InfoContext(ctx, "Shutting down API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}
