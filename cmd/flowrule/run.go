package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/flowrule/pkg/cmd"
	"github.com/dukex/flowrule/pkg/engine"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/monitor"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	serviceName     = "flowrule"
	shutdownTimeout = 10 * time.Second
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the automation engine and its API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Store URL (memory://, file path, postgres://, redis://)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (memory, kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL shared by the action rate limiter",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing action plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringSliceFlag{
				Name:    "tenants",
				Usage:   "Tenants whose active triggers are restored at start",
				Sources: cli.EnvVars("TENANTS"),
			},
			&cli.FloatFlag{
				Name:    "webhook-rate",
				Usage:   "Webhook requests per second allowed per tenant, 0 for no limit",
				Sources: cli.EnvVars("WEBHOOK_RATE"),
			},
			&cli.IntFlag{
				Name:    "webhook-burst",
				Usage:   "Webhook burst allowed per tenant",
				Value:   10,
				Sources: cli.EnvVars("WEBHOOK_BURST"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("flowrule")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing flowrule")

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, serviceName, command.Bool("otel"))
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				err := shutdownTracer(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			store, err := cmd.NewStore(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
			if err != nil {
				return errors.Join(err, store.Close(ctx))
			}

			clock := clockwork.NewRealClock()

			limiter, err := cmd.NewRateLimiter(logger, command.String("redis-url"), clock)
			if err != nil {
				return errors.Join(err, bus.Close(), store.Close(ctx))
			}

			e, err := engine.New(engine.Config{
				Logger:       logger,
				Store:        store,
				Bus:          bus,
				Registry:     registry,
				Limiter:      limiter,
				Metrics:      monitor.NewMetrics(prometheus.DefaultRegisterer),
				Clock:        clock,
				Tracer:       tracer,
				WebhookRate:  command.Float("webhook-rate"),
				WebhookBurst: command.Int("webhook-burst"),
			})
			if err != nil {
				return errors.Join(err, bus.Close(), store.Close(ctx))
			}

			defer func() {
				err := e.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close engine", "error", err)
				}
			}()

			err = e.Start(ctx, command.StringSlice("tenants"))
			if err != nil {
				logger.WarnContext(ctx, "Some triggers could not be restored", "error", err)
			}

			api := NewAPI(logger, e, store)

			return api.Serve(ctx, command.Int("port"), shutdownTimeout)
		},
	}
}
