// Package engine wires the workflow engine, the rule engine, the trigger manager, the
// action executor and the execution monitor around one store and one event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowrule/pkg/actions"
	"github.com/dukex/flowrule/pkg/actions/flow"
	"github.com/dukex/flowrule/pkg/actions/httprequest"
	logaction "github.com/dukex/flowrule/pkg/actions/log"
	"github.com/dukex/flowrule/pkg/actions/notify"
	"github.com/dukex/flowrule/pkg/actions/record"
	"github.com/dukex/flowrule/pkg/actions/transform"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/monitor"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/ratelimit"
	"github.com/dukex/flowrule/pkg/registry"
	"github.com/dukex/flowrule/pkg/rules"
	"github.com/dukex/flowrule/pkg/triggers"
	"github.com/dukex/flowrule/pkg/triggers/schedule"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
	"github.com/dukex/flowrule/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const defaultHTTPTimeout = 30 * time.Second

// Config holds the shared infrastructure. Registry, Limiter, Clock, Tracer and
// HTTPClient have defaults; Store and Bus are required.
type Config struct {
	Logger     *slog.Logger
	Store      persistence.Store
	Bus        eventbus.EventBus
	Registry   *registry.Registry
	Limiter    ratelimit.Limiter
	Metrics    *monitor.Metrics
	Clock      clockwork.Clock
	Tracer     trace.Tracer
	HTTPClient *http.Client

	// WebhookRate and WebhookBurst bound webhook ingress per tenant. Zero disables the limit.
	WebhookRate  float64
	WebhookBurst int
}

type Engine struct {
	Registry  *registry.Registry
	Actions   *actions.Executor
	Workflows *workflow.Engine
	Rules     *rules.Engine
	Triggers  *triggers.Manager
	Monitor   *monitor.Monitor

	logger *slog.Logger
	store  persistence.Store
	bus    eventbus.EventBus
}

func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}

	if cfg.Bus == nil {
		return nil, errors.New("engine: event bus is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.Registry == nil {
		cfg.Registry = registry.NewRegistry(cfg.Logger)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	registerBuiltins(cfg)

	executor := actions.NewExecutor(actions.Config{
		Logger:    cfg.Logger,
		Store:     cfg.Store,
		Handlers:  cfg.Registry,
		Limiter:   cfg.Limiter,
		Publisher: cfg.Bus,
		Clock:     cfg.Clock,
		Tracer:    cfg.Tracer,
	})

	workflows := workflow.NewEngine(workflow.Config{
		Logger:    cfg.Logger,
		Store:     cfg.Store,
		Actions:   executor,
		Publisher: cfg.Bus,
		Clock:     cfg.Clock,
		Tracer:    cfg.Tracer,
	})

	ruleEngine := rules.NewEngine(rules.Config{
		Logger:    cfg.Logger,
		Store:     cfg.Store,
		Actions:   executor,
		Publisher: cfg.Bus,
		Clock:     cfg.Clock,
		Tracer:    cfg.Tracer,
	})

	// Flow actions call back into the engines, so they are registered last.
	cfg.Registry.RegisterAction(flow.NewStartWorkflowFactory(workflows))
	cfg.Registry.RegisterAction(flow.NewEvaluateRuleFactory(ruleEngine))

	manager := triggers.NewManager(triggers.Config{
		Logger:     cfg.Logger,
		Store:      cfg.Store,
		Publisher:  cfg.Bus,
		Subscriber: cfg.Bus,
		Workflows:  workflows,
		Rules:      ruleEngine,
		Actions:    executor,
		Scheduler:  schedule.NewScheduler(cfg.Logger, cfg.Clock),
		Webhooks:   webhook.NewRegistry(cfg.Logger, cfg.WebhookRate, cfg.WebhookBurst),
		Clock:      cfg.Clock,
		Tracer:     cfg.Tracer,
	})

	return &Engine{
		Registry:  cfg.Registry,
		Actions:   executor,
		Workflows: workflows,
		Rules:     ruleEngine,
		Triggers:  manager,
		Monitor:   monitor.NewMonitor(monitor.Config{Logger: cfg.Logger, Subscriber: cfg.Bus, Metrics: cfg.Metrics}),
		logger:    cfg.Logger.With("module", "engine"),
		store:     cfg.Store,
		bus:       cfg.Bus,
	}, nil
}

func registerBuiltins(cfg Config) {
	cfg.Registry.RegisterAction(logaction.NewActionFactory())
	cfg.Registry.RegisterAction(transform.NewActionFactory())
	cfg.Registry.RegisterAction(httprequest.NewActionFactory(cfg.HTTPClient))
	cfg.Registry.RegisterAction(httprequest.NewWebhookFactory(cfg.HTTPClient))
	cfg.Registry.RegisterAction(flow.NewDelayFactory(cfg.Clock))
	cfg.Registry.RegisterAction(flow.NewSetVariableFactory())

	for _, factory := range notify.Factories(cfg.Bus) {
		cfg.Registry.RegisterAction(factory)
	}

	for _, factory := range record.NewTable(cfg.Store, cfg.Clock).Factories() {
		cfg.Registry.RegisterAction(factory)
	}
}

// Start subscribes the monitor, starts the trigger scheduler and restores the active
// triggers of tenants.
func (e *Engine) Start(ctx context.Context, tenants []string) error {
	err := e.Monitor.Start(ctx)
	if err != nil {
		return err
	}

	e.Triggers.Start()

	var errs []error

	for _, tenantID := range tenants {
		err := e.Triggers.Restore(ctx, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}

	e.logger.InfoContext(ctx, "Engine started", "tenants", len(tenants), "actions", len(e.Registry.Definitions()))

	return errors.Join(errs...)
}

// Close stops the triggers and the monitor, then closes the bus and the store.
func (e *Engine) Close(ctx context.Context) error {
	e.Triggers.Close()
	e.Monitor.Close()

	return errors.Join(e.bus.Close(), e.store.Close(ctx))
}
