// Package registry keeps the action handler factories and loads handler plugins.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) LoadActionPlugins(pluginsPath string) ([]protocol.ActionFactory, error) {
	return loadPlugin[protocol.ActionFactory](r.logger, pluginsPath, "Action")
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
}

// HasAction reports whether a handler is registered for id.
func (r *Registry) HasAction(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.actionFactories[id]

	return ok
}

// Definitions returns the catalog entries of every registered factory, sorted by id.
func (r *Registry) Definitions() []models.ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]models.ActionDefinition, 0, len(r.actionFactories))
	for _, factory := range r.actionFactories {
		definitions = append(definitions, factory.Definition())
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].ID < definitions[j].ID
	})

	return definitions
}

func (r *Registry) CreateAction(ctx context.Context, actionType string, input map[string]any) (protocol.Action, error) {
	r.mu.RLock()
	factory, ok := r.actionFactories[actionType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("action type '%s': %w", actionType, protocol.ErrUnknownAction)
	}

	return factory.Create(ctx, input)
}

// Run implements protocol.SideEffect by building and executing the registered action.
func (r *Registry) Run(
	ctx context.Context,
	definition *models.ActionDefinition,
	input map[string]any,
	actionCtx models.ActionContext,
	logger *slog.Logger,
) (map[string]any, error) {
	action, err := r.CreateAction(ctx, definition.ID, input)
	if err != nil {
		return nil, err
	}

	return action.Execute(ctx, actionCtx, logger)
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	if pluginsPath == "" {
		return nil, nil
	}

	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			// Lookup returns a pointer to exported variables.
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
