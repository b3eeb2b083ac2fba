// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/flowrule/pkg/registry"
)

// NewRegistry creates a handler registry holding the action plugins found under
// pluginsPath. Built-in handlers are registered by the engine.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	actionPlugins, err := reg.LoadActionPlugins(pluginsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load action plugins: %w", err)
	}

	for _, plugin := range actionPlugins {
		reg.RegisterAction(plugin)
	}

	return reg, nil
}
