package plugin

import (
	"context"
	"errors"

	"github.com/pitabwire/util"
)

// Factory creates a fresh plugin instance.
type Factory func() Plugin

// Registration binds a plugin ID to its factory.
type Registration struct {
	ID      string
	Factory Factory
}

// Table is the explicit list of plugins the process can load.
type Table []Registration

// LoadTable instantiates and registers plugins from the table. When enabled
// is non-empty only the listed IDs are loaded. It returns how many plugins
// were registered; registration errors are logged and skipped.
func (m *Manager) LoadTable(ctx context.Context, table Table, enabled []string) int {
	log := util.Log(ctx)

	allow := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		allow[id] = struct{}{}
	}

	loaded := 0
	for _, reg := range table {
		if len(allow) > 0 {
			if _, ok := allow[reg.ID]; !ok {
				log.Debug("plugin not enabled, skipping", "plugin_id", reg.ID)
				continue
			}
		}
		if reg.Factory == nil {
			log.Warn("plugin registration without factory", "plugin_id", reg.ID)
			continue
		}

		if err := m.Register(ctx, reg.Factory()); err != nil {
			if !errors.Is(err, ErrDuplicatePlugin) {
				log.WithError(err).Warn("could not register plugin", "plugin_id", reg.ID)
			}
			continue
		}
		loaded++
	}

	log.Info("plugins loaded", "count", loaded, "available", len(table))
	return loaded
}
