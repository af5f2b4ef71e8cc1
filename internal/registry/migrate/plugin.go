package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Migrator prepares the schema of a single store plugin. Migrators skip
// themselves when their store is not the configured one.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin represents a migrator with an order for deterministic execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	out := make([]Plugin, len(plugins))
	copy(out, plugins)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Names lists registered migrators in execution order.
func Names() []string {
	var names []string
	for _, p := range sorted() {
		names = append(names, p.Migrator.Name())
	}
	return names
}

// RunAll executes all registered migrators sorted by Order.
func RunAll(ctx context.Context) error {
	for _, p := range sorted() {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
