package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
)

// HistoryCache keeps loaded conversation histories close to the engine so
// a conversation that is reopened does not go back to the store.
type HistoryCache interface {
	Available() bool
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, account string, conversationURI model.URI) ([]model.Interaction, error)
	Set(ctx context.Context, account string, conversationURI model.URI, history []model.Interaction, ttl time.Duration) error
	Remove(ctx context.Context, account string, conversationURI model.URI) error
}

// Key is the cache key of a conversation history.
func Key(account string, conversationURI model.URI) string {
	return fmt.Sprintf("history:%s:%s", account, conversationURI.String())
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (HistoryCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
