package noop

import (
	"context"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
	"github.com/chirino/swarm-sync/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.HistoryCache, error) {
			return &noopHistoryCache{}, nil
		},
	})
}

type noopHistoryCache struct{}

func (n *noopHistoryCache) Available() bool { return false }
func (n *noopHistoryCache) Get(_ context.Context, _ string, _ model.URI) ([]model.Interaction, error) {
	return nil, nil
}
func (n *noopHistoryCache) Set(_ context.Context, _ string, _ model.URI, _ []model.Interaction, _ time.Duration) error {
	return nil
}
func (n *noopHistoryCache) Remove(_ context.Context, _ string, _ model.URI) error { return nil }

var _ cache.HistoryCache = (*noopHistoryCache)(nil)
