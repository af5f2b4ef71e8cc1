package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/model"
	registrycache "github.com/chirino/swarm-sync/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.HistoryCache, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return New(64<<20, 10*time.Minute)
			}
			return New(cfg.LocalCacheMaxCost, cfg.CacheTTL)
		},
	})
}

// HistoryCache is an in-process cache bounded by the approximate byte size
// of the histories it holds.
type HistoryCache struct {
	cache *ristretto.Cache[string, []model.Interaction]
	ttl   time.Duration
}

func New(maxCost int64, ttl time.Duration) (*HistoryCache, error) {
	if maxCost <= 0 {
		return nil, fmt.Errorf("local cache: max cost must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []model.Interaction]{
		NumCounters: 10 * (maxCost / 1024),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &HistoryCache{cache: c, ttl: ttl}, nil
}

func (c *HistoryCache) Available() bool { return true }

func (c *HistoryCache) Get(_ context.Context, account string, uri model.URI) ([]model.Interaction, error) {
	history, ok := c.cache.Get(registrycache.Key(account, uri))
	if !ok {
		return nil, nil
	}
	out := make([]model.Interaction, len(history))
	for i := range history {
		out[i] = history[i].Clone()
	}
	return out, nil
}

func (c *HistoryCache) Set(_ context.Context, account string, uri model.URI, history []model.Interaction, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	stored := make([]model.Interaction, len(history))
	var cost int64 = 64
	for i := range history {
		stored[i] = history[i].Clone()
		cost += approxSize(&stored[i])
	}
	c.cache.SetWithTTL(registrycache.Key(account, uri), stored, cost, ttl)
	c.cache.Wait()
	return nil
}

func (c *HistoryCache) Remove(_ context.Context, account string, uri model.URI) error {
	c.cache.Del(registrycache.Key(account, uri))
	return nil
}

// Close stops the cache's background goroutines.
func (c *HistoryCache) Close() {
	c.cache.Close()
}

func approxSize(n *model.Interaction) int64 {
	size := int64(256 + len(n.MessageID) + len(n.ParentID) + len(n.Author) + len(n.Body) + len(n.FileName))
	size += int64(32 * len(n.StatusMap))
	for i := range n.Edits {
		size += approxSize(&n.Edits[i])
	}
	for i := range n.Reactions {
		size += approxSize(&n.Reactions[i])
	}
	return size
}

var _ registrycache.HistoryCache = (*HistoryCache)(nil)
