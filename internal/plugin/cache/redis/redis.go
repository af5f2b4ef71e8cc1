package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/chirino/swarm-sync/internal/model"
	registrycache "github.com/chirino/swarm-sync/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.HistoryCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: SWARM_SYNC_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURLWithTTL creates a cache from a redis:// URL with a default TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.HistoryCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisHistoryCache{client: client, ttl: ttl}, nil
}

type redisHistoryCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func (c *redisHistoryCache) Available() bool {
	return true
}

func (c *redisHistoryCache) Get(ctx context.Context, account string, uri model.URI) ([]model.Interaction, error) {
	data, err := c.client.Get(ctx, registrycache.Key(account, uri)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []model.Interaction
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (c *redisHistoryCache) Set(ctx context.Context, account string, uri model.URI, history []model.Interaction, ttl time.Duration) error {
	if history == nil {
		history = []model.Interaction{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, registrycache.Key(account, uri), data, ttl).Err()
}

func (c *redisHistoryCache) Remove(ctx context.Context, account string, uri model.URI) error {
	return c.client.Del(ctx, registrycache.Key(account, uri)).Err()
}

var _ registrycache.HistoryCache = (*redisHistoryCache)(nil)
