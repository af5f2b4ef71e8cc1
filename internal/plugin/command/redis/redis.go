// Package redis publishes commands as JSON on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/swarm-sync/internal/config"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycommand.Register(registrycommand.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycommand.Sink, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis command sink: SWARM_SYNC_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis command sink: invalid URL: %w", err)
	}
	return New(ctx, goredis.NewClient(opts), cfg.CommandChannel)
}

// New pings client and returns a sink publishing on channel.
func New(ctx context.Context, client *goredis.Client, channel string) (*Sink, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis command sink: ping failed: %w", err)
	}
	return &Sink{client: client, channel: channel}, nil
}

type Sink struct {
	client  *goredis.Client
	channel string
}

func (s *Sink) Send(ctx context.Context, cmd registrycommand.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Kind, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
