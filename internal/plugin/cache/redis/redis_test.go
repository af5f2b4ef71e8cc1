package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
	"github.com/chirino/swarm-sync/internal/testutil/testredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisHistoryCache(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	ctx := context.Background()
	c, err := LoadFromURLWithTTL(ctx, testredis.StartRedis(t), time.Minute)
	require.NoError(t, err)
	require.True(t, c.Available())

	uri := model.SwarmURI("x")
	got, err := c.Get(ctx, "acc", uri)
	require.NoError(t, err)
	assert.Nil(t, got)

	history := []model.Interaction{
		{MessageID: "a", Type: model.InteractionText, Body: "hi", Timestamp: 1},
		{MessageID: "b", ParentID: "a", Type: model.InteractionCall, ConfID: "c", Duration: 10, Timestamp: 2},
	}
	require.NoError(t, c.Set(ctx, "acc", uri, history, 0))
	got, err = c.Get(ctx, "acc", uri)
	require.NoError(t, err)
	assert.Equal(t, history, got)

	require.NoError(t, c.Set(ctx, "acc", model.SwarmURI("empty"), nil, 0))
	empty, err := c.Get(ctx, "acc", model.SwarmURI("empty"))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, c.Remove(ctx, "acc", uri))
	got, err = c.Get(ctx, "acc", uri)
	require.NoError(t, err)
	assert.Nil(t, got)
}
