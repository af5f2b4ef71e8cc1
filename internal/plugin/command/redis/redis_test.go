package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
	"github.com/chirino/swarm-sync/internal/testutil/testredis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkPublishes(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	ctx := context.Background()
	opts, err := goredis.ParseURL(testredis.StartRedis(t))
	require.NoError(t, err)

	sub := goredis.NewClient(opts).Subscribe(ctx, "commands")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	sink, err := New(ctx, goredis.NewClient(opts), "commands")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Send(ctx, registrycommand.Command{
		ID:              "c1",
		Kind:            registrycommand.KindSendMessage,
		Account:         "acc",
		ConversationURI: "swarm:x",
		Body:            "hello",
	}))

	select {
	case msg := <-sub.Channel():
		var got registrycommand.Command
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, registrycommand.KindSendMessage, got.Kind)
		assert.Equal(t, "hello", got.Body)
		assert.Equal(t, "swarm:x", got.ConversationURI)
	case <-time.After(5 * time.Second):
		t.Fatal("no command published")
	}
}
