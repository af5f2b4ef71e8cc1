package local

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCache(t *testing.T) {
	ctx := context.Background()
	uri := model.SwarmURI("x")

	t.Run("miss then hit", func(t *testing.T) {
		c, err := New(1<<20, time.Minute)
		require.NoError(t, err)
		defer c.Close()

		got, err := c.Get(ctx, "acc", uri)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, c.Set(ctx, "acc", uri, []model.Interaction{{MessageID: "a", Body: "hi"}}, 0))
		got, err = c.Get(ctx, "acc", uri)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "hi", got[0].Body)

		other, err := c.Get(ctx, "other", uri)
		require.NoError(t, err)
		assert.Nil(t, other)
	})

	t.Run("returned histories are copies", func(t *testing.T) {
		c, err := New(1<<20, time.Minute)
		require.NoError(t, err)
		defer c.Close()

		in := []model.Interaction{{MessageID: "a", StatusMap: map[string]model.InteractionStatus{"bob": model.StatusSuccess}}}
		require.NoError(t, c.Set(ctx, "acc", uri, in, 0))
		in[0].StatusMap["bob"] = model.StatusFailure

		got, err := c.Get(ctx, "acc", uri)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.StatusSuccess, got[0].StatusMap["bob"])
		got[0].StatusMap["bob"] = model.StatusFailure

		again, err := c.Get(ctx, "acc", uri)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSuccess, again[0].StatusMap["bob"])
	})

	t.Run("remove", func(t *testing.T) {
		c, err := New(1<<20, time.Minute)
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "acc", uri, []model.Interaction{{MessageID: "a"}}, 0))
		require.NoError(t, c.Remove(ctx, "acc", uri))
		got, err := c.Get(ctx, "acc", uri)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("rejects a zero budget", func(t *testing.T) {
		_, err := New(0, time.Minute)
		assert.Error(t, err)
	})
}
