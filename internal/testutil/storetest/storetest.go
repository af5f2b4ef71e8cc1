// Package storetest holds the behavior every HistoryStore implementation
// must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/swarm-sync/internal/model"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	swarmX = model.SwarmURI("x")
	swarmY = model.SwarmURI("y")
)

func node(id, parent string, ts int64) model.Interaction {
	return model.Interaction{
		MessageID: id,
		ParentID:  parent,
		Type:      model.InteractionText,
		Timestamp: ts,
		Author:    "jami:bob",
		Body:      "body " + id,
		Incoming:  true,
	}
}

// Run exercises newStore against the HistoryStore contract. Each subtest
// gets its own store.
func Run(t *testing.T, newStore func(t *testing.T) registrystore.HistoryStore) {
	ctx := context.Background()

	t.Run("load returns nodes ordered by timestamp", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("c", "b", 30)))
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("a", "", 10)))
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("b", "a", 20)))

		got, err := s.LoadHistory(ctx, "acc", swarmX)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "a", got[0].MessageID)
		assert.Equal(t, "b", got[1].MessageID)
		assert.Equal(t, "a", got[1].ParentID)
		assert.Equal(t, "body c", got[2].Body)
		assert.Equal(t, model.InteractionText, got[2].Type)
	})

	t.Run("save replaces by key", func(t *testing.T) {
		s := newStore(t)
		n := node("a", "", 10)
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, n))
		n.Body = "edited"
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, n))

		got, err := s.LoadHistory(ctx, "acc", swarmX)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "edited", got[0].Body)
	})

	t.Run("status updates are folded in", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("a", "", 10)))
		require.NoError(t, s.UpdateStatus(ctx, "acc", swarmX, "a", "jami:bob", model.StatusSuccess))
		require.NoError(t, s.UpdateStatus(ctx, "acc", swarmX, "a", "bob", model.StatusDisplayed))
		require.NoError(t, s.UpdateStatus(ctx, "acc", swarmX, "a", "carol", model.StatusSuccess))

		got, err := s.LoadHistory(ctx, "acc", swarmX)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, map[string]model.InteractionStatus{
			"bob":   model.StatusDisplayed,
			"carol": model.StatusSuccess,
		}, got[0].StatusMap)

		err = s.UpdateStatus(ctx, "acc", swarmX, "missing", "bob", model.StatusSuccess)
		var nf *registrystore.NotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("conversations and accounts are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("a", "", 10)))
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmY, node("a", "", 10)))
		require.NoError(t, s.SaveInteraction(ctx, "other", swarmX, node("z", "", 10)))

		uris, err := s.ListConversations(ctx, "acc")
		require.NoError(t, err)
		assert.Equal(t, []model.URI{swarmX, swarmY}, uris)

		got, err := s.LoadHistory(ctx, "other", swarmX)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "z", got[0].MessageID)
	})

	t.Run("remove and clear", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("a", "", 10)))
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmX, node("b", "a", 20)))
		require.NoError(t, s.SaveInteraction(ctx, "acc", swarmY, node("c", "", 10)))

		require.NoError(t, s.RemoveInteraction(ctx, "acc", swarmX, "a"))
		var nf *registrystore.NotFoundError
		assert.True(t, errors.As(s.RemoveInteraction(ctx, "acc", swarmX, "a"), &nf))

		got, err := s.LoadHistory(ctx, "acc", swarmX)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].MessageID)

		require.NoError(t, s.ClearHistory(ctx, "acc", swarmX))
		got, err = s.LoadHistory(ctx, "acc", swarmX)
		require.NoError(t, err)
		assert.Empty(t, got)

		uris, err := s.ListConversations(ctx, "acc")
		require.NoError(t, err)
		assert.Equal(t, []model.URI{swarmY}, uris)
	})

	t.Run("legacy nodes are keyed by sequence id", func(t *testing.T) {
		s := newStore(t)
		peer := model.ParseURI("jami:bob")
		n := model.Interaction{ID: 7, Type: model.InteractionText, Timestamp: 5, Body: "hi", Author: "jami:bob"}
		require.NoError(t, s.SaveInteraction(ctx, "acc", peer, n))
		require.NoError(t, s.UpdateStatus(ctx, "acc", peer, "7", "bob", model.StatusDisplayed))

		got, err := s.LoadHistory(ctx, "acc", peer)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(7), got[0].ID)
		assert.Equal(t, model.StatusDisplayed, got[0].StatusMap["bob"])
	})

	t.Run("invalid input is rejected", func(t *testing.T) {
		s := newStore(t)
		var ve *registrystore.ValidationError
		assert.True(t, errors.As(s.SaveInteraction(ctx, "", swarmX, node("a", "", 1)), &ve))
		assert.True(t, errors.As(s.SaveInteraction(ctx, "acc", model.URI{}, node("a", "", 1)), &ve))
	})
}
