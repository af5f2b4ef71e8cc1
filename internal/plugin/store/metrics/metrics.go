package metrics

import (
	"context"
	"time"

	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
	"github.com/chirino/swarm-sync/internal/registry/store"
)

// Wrap returns a HistoryStore that records StoreLatency for every operation.
func Wrap(inner store.HistoryStore) store.HistoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.HistoryStore
}

func (m *metricsStore) LoadHistory(ctx context.Context, account string, conversationURI model.URI) ([]model.Interaction, error) {
	defer metrics.ObserveStore("load_history", time.Now())
	return m.inner.LoadHistory(ctx, account, conversationURI)
}

func (m *metricsStore) SaveInteraction(ctx context.Context, account string, conversationURI model.URI, n model.Interaction) error {
	defer metrics.ObserveStore("save_interaction", time.Now())
	return m.inner.SaveInteraction(ctx, account, conversationURI, n)
}

func (m *metricsStore) UpdateStatus(ctx context.Context, account string, conversationURI model.URI, key, peer string, st model.InteractionStatus) error {
	defer metrics.ObserveStore("update_status", time.Now())
	return m.inner.UpdateStatus(ctx, account, conversationURI, key, peer, st)
}

func (m *metricsStore) RemoveInteraction(ctx context.Context, account string, conversationURI model.URI, key string) error {
	defer metrics.ObserveStore("remove_interaction", time.Now())
	return m.inner.RemoveInteraction(ctx, account, conversationURI, key)
}

func (m *metricsStore) ClearHistory(ctx context.Context, account string, conversationURI model.URI) error {
	defer metrics.ObserveStore("clear_history", time.Now())
	return m.inner.ClearHistory(ctx, account, conversationURI)
}

func (m *metricsStore) ListConversations(ctx context.Context, account string) ([]model.URI, error) {
	defer metrics.ObserveStore("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, account)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
