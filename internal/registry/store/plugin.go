package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chirino/swarm-sync/internal/model"
)

// HistoryStore is the persistence boundary: inbound interactions are saved
// as they were received and replayed into a conversation when it is first
// used.
type HistoryStore interface {
	// LoadHistory returns the nodes of a conversation ordered by timestamp.
	LoadHistory(ctx context.Context, account string, conversationURI model.URI) ([]model.Interaction, error)
	// SaveInteraction inserts or replaces a node by its Key.
	SaveInteraction(ctx context.Context, account string, conversationURI model.URI, n model.Interaction) error
	// UpdateStatus folds a per-peer status into a stored node. A missing node
	// yields a *NotFoundError.
	UpdateStatus(ctx context.Context, account string, conversationURI model.URI, key, peer string, st model.InteractionStatus) error
	RemoveInteraction(ctx context.Context, account string, conversationURI model.URI, key string) error
	ClearHistory(ctx context.Context, account string, conversationURI model.URI) error
	// ListConversations returns the uris with persisted history for account.
	ListConversations(ctx context.Context, account string) ([]model.URI, error)
	Close() error
}

// Key identifies a node inside its conversation: the message id of swarm
// nodes, otherwise the legacy sequence id or, failing that, the timestamp
// and author.
func Key(n model.Interaction) string {
	switch {
	case n.MessageID != "":
		return n.MessageID
	case n.ID != 0:
		return strconv.FormatInt(n.ID, 10)
	default:
		return n.TimeKey()
	}
}

// Validate rejects nodes that cannot be stored.
func Validate(account string, conversationURI model.URI) error {
	if account == "" {
		return &ValidationError{Field: "account", Message: "must not be empty"}
	}
	if conversationURI.IsEmpty() {
		return &ValidationError{Field: "conversationUri", Message: "must not be empty"}
	}
	return nil
}

// MergeStatus applies a per-peer status to a stored node.
func MergeStatus(n *model.Interaction, peer string, st model.InteractionStatus) {
	if n.StatusMap == nil {
		n.StatusMap = map[string]model.InteractionStatus{}
	}
	n.StatusMap[model.ParseURI(peer).ID] = st
}

// Loader creates a HistoryStore from config.
type Loader func(ctx context.Context) (HistoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
