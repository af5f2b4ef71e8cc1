package engine

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
	registrystore "github.com/chirino/swarm-sync/internal/registry/store"
)

// Inbound event handlers. Unknown message, call and conference references
// are logged and ignored; only an unknown account is reported to the caller.

func (e *Engine) AccountReady(ctx context.Context, accountID string, user model.URI, ready bool) error {
	a, err := e.Account(accountID)
	if err != nil {
		if !e.cfg.AutoCreateAccounts {
			return err
		}
		if user.IsEmpty() {
			user = model.ParseURI(accountID)
		}
		a = e.AddAccount(accountID, user)
	}
	a.SetReady(ready)
	return nil
}

func (e *Engine) InteractionReceived(ctx context.Context, accountID string, uri model.URI, n model.Interaction, newMessage bool) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c := e.conversationFor(ctx, a, uri)
	held, _ := c.Receive(n, newMessage)
	if n.MessageID != "" || !uri.IsSwarm() {
		stored := n
		if !c.IsSwarm() {
			// Legacy nodes are stored as held, under the sequence id later
			// status updates refer to.
			stored = held
		}
		e.persist(ctx, accountID, uri, "save", func(s registrystore.HistoryStore) error {
			return s.SaveInteraction(ctx, accountID, uri, stored)
		})
	}
	a.Publish()
	return nil
}

func (e *Engine) StatusUpdate(ctx context.Context, accountID string, uri model.URI, messageID, peer string, st model.InteractionStatus) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c := e.conversationFor(ctx, a, uri)
	if !c.UpdateStatus(messageID, peer, st) {
		return nil
	}
	e.persist(ctx, accountID, uri, "status", func(s registrystore.HistoryStore) error {
		err := s.UpdateStatus(ctx, accountID, uri, messageID, peer, st)
		if registrystore.IsNotFound(err) {
			// Nodes created locally, such as committed calls, are not stored.
			return nil
		}
		return err
	})
	a.Publish()
	return nil
}

func (e *Engine) TransferStatus(ctx context.Context, accountID string, uri model.URI, transferID string, st model.InteractionStatus) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	if e.conversationFor(ctx, a, uri).UpdateTransfer(transferID, st) {
		a.Publish()
	}
	return nil
}

func (e *Engine) InteractionRemoved(ctx context.Context, accountID string, uri model.URI, messageID string) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	if !e.conversationFor(ctx, a, uri).RemoveInteraction(messageID) {
		log.Warn("Removal of unknown message ignored", "account", accountID, "conversation", uri, "messageId", messageID)
		metrics.UnknownReference("message")
		return nil
	}
	e.persist(ctx, accountID, uri, "remove", func(s registrystore.HistoryStore) error {
		if err := s.RemoveInteraction(ctx, accountID, uri, messageID); !registrystore.IsNotFound(err) {
			return err
		}
		return nil
	})
	a.Publish()
	return nil
}

func (e *Engine) HistoryCleared(ctx context.Context, accountID string, uri model.URI, del bool) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	e.conversationFor(ctx, a, uri).ClearHistory(del)
	e.persist(ctx, accountID, uri, "clear", func(s registrystore.HistoryStore) error {
		return s.ClearHistory(ctx, accountID, uri)
	})
	a.Publish()
	return nil
}

func (e *Engine) TrustRequestReceived(ctx context.Context, accountID string, req model.TrustRequest) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c, added := a.AddRequest(req)
	if added {
		e.seed(ctx, a, c)
	}
	return nil
}

func (e *Engine) TrustRequestRemoved(ctx context.Context, accountID string, uri model.URI) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c, known := a.GetByURI(uri)
	if !a.RemoveRequest(uri) {
		log.Warn("Removal of unknown request ignored", "account", accountID, "conversation", uri)
		metrics.UnknownReference("request")
		return nil
	}
	if known {
		e.forget(c)
	}
	return nil
}

func (e *Engine) ContactAdded(ctx context.Context, accountID string, contact model.Contact) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	a.ContactAdded(contact)
	return nil
}

func (e *Engine) ContactRemoved(ctx context.Context, accountID string, uri model.URI, banned bool) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	a.ContactRemoved(uri, banned)
	return nil
}

// ConversationReady registers a swarm conversation as active with its
// roster, replacing the peer's legacy conversation for one-to-one swarms.
func (e *Engine) ConversationReady(ctx context.Context, accountID, conversationID string, mode model.Mode, members []model.Member) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c := a.NewSwarm(conversationID, mode)
	c.SetMode(mode)
	if len(members) > 0 {
		c.SetMembers(members)
	}
	e.seed(ctx, a, c)
	a.ConversationStarted(c)
	return nil
}

func (e *Engine) ConversationRemoved(ctx context.Context, accountID, conversationID string) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c, known := a.GetSwarm(conversationID)
	if !a.RemoveSwarm(conversationID) {
		log.Warn("Removal of unknown conversation ignored", "account", accountID, "conversationId", conversationID)
		metrics.UnknownReference("conversation")
		return nil
	}
	if known {
		e.forget(c)
	}
	return nil
}

func (e *Engine) MemberChanged(ctx context.Context, accountID string, uri, member model.URI, role model.MemberRole) error {
	return e.withConversation(ctx, accountID, uri, func(c *conversation.Conversation) {
		c.UpdateMember(member, role)
	})
}

func (e *Engine) Composing(ctx context.Context, accountID string, uri, peer model.URI, status model.ComposingStatus) error {
	return e.withConversation(ctx, accountID, uri, func(c *conversation.Conversation) {
		c.SetComposing(peer, status)
	})
}

func (e *Engine) ActiveCalls(ctx context.Context, accountID string, uri model.URI, calls []model.ActiveCall) error {
	return e.withConversation(ctx, accountID, uri, func(c *conversation.Conversation) {
		c.SetActiveCalls(calls)
	})
}

func (e *Engine) Preferences(ctx context.Context, accountID string, uri model.URI, prefs map[string]string) error {
	return e.withConversation(ctx, accountID, uri, func(c *conversation.Conversation) {
		c.UpdatePreferences(prefs)
	})
}

func (e *Engine) Visibility(ctx context.Context, accountID string, uri model.URI, visible bool) error {
	return e.withConversation(ctx, accountID, uri, func(c *conversation.Conversation) {
		c.SetVisible(visible)
	})
}

func (e *Engine) withConversation(ctx context.Context, accountID string, uri model.URI, fn func(*conversation.Conversation)) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	fn(e.conversationFor(ctx, a, uri))
	a.Publish()
	return nil
}
