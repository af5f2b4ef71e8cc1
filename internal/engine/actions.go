package engine

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/account"
	"github.com/chirino/swarm-sync/internal/model"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
)

// Local actions. Each one is handed to the command sink; the outcome is
// observed later on the event feed.

// SendMessage queues body in the conversation and asks the transport to send
// it. When the transport refuses, the optimistic node is marked failed and
// returned together with a *SendError.
func (e *Engine) SendMessage(ctx context.Context, accountID string, uri model.URI, body string) (model.Interaction, error) {
	a, err := e.Account(accountID)
	if err != nil {
		return model.Interaction{}, err
	}
	c := e.conversationFor(ctx, a, uri)
	n := c.Send(body)
	a.Publish()
	err = e.command(ctx, registrycommand.Command{
		Kind:            registrycommand.KindSendMessage,
		Account:         accountID,
		ConversationURI: uri.String(),
		MessageID:       n.MessageID,
		Body:            body,
	})
	if err == nil {
		return n, nil
	}
	log.Warn("Send failed", "account", accountID, "conversation", uri, "messageId", n.MessageID, "err", err)
	if failed, ok := c.MarkSendFailed(n.MessageID); ok {
		n = failed
	}
	a.Publish()
	return n, &SendError{ConversationURI: uri, MessageID: n.MessageID, Err: err}
}

// ReadMessages marks the trailing unread run read, newest first, and reports
// the swarm read cursor as displayed.
func (e *Engine) ReadMessages(ctx context.Context, accountID string, uri model.URI) ([]model.Interaction, error) {
	a, err := e.Account(accountID)
	if err != nil {
		return nil, err
	}
	c := e.conversationFor(ctx, a, uri)
	read := c.ReadMessages()
	if len(read) == 0 {
		return nil, nil
	}
	a.Publish()
	last := c.LastRead()
	if last == "" {
		return read, nil
	}
	err = e.command(ctx, registrycommand.Command{
		Kind:            registrycommand.KindSetDisplayed,
		Account:         accountID,
		ConversationURI: uri.String(),
		MessageID:       last,
	})
	return read, err
}

// LoadMessage returns a node, asking the transport for it when it has not
// arrived yet. It blocks until the node arrives, ctx ends or the
// conversation closes.
func (e *Engine) LoadMessage(ctx context.Context, accountID string, uri model.URI, messageID string) (model.Interaction, error) {
	a, err := e.Account(accountID)
	if err != nil {
		return model.Interaction{}, err
	}
	c := e.conversationFor(ctx, a, uri)
	return c.LoadMessage(ctx, messageID, func(id string) {
		if err := e.command(ctx, registrycommand.Command{
			Kind:            registrycommand.KindLoadMessage,
			Account:         accountID,
			ConversationURI: uri.String(),
			MessageID:       id,
		}); err != nil {
			log.Warn("Load request failed", "account", accountID, "conversation", uri, "messageId", id, "err", err)
		}
	})
}

func (e *Engine) AcceptCall(ctx context.Context, accountID, callID string) error {
	return e.callCommand(ctx, accountID, registrycommand.KindAcceptCall, callID)
}

func (e *Engine) RefuseCall(ctx context.Context, accountID, callID string) error {
	return e.callCommand(ctx, accountID, registrycommand.KindRefuseCall, callID)
}

func (e *Engine) HangUp(ctx context.Context, accountID, callID string) error {
	return e.callCommand(ctx, accountID, registrycommand.KindHangUp, callID)
}

func (e *Engine) callCommand(ctx context.Context, accountID string, kind registrycommand.Kind, callID string) error {
	a, err := e.Account(accountID)
	if err != nil {
		return err
	}
	cmd := registrycommand.Command{Kind: kind, Account: accountID, CallID: callID}
	if c, ok := a.ConversationForCall(callID); ok {
		cmd.ConversationURI = c.URI().String()
	}
	return e.command(ctx, cmd)
}

// MuteParticipant asks the conference host to mute or unmute a peer.
func (e *Engine) MuteParticipant(ctx context.Context, accountID, confID string, peer model.URI, muted bool) error {
	if _, err := e.Account(accountID); err != nil {
		return err
	}
	cmd := registrycommand.Command{
		Kind:    registrycommand.KindMuteParticipant,
		Account: accountID,
		ConfID:  confID,
		Peer:    peer.String(),
		Muted:   muted,
	}
	if host, ok := e.hostOf(accountID, confID); ok {
		cmd.ConversationURI = host.URI().String()
	}
	return e.command(ctx, cmd)
}

// Snapshot returns the account's observable state.
func (e *Engine) Snapshot(accountID string, includeBanned bool) (account.Snapshot, error) {
	a, err := e.Account(accountID)
	if err != nil {
		return account.Snapshot{}, err
	}
	return a.Snapshot(includeBanned), nil
}

// History returns the linear history of a known conversation.
func (e *Engine) History(ctx context.Context, accountID string, uri model.URI) ([]model.Interaction, error) {
	a, err := e.Account(accountID)
	if err != nil {
		return nil, err
	}
	c, ok := a.GetByURI(uri)
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", uri, ErrUnknownConversation)
	}
	e.seed(ctx, a, c)
	return c.History(), nil
}
