package engine

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/account"
	"github.com/chirino/swarm-sync/internal/conversation"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
)

// callOwner picks the conversation a call leg belongs to: the one already
// routed, then the conversation named by the event, then the one hosting a
// conference that announced the leg, then the peer's conversation.
func (e *Engine) callOwner(ctx context.Context, a *account.Account, callID string, uri model.URI, peer string) *conversation.Conversation {
	if c, ok := a.ConversationForCall(callID); ok {
		return c
	}
	if !uri.IsEmpty() {
		return e.conversationFor(ctx, a, uri)
	}
	if peer != "" {
		c := a.ConversationForPeer(model.ParseURI(peer))
		e.seed(ctx, a, c)
		return c
	}
	return nil
}

// CallStateChanged applies a leg state change to the conversation owning
// the leg. A leg nobody owns and that carries no peer is ignored.
func (e *Engine) CallStateChanged(ctx context.Context, accountID, callID string, uri model.URI, status model.CallStatus, details model.CallDetails) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c := e.callOwner(ctx, a, callID, uri, details.PeerURI)
	if c == nil {
		log.Warn("State change for unroutable call ignored", "account", accountID, "callId", callID, "state", status)
		metrics.UnknownReference("call")
		return nil
	}
	if details.Account == "" {
		details.Account = accountID
	}
	c.CallStateChanged(callID, status, details)
	if c.HasCall(callID) {
		a.RouteCall(callID, c)
	} else {
		a.ForgetCall(callID)
	}
	a.Publish()
	return nil
}

// IncomingCall is a ringing state change for a new incoming leg.
func (e *Engine) IncomingCall(ctx context.Context, accountID, callID string, uri model.URI, details model.CallDetails) error {
	details.Direction = model.DirectionIncoming
	return e.CallStateChanged(ctx, accountID, callID, uri, model.CallRinging, details)
}

func (e *Engine) MediaChanged(ctx context.Context, accountID, callID string, media []model.Media) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	c, ok := a.ConversationForCall(callID)
	if !ok {
		log.Warn("Media change for unknown call ignored", "account", accountID, "callId", callID)
		metrics.UnknownReference("call")
		return nil
	}
	if c.MediaChanged(callID, media) {
		a.Publish()
	}
	return nil
}

// ConferenceCreated groups legs that may live in different conversations.
// The conference is hosted by the conversation named by the event or, failing
// that, by the owner of the first known participant; legs owned elsewhere
// move to the host, and unknown participants are routed to it so that their
// first state change lands there.
func (e *Engine) ConferenceCreated(ctx context.Context, accountID, confID string, uri model.URI, participants []string) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	host := e.conferenceHost(ctx, a, confID, uri, participants)
	if host == nil {
		log.Warn("Conference without known participants ignored", "account", accountID, "confId", confID)
		metrics.UnknownReference("conference")
		return nil
	}
	e.gather(a, host, participants)
	e.mu.Lock()
	e.conferences[confKey{accountID, confID}] = host
	e.mu.Unlock()
	host.ConferenceCreated(confID, participants)
	a.Publish()
	return nil
}

func (e *Engine) ConferenceChanged(ctx context.Context, accountID, confID string, uri model.URI, participants []string, state string) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	host, ok := e.hostOf(accountID, confID)
	if !ok {
		host = e.conferenceHost(ctx, a, confID, uri, participants)
		if host == nil {
			log.Warn("Change for unknown conference ignored", "account", accountID, "confId", confID)
			metrics.UnknownReference("conference")
			return nil
		}
	}
	e.gather(a, host, participants)
	if host.ConferenceChanged(confID, participants, state) {
		a.Publish()
	}
	return nil
}

func (e *Engine) ConferenceRemoved(ctx context.Context, accountID, confID string) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	host, ok := e.hostOf(accountID, confID)
	if !ok {
		log.Warn("Removal of unknown conference ignored", "account", accountID, "confId", confID)
		metrics.UnknownReference("conference")
		return nil
	}
	e.mu.Lock()
	delete(e.conferences, confKey{accountID, confID})
	e.mu.Unlock()
	if host.ConferenceRemoved(confID) {
		a.Publish()
	}
	return nil
}

func (e *Engine) ConferenceInfo(ctx context.Context, accountID, confID string, info []model.ParticipantInfo) error {
	return e.withConference(accountID, confID, func(c *conversation.Conversation) bool {
		return c.ConferenceInfoUpdated(confID, info)
	})
}

func (e *Engine) RemoteRecording(ctx context.Context, accountID, confID string, peer model.URI, recording bool) error {
	return e.withConference(accountID, confID, func(c *conversation.Conversation) bool {
		return c.RemoteRecordingChanged(confID, peer, recording)
	})
}

// withConference runs fn on the conversation hosting confID, which may also
// be a simple call id.
func (e *Engine) withConference(accountID, confID string, fn func(*conversation.Conversation) bool) error {
	a, err := e.account(accountID)
	if err != nil {
		return err
	}
	host, ok := e.hostOf(accountID, confID)
	if !ok {
		host, ok = a.ConversationForCall(confID)
	}
	if !ok {
		log.Warn("Update for unknown conference ignored", "account", accountID, "confId", confID)
		metrics.UnknownReference("conference")
		return nil
	}
	if fn(host) {
		a.Publish()
	}
	return nil
}

func (e *Engine) hostOf(accountID, confID string) (*conversation.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conferences[confKey{accountID, confID}]
	return c, ok
}

func (e *Engine) conferenceHost(ctx context.Context, a *account.Account, confID string, uri model.URI, participants []string) *conversation.Conversation {
	if c, ok := e.hostOf(a.ID(), confID); ok {
		return c
	}
	if !uri.IsEmpty() {
		return e.conversationFor(ctx, a, uri)
	}
	for _, id := range participants {
		if c, ok := a.ConversationForCall(id); ok {
			return c
		}
	}
	return nil
}

// gather moves the participants' legs into host.
func (e *Engine) gather(a *account.Account, host *conversation.Conversation, participants []string) {
	for _, id := range participants {
		owner, ok := a.ConversationForCall(id)
		if ok && owner != host {
			if leg, released := owner.ReleaseCall(id); released {
				host.AdoptCall(leg)
			}
		}
		a.RouteCall(id, host)
	}
}
