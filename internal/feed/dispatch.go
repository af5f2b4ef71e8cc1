package feed

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/engine"
	"github.com/chirino/swarm-sync/internal/metrics"
	"github.com/chirino/swarm-sync/internal/model"
)

// Dispatch applies events in order and returns how many were applied.
// account, when set, is the account every event targets; an event naming a
// different one is rejected. Unknown event types are counted and skipped.
// Dispatch stops at the first error.
func Dispatch(ctx context.Context, eng *engine.Engine, account string, events []Event) (int, error) {
	applied := 0
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if account != "" {
			if ev.Account != "" && ev.Account != account {
				return applied, &InvalidEventError{Index: i, Type: ev.Type, Message: "account " + ev.Account + " does not match " + account}
			}
			ev.Account = account
		}
		if ev.Account == "" {
			return applied, &InvalidEventError{Index: i, Type: ev.Type, Message: "missing account"}
		}
		ok, err := apply(ctx, eng, i, ev)
		if err != nil {
			return applied, err
		}
		if ok {
			metrics.EventApplied(ev.Type)
			applied++
		}
	}
	return applied, nil
}

func apply(ctx context.Context, eng *engine.Engine, i int, ev Event) (bool, error) {
	invalid := func(msg string) (bool, error) {
		return false, &InvalidEventError{Index: i, Type: ev.Type, Message: msg}
	}
	acc := ev.Account

	switch ev.Type {
	case TypeAccountReady:
		return true, eng.AccountReady(ctx, acc, ev.User, ev.Ready)

	case TypeInteraction:
		if ev.Interaction == nil || ev.Conversation.IsEmpty() {
			return invalid("interaction and conversation are required")
		}
		return true, eng.InteractionReceived(ctx, acc, ev.Conversation, *ev.Interaction, ev.NewMessage)
	case TypeStatusUpdate:
		if ev.MessageID == "" || ev.Conversation.IsEmpty() {
			return invalid("messageId and conversation are required")
		}
		return true, eng.StatusUpdate(ctx, acc, ev.Conversation, ev.MessageID, ev.Peer, model.ParseInteractionStatus(ev.Status))
	case TypeTransferStatus:
		if ev.TransferID == "" || ev.Conversation.IsEmpty() {
			return invalid("transferId and conversation are required")
		}
		return true, eng.TransferStatus(ctx, acc, ev.Conversation, ev.TransferID, model.ParseInteractionStatus(ev.Status))
	case TypeInteractionRemoved:
		if ev.MessageID == "" || ev.Conversation.IsEmpty() {
			return invalid("messageId and conversation are required")
		}
		return true, eng.InteractionRemoved(ctx, acc, ev.Conversation, ev.MessageID)
	case TypeHistoryCleared:
		if ev.Conversation.IsEmpty() {
			return invalid("conversation is required")
		}
		return true, eng.HistoryCleared(ctx, acc, ev.Conversation, ev.Delete)

	case TypeCallState, TypeIncomingCall:
		if ev.CallID == "" {
			return invalid("callId is required")
		}
		details := model.ParseCallDetails(ev.Details)
		if ev.Peer != "" {
			details.PeerURI = ev.Peer
		}
		if ev.Type == TypeIncomingCall {
			return true, eng.IncomingCall(ctx, acc, ev.CallID, ev.Conversation, details)
		}
		status := details.State
		if ev.State != "" {
			status = model.ParseCallStatus(ev.State)
		}
		return true, eng.CallStateChanged(ctx, acc, ev.CallID, ev.Conversation, status, details)
	case TypeMediaChanged:
		if ev.CallID == "" {
			return invalid("callId is required")
		}
		return true, eng.MediaChanged(ctx, acc, ev.CallID, ev.Media)
	case TypeConferenceCreated:
		if ev.ConfID == "" {
			return invalid("confId is required")
		}
		return true, eng.ConferenceCreated(ctx, acc, ev.ConfID, ev.Conversation, ev.Participants)
	case TypeConferenceChanged:
		if ev.ConfID == "" {
			return invalid("confId is required")
		}
		return true, eng.ConferenceChanged(ctx, acc, ev.ConfID, ev.Conversation, ev.Participants, ev.State)
	case TypeConferenceRemoved:
		if ev.ConfID == "" {
			return invalid("confId is required")
		}
		return true, eng.ConferenceRemoved(ctx, acc, ev.ConfID)
	case TypeConferenceInfo:
		if ev.ConfID == "" {
			return invalid("confId is required")
		}
		return true, eng.ConferenceInfo(ctx, acc, ev.ConfID, ev.Info)
	case TypeRemoteRecording:
		if ev.ConfID == "" || ev.Peer == "" {
			return invalid("confId and peer are required")
		}
		return true, eng.RemoteRecording(ctx, acc, ev.ConfID, model.ParseURI(ev.Peer), ev.Recording)

	case TypeTrustRequest:
		if ev.Request == nil || ev.Request.From.IsEmpty() {
			return invalid("request.from is required")
		}
		return true, eng.TrustRequestReceived(ctx, acc, *ev.Request)
	case TypeTrustRequestRemoved:
		if ev.Conversation.IsEmpty() {
			return invalid("conversation is required")
		}
		return true, eng.TrustRequestRemoved(ctx, acc, ev.Conversation)
	case TypeContactAdded:
		if ev.Contact == nil || ev.Contact.URI.IsEmpty() {
			return invalid("contact.uri is required")
		}
		return true, eng.ContactAdded(ctx, acc, *ev.Contact)
	case TypeContactRemoved:
		if ev.Peer == "" {
			return invalid("peer is required")
		}
		return true, eng.ContactRemoved(ctx, acc, model.ParseURI(ev.Peer), ev.Banned)

	case TypeConversationReady:
		if ev.ConversationID == "" {
			return invalid("conversationId is required")
		}
		return true, eng.ConversationReady(ctx, acc, ev.ConversationID, model.ParseMode(ev.Mode), ev.Members)
	case TypeConversationRemoved:
		if ev.ConversationID == "" {
			return invalid("conversationId is required")
		}
		return true, eng.ConversationRemoved(ctx, acc, ev.ConversationID)
	case TypeMemberChanged:
		if ev.Conversation.IsEmpty() || ev.Member.IsEmpty() {
			return invalid("conversation and member are required")
		}
		return true, eng.MemberChanged(ctx, acc, ev.Conversation, ev.Member, model.ParseMemberRole(ev.Role))
	case TypeComposing:
		if ev.Conversation.IsEmpty() || ev.Peer == "" {
			return invalid("conversation and peer are required")
		}
		return true, eng.Composing(ctx, acc, ev.Conversation, model.ParseURI(ev.Peer), model.ParseComposingStatus(ev.Status))
	case TypeActiveCalls:
		if ev.Conversation.IsEmpty() {
			return invalid("conversation is required")
		}
		return true, eng.ActiveCalls(ctx, acc, ev.Conversation, ev.ActiveCalls)
	case TypePreferences:
		if ev.Conversation.IsEmpty() {
			return invalid("conversation is required")
		}
		return true, eng.Preferences(ctx, acc, ev.Conversation, ev.Preferences)
	case TypeVisibility:
		if ev.Conversation.IsEmpty() {
			return invalid("conversation is required")
		}
		return true, eng.Visibility(ctx, acc, ev.Conversation, ev.Visible)
	}

	log.Warn("Unknown event type ignored", "account", acc, "type", ev.Type, "index", i)
	metrics.UnknownReference("event")
	return false, nil
}
