// Package feed decodes the inbound event feed and applies it to the engine.
package feed

import (
	"fmt"

	"github.com/chirino/swarm-sync/internal/model"
)

// Event types.
const (
	TypeAccountReady        = "accountReady"
	TypeInteraction         = "interaction"
	TypeStatusUpdate        = "statusUpdate"
	TypeTransferStatus      = "transferStatus"
	TypeInteractionRemoved  = "interactionRemoved"
	TypeHistoryCleared      = "historyCleared"
	TypeCallState           = "callState"
	TypeIncomingCall        = "incomingCall"
	TypeMediaChanged        = "mediaChanged"
	TypeConferenceCreated   = "conferenceCreated"
	TypeConferenceChanged   = "conferenceChanged"
	TypeConferenceRemoved   = "conferenceRemoved"
	TypeConferenceInfo      = "conferenceInfo"
	TypeRemoteRecording     = "remoteRecording"
	TypeTrustRequest        = "trustRequest"
	TypeTrustRequestRemoved = "trustRequestRemoved"
	TypeContactAdded        = "contactAdded"
	TypeContactRemoved      = "contactRemoved"
	TypeConversationReady   = "conversationReady"
	TypeConversationRemoved = "conversationRemoved"
	TypeMemberChanged       = "memberChanged"
	TypeComposing           = "composing"
	TypeActiveCalls         = "activeCalls"
	TypePreferences         = "preferences"
	TypeVisibility          = "visibility"
)

// Event is one entry of the feed. Type selects which fields are meaningful;
// enum values use the lenient parsers of the model package.
type Event struct {
	Type    string `json:"type"`
	Account string `json:"account,omitempty"`

	Conversation   model.URI `json:"conversation"`
	ConversationID string    `json:"conversationId,omitempty"`

	User  model.URI `json:"user"`
	Ready bool      `json:"ready,omitempty"`

	Interaction *model.Interaction `json:"interaction,omitempty"`
	NewMessage  bool               `json:"newMessage,omitempty"`
	MessageID   string             `json:"messageId,omitempty"`
	TransferID  string             `json:"transferId,omitempty"`
	Peer        string             `json:"peer,omitempty"`
	Status      string             `json:"status,omitempty"`
	Delete      bool               `json:"delete,omitempty"`

	CallID  string            `json:"callId,omitempty"`
	State   string            `json:"state,omitempty"`
	Details map[string]string `json:"details,omitempty"`
	Media   []model.Media     `json:"media,omitempty"`

	ConfID       string                  `json:"confId,omitempty"`
	Participants []string                `json:"participants,omitempty"`
	Info         []model.ParticipantInfo `json:"info,omitempty"`
	Recording    bool                    `json:"recording,omitempty"`

	Request *model.TrustRequest `json:"request,omitempty"`
	Contact *model.Contact      `json:"contact,omitempty"`
	Banned  bool                `json:"banned,omitempty"`

	Mode        string             `json:"mode,omitempty"`
	Members     []model.Member     `json:"members,omitempty"`
	Member      model.URI          `json:"member"`
	Role        string             `json:"role,omitempty"`
	ActiveCalls []model.ActiveCall `json:"activeCalls,omitempty"`
	Preferences map[string]string  `json:"preferences,omitempty"`
	Visible     bool               `json:"visible,omitempty"`
}

// InvalidEventError reports an event that cannot be applied as sent.
type InvalidEventError struct {
	Index   int
	Type    string
	Message string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("event %d (%s): %s", e.Index, e.Type, e.Message)
}
