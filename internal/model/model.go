package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// InteractionType is the kind of a history node.
type InteractionType string

const (
	InteractionInvalid      InteractionType = "INVALID"
	InteractionText         InteractionType = "TEXT"
	InteractionCall         InteractionType = "CALL"
	InteractionContact      InteractionType = "CONTACT"
	InteractionDataTransfer InteractionType = "DATA_TRANSFER"
)

// ParseInteractionType maps a wire value to an InteractionType. Unknown values
// become InteractionInvalid.
func ParseInteractionType(s string) InteractionType {
	switch t := InteractionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case InteractionText, InteractionCall, InteractionContact, InteractionDataTransfer:
		return t
	case "TEXT/PLAIN":
		return InteractionText
	case "APPLICATION/CALL-HISTORY+JSON":
		return InteractionCall
	case "MEMBER":
		return InteractionContact
	case "APPLICATION/DATA-TRANSFER+JSON":
		return InteractionDataTransfer
	default:
		return InteractionInvalid
	}
}

func (t *InteractionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = InteractionInvalid
		return nil
	}
	*t = ParseInteractionType(s)
	return nil
}

// InteractionStatus is the local lifecycle state of a node.
type InteractionStatus string

const (
	StatusUnknown   InteractionStatus = "UNKNOWN"
	StatusSending   InteractionStatus = "SENDING"
	StatusSuccess   InteractionStatus = "SUCCESS"
	StatusDisplayed InteractionStatus = "DISPLAYED"
	StatusInvalid   InteractionStatus = "INVALID"
	StatusFailure   InteractionStatus = "FAILURE"

	StatusTransferCreated  InteractionStatus = "TRANSFER_CREATED"
	StatusTransferAccepted InteractionStatus = "TRANSFER_ACCEPTED"
	StatusTransferOngoing  InteractionStatus = "TRANSFER_ONGOING"
	StatusTransferFinished InteractionStatus = "TRANSFER_FINISHED"
	StatusTransferCanceled InteractionStatus = "TRANSFER_CANCELED"
	StatusTransferError    InteractionStatus = "TRANSFER_ERROR"
)

var knownStatuses = map[InteractionStatus]bool{
	StatusUnknown: true, StatusSending: true, StatusSuccess: true, StatusDisplayed: true,
	StatusInvalid: true, StatusFailure: true, StatusTransferCreated: true,
	StatusTransferAccepted: true, StatusTransferOngoing: true, StatusTransferFinished: true,
	StatusTransferCanceled: true, StatusTransferError: true,
}

// messageStates mirrors the daemon's numeric per-peer message states.
var messageStates = []InteractionStatus{
	StatusUnknown,   // 0
	StatusSending,   // 1
	StatusSuccess,   // 2
	StatusDisplayed, // 3
	StatusInvalid,   // 4
	StatusFailure,   // 5
	StatusFailure,   // 6 CANCELLED
}

// ParseInteractionStatus maps a wire value (name or daemon numeric state) to an
// InteractionStatus. Unknown values become StatusInvalid.
func ParseInteractionStatus(s string) InteractionStatus {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		if i := int(s[0] - '0'); i < len(messageStates) {
			return messageStates[i]
		}
		return StatusInvalid
	}
	switch s {
	case "SENT":
		return StatusSuccess
	case "READ":
		return StatusDisplayed
	case "CANCELLED", "CANCELED":
		return StatusFailure
	}
	if st := InteractionStatus(s); knownStatuses[st] {
		return st
	}
	return StatusInvalid
}

func (s *InteractionStatus) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = StatusInvalid
		return nil
	}
	switch v := raw.(type) {
	case string:
		*s = ParseInteractionStatus(v)
	case float64:
		i := int(v)
		if i >= 0 && i < len(messageStates) && float64(i) == v {
			*s = messageStates[i]
		} else {
			*s = StatusInvalid
		}
	default:
		*s = StatusInvalid
	}
	return nil
}

// Interaction is a single node of a conversation history.
//
// Swarm nodes are identified by MessageID and linked to their causal
// predecessor through ParentID. Legacy nodes have no MessageID and are ordered
// by Timestamp; ID is a local sequence number.
type Interaction struct {
	ID              int64                        `json:"id,omitempty"`
	MessageID       string                       `json:"messageId,omitempty"`
	ParentID        string                       `json:"parentId,omitempty"`
	Account         string                       `json:"account,omitempty"`
	ConversationURI string                       `json:"conversationUri,omitempty"`
	Type            InteractionType              `json:"type"`
	Timestamp       int64                        `json:"timestamp"`
	Author          string                       `json:"author,omitempty"`
	Incoming        bool                         `json:"incoming,omitempty"`
	Body            string                       `json:"body,omitempty"`
	Status          InteractionStatus            `json:"status,omitempty"`
	StatusMap       map[string]InteractionStatus `json:"statusMap,omitempty"`
	Read            bool                         `json:"read,omitempty"`
	Notified        bool                         `json:"notified,omitempty"`

	// Call nodes. Duration is zero for a call start (or a missed call).
	ConfID       string `json:"confId,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
	EndTimestamp int64  `json:"endTimestamp,omitempty"`

	// File transfer nodes.
	TransferID string `json:"transferId,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	TotalSize  int64  `json:"totalSize,omitempty"`

	// Edit and ReactTo name the target of an edit or reaction node.
	Edit    string `json:"edit,omitempty"`
	ReactTo string `json:"reactTo,omitempty"`

	Edits             []Interaction `json:"edits,omitempty"`
	Reactions         []Interaction `json:"reactions,omitempty"`
	DisplayedContacts []string      `json:"displayedContacts,omitempty"`
}

// IsSwarm reports whether the node belongs to a causal (swarm) history.
func (i *Interaction) IsSwarm() bool {
	return i.MessageID != ""
}

// TimeKey identifies a legacy node that arrived without a sequence id.
func (i *Interaction) TimeKey() string {
	return strconv.FormatInt(i.Timestamp, 10) + ":" + i.Author
}

// IsCallEnd reports whether the node is a call marker closing a conference.
func (i *Interaction) IsCallEnd() bool {
	return i.Type == InteractionCall && i.ConfID != "" && i.Duration != 0
}

// IsCallStart reports whether the node is a call marker opening a conference.
func (i *Interaction) IsCallStart() bool {
	return i.Type == InteractionCall && i.ConfID != "" && i.Duration == 0
}

// Deleted reports whether the latest edit retracted the body.
func (i *Interaction) Deleted() bool {
	return len(i.Edits) > 0 && i.Body == ""
}

// SetEnded copies end timing from a call-end node.
func (i *Interaction) SetEnded(end *Interaction) {
	i.Duration = end.Duration
	i.EndTimestamp = end.Timestamp
}

// Clone returns a deep copy safe to hand to another goroutine.
func (i *Interaction) Clone() Interaction {
	c := *i
	if i.StatusMap != nil {
		c.StatusMap = make(map[string]InteractionStatus, len(i.StatusMap))
		for k, v := range i.StatusMap {
			c.StatusMap[k] = v
		}
	}
	if i.Edits != nil {
		c.Edits = make([]Interaction, len(i.Edits))
		for n := range i.Edits {
			c.Edits[n] = i.Edits[n].Clone()
		}
	}
	if i.Reactions != nil {
		c.Reactions = make([]Interaction, len(i.Reactions))
		for n := range i.Reactions {
			c.Reactions[n] = i.Reactions[n].Clone()
		}
	}
	if i.DisplayedContacts != nil {
		c.DisplayedContacts = append([]string(nil), i.DisplayedContacts...)
	}
	return c
}

// ElementAction tags a history change.
type ElementAction string

const (
	ElementAdd    ElementAction = "ADD"
	ElementUpdate ElementAction = "UPDATE"
	ElementRemove ElementAction = "REMOVE"
)

// ElementEvent is one change to a conversation history.
type ElementEvent struct {
	Action      ElementAction `json:"action"`
	Interaction Interaction   `json:"interaction"`
}
