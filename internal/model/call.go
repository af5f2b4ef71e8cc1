package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CallStatus is the state of a call leg or of a conference.
type CallStatus string

const (
	CallNone       CallStatus = "NONE"
	CallSearching  CallStatus = "SEARCHING"
	CallConnecting CallStatus = "CONNECTING"
	CallRinging    CallStatus = "RINGING"
	CallCurrent    CallStatus = "CURRENT"
	CallHungUp     CallStatus = "HUNGUP"
	CallBusy       CallStatus = "BUSY"
	CallFailure    CallStatus = "FAILURE"
	CallHold       CallStatus = "HOLD"
	CallUnhold     CallStatus = "UNHOLD"
	CallInactive   CallStatus = "INACTIVE"
	CallOver       CallStatus = "OVER"
)

// ParseCallStatus maps a daemon call state to a CallStatus. INCOMING is an
// alias of RINGING; unknown values become CallNone.
func ParseCallStatus(s string) CallStatus {
	switch st := CallStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case "INCOMING", CallRinging:
		return CallRinging
	case CallSearching, CallConnecting, CallCurrent, CallHungUp, CallBusy,
		CallFailure, CallHold, CallUnhold, CallInactive, CallOver:
		return st
	default:
		return CallNone
	}
}

// ParseConferenceState maps a daemon conference state to a CallStatus.
func ParseConferenceState(s string) CallStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE_ATTACHED":
		return CallCurrent
	case "ACTIVE_DETACHED", "HOLD":
		return CallHold
	default:
		return CallNone
	}
}

func (s *CallStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = CallNone
		return nil
	}
	*s = ParseCallStatus(raw)
	return nil
}

func (s CallStatus) IsRinging() bool {
	return s == CallConnecting || s == CallRinging || s == CallNone || s == CallSearching
}

func (s CallStatus) IsOnGoing() bool {
	return s == CallCurrent || s == CallHold || s == CallUnhold
}

func (s CallStatus) IsOver() bool {
	return s == CallHungUp || s == CallBusy || s == CallFailure || s == CallOver
}

// Direction of a call leg.
type Direction int

const (
	DirectionIncoming Direction = 0
	DirectionOutgoing Direction = 1
)

// Call detail keys reported by the daemon.
const (
	DetailAccountID   = "ACCOUNTID"
	DetailCallType    = "CALL_TYPE"
	DetailCallState   = "CALL_STATE"
	DetailPeerNumber  = "PEER_NUMBER"
	DetailPeerHolding = "PEER_HOLDING"
	DetailAudioMuted  = "AUDIO_MUTED"
	DetailVideoMuted  = "VIDEO_MUTED"
	DetailAudioCodec  = "AUDIO_CODEC"
	DetailVideoCodec  = "VIDEO_CODEC"
	DetailConfID      = "CONF_ID"
)

// CallDetails is the typed form of a daemon call detail map.
type CallDetails struct {
	Account     string     `json:"account,omitempty"`
	Direction   Direction  `json:"direction"`
	State       CallStatus `json:"state,omitempty"`
	PeerURI     string     `json:"peerUri,omitempty"`
	PeerHolding bool       `json:"peerHolding,omitempty"`
	AudioMuted  bool       `json:"audioMuted,omitempty"`
	VideoMuted  bool       `json:"videoMuted,omitempty"`
	AudioCodec  string     `json:"audioCodec,omitempty"`
	VideoCodec  string     `json:"videoCodec,omitempty"`
	ConfID      string     `json:"confId,omitempty"`
}

// ParseCallDetails converts a raw daemon detail map.
func ParseCallDetails(m map[string]string) CallDetails {
	d := CallDetails{
		Account:     m[DetailAccountID],
		State:       ParseCallStatus(m[DetailCallState]),
		PeerURI:     m[DetailPeerNumber],
		PeerHolding: parseBool(m[DetailPeerHolding]),
		AudioMuted:  parseBool(m[DetailAudioMuted]),
		VideoMuted:  parseBool(m[DetailVideoMuted]),
		AudioCodec:  m[DetailAudioCodec],
		VideoCodec:  m[DetailVideoCodec],
		ConfID:      m[DetailConfID],
	}
	if n, err := strconv.Atoi(m[DetailCallType]); err == nil && n == int(DirectionOutgoing) {
		d.Direction = DirectionOutgoing
	}
	return d
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}

// MediaKind is the type of a media stream.
type MediaKind string

const (
	MediaAudio MediaKind = "AUDIO"
	MediaVideo MediaKind = "VIDEO"
)

// Media describes one negotiated media stream of a call leg.
type Media struct {
	Kind    MediaKind `json:"kind"`
	Label   string    `json:"label,omitempty"`
	Source  string    `json:"source,omitempty"`
	Enabled bool      `json:"enabled"`
	Muted   bool      `json:"muted"`
}

// CallLeg is one participant's media session.
type CallLeg struct {
	ID            string     `json:"id"`
	Account       string     `json:"account,omitempty"`
	PeerURI       string     `json:"peerUri,omitempty"`
	Direction     Direction  `json:"direction"`
	Status        CallStatus `json:"status"`
	Media         []Media    `json:"media,omitempty"`
	ConfID        string     `json:"confId,omitempty"`
	PeerHolding   bool       `json:"peerHolding,omitempty"`
	AudioCodec    string     `json:"audioCodec,omitempty"`
	VideoCodec    string     `json:"videoCodec,omitempty"`
	StartedAt     int64      `json:"startedAt,omitempty"`
	EstablishedAt int64      `json:"establishedAt,omitempty"`
	EndedAt       int64      `json:"endedAt,omitempty"`
}

// AudioMuted reports whether every audio stream is muted.
func (c *CallLeg) AudioMuted() bool {
	return allMuted(c.Media, MediaAudio)
}

// VideoMuted reports whether every video stream is muted or disabled.
func (c *CallLeg) VideoMuted() bool {
	return allMuted(c.Media, MediaVideo)
}

func allMuted(media []Media, kind MediaKind) bool {
	for _, m := range media {
		if m.Kind == kind && m.Enabled && !m.Muted {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (c *CallLeg) Clone() CallLeg {
	out := *c
	out.Media = append([]Media(nil), c.Media...)
	return out
}

// ParticipantInfo is the per-participant layout and moderation state of a
// conference.
type ParticipantInfo struct {
	URI             string `json:"uri"`
	Device          string `json:"device,omitempty"`
	SinkID          string `json:"sinkId,omitempty"`
	Active          bool   `json:"active,omitempty"`
	AudioLocalMuted bool   `json:"audioLocalMuted,omitempty"`
	AudioModMuted   bool   `json:"audioModeratorMuted,omitempty"`
	VideoMuted      bool   `json:"videoMuted,omitempty"`
	IsModerator     bool   `json:"isModerator,omitempty"`
	HandRaised      bool   `json:"handRaised,omitempty"`
	X               int    `json:"x,omitempty"`
	Y               int    `json:"y,omitempty"`
	W               int    `json:"w,omitempty"`
	H               int    `json:"h,omitempty"`
}

// Conference is a snapshot of a call session grouping one or more legs.
type Conference struct {
	ID          string            `json:"id"`
	Status      CallStatus        `json:"status"`
	Legs        []CallLeg         `json:"legs"`
	Info        []ParticipantInfo `json:"info,omitempty"`
	Recording   []string          `json:"recording,omitempty"`
	PendingJoin []string          `json:"pendingJoin,omitempty"`
	IsModerator bool              `json:"isModerator,omitempty"`
}

// IsSimpleCall reports whether the conference holds a single leg.
func (c *Conference) IsSimpleCall() bool {
	return len(c.Legs) == 1
}

// ActiveCall is a call advertised by a swarm conversation.
type ActiveCall struct {
	ConfID string `json:"confId"`
	URI    string `json:"uri"`
	Device string `json:"device"`
}
