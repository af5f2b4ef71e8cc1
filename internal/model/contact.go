package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	SchemeSwarm = "swarm"
	SchemeJami  = "jami"
)

// URI identifies a peer or a conversation ("jami:<id>", "swarm:<id>").
type URI struct {
	Scheme string `json:"scheme"`
	ID     string `json:"id"`
}

// ParseURI parses "scheme:id". A bare id is treated as a jami peer id.
func ParseURI(s string) URI {
	s = strings.TrimSpace(s)
	if scheme, id, ok := strings.Cut(s, ":"); ok && scheme != "" {
		return URI{Scheme: strings.ToLower(scheme), ID: id}
	}
	return URI{Scheme: SchemeJami, ID: s}
}

// SwarmURI builds the URI of a swarm conversation.
func SwarmURI(conversationID string) URI {
	return URI{Scheme: SchemeSwarm, ID: conversationID}
}

func (u URI) String() string {
	if u.ID == "" {
		return ""
	}
	return u.Scheme + ":" + u.ID
}

func (u URI) IsSwarm() bool { return u.Scheme == SchemeSwarm }
func (u URI) IsEmpty() bool { return u.ID == "" }

func (u URI) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *URI) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*u = URI{}
		return nil
	}
	*u = ParseURI(s)
	return nil
}

// Mode is the membership policy of a conversation.
type Mode string

const (
	ModeOneToOne         Mode = "ONE_TO_ONE"
	ModeAdminInvitesOnly Mode = "ADMIN_INVITES_ONLY"
	ModeInvitesOnly      Mode = "INVITES_ONLY"
	ModePublic           Mode = "PUBLIC"
	ModeSyncing          Mode = "SYNCING"
	ModeRequest          Mode = "REQUEST"
	ModeLegacy           Mode = "LEGACY"
)

// ParseMode accepts the daemon's numeric modes ("0".."3") and mode names.
// Unknown values become ModeSyncing.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "0":
		return ModeOneToOne
	case "1":
		return ModeAdminInvitesOnly
	case "2":
		return ModeInvitesOnly
	case "3":
		return ModePublic
	case ModeOneToOne, ModeAdminInvitesOnly, ModeInvitesOnly, ModePublic,
		ModeSyncing, ModeRequest, ModeLegacy:
		return m
	default:
		return ModeSyncing
	}
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*m = ModeSyncing
		return nil
	}
	switch v := raw.(type) {
	case string:
		*m = ParseMode(v)
	case float64:
		*m = ParseMode(strconv.Itoa(int(v)))
	default:
		*m = ModeSyncing
	}
	return nil
}

// IsGroupMode reports whether the mode describes a multi-member swarm.
func (m Mode) IsGroupMode() bool {
	return m == ModeAdminInvitesOnly || m == ModeInvitesOnly || m == ModePublic
}

// MemberRole is the role of a member inside a swarm group.
type MemberRole string

const (
	RoleAdmin   MemberRole = "ADMIN"
	RoleMember  MemberRole = "MEMBER"
	RoleInvited MemberRole = "INVITED"
	RoleBlocked MemberRole = "BLOCKED"
	RoleLeft    MemberRole = "LEFT"
)

// ParseMemberRole maps a wire role; unknown values become RoleMember.
func ParseMemberRole(s string) MemberRole {
	switch r := MemberRole(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleMember, RoleInvited, RoleBlocked, RoleLeft:
		return r
	case "BANNED":
		return RoleBlocked
	default:
		return RoleMember
	}
}

func (r *MemberRole) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*r = RoleMember
		return nil
	}
	*r = ParseMemberRole(s)
	return nil
}

// Member is one roster entry of a conversation.
type Member struct {
	URI    URI        `json:"uri"`
	Role   MemberRole `json:"role"`
	IsUser bool       `json:"isUser,omitempty"`
}

// ContactStatus is the trust state of a contact.
type ContactStatus string

const (
	ContactNoRequest   ContactStatus = "NO_REQUEST"
	ContactRequestSent ContactStatus = "REQUEST_SENT"
	ContactConfirmed   ContactStatus = "CONFIRMED"
	ContactBanned      ContactStatus = "BANNED"
)

// Contact is a peer known to an account. ConversationURI points at the
// conversation currently representing the peer.
type Contact struct {
	URI             URI           `json:"uri"`
	ConversationURI URI           `json:"conversationUri"`
	Status          ContactStatus `json:"status"`
	DisplayName     string        `json:"displayName,omitempty"`
	Username        string        `json:"username,omitempty"`
	AddedAt         int64         `json:"addedAt,omitempty"`
}

// IsBanned reports whether the contact was banned.
func (c *Contact) IsBanned() bool { return c.Status == ContactBanned }

// TrustRequest is an incoming invitation.
type TrustRequest struct {
	From            URI               `json:"from"`
	ConversationURI URI               `json:"conversationUri"`
	Mode            Mode              `json:"mode,omitempty"`
	Timestamp       int64             `json:"timestamp,omitempty"`
	Profile         map[string]string `json:"profile,omitempty"`
}

// ComposingStatus is a peer's typing state.
type ComposingStatus string

const (
	ComposingIdle   ComposingStatus = "IDLE"
	ComposingActive ComposingStatus = "ACTIVE"
)

// ParseComposingStatus maps "1"/"ACTIVE" to ComposingActive and everything
// else to ComposingIdle.
func ParseComposingStatus(s string) ComposingStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "ACTIVE":
		return ComposingActive
	default:
		return ComposingIdle
	}
}
