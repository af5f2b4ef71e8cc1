package command

import (
	"context"
	"fmt"
	"time"
)

// Kind names the action a command asks the transport to take.
type Kind string

const (
	KindSendMessage     Kind = "sendMessage"
	KindLoadMessage     Kind = "loadMessage"
	KindAcceptCall      Kind = "acceptCall"
	KindRefuseCall      Kind = "refuseCall"
	KindHangUp          Kind = "hangUp"
	KindMuteParticipant Kind = "muteParticipant"
	KindSetDisplayed    Kind = "setMessageDisplayed"
)

// Command is a fire-and-forget request for the external transport. Its
// outcome is observed later on the inbound event feed.
type Command struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Account         string    `json:"account"`
	ConversationURI string    `json:"conversationUri,omitempty"`
	MessageID       string    `json:"messageId,omitempty"`
	CallID          string    `json:"callId,omitempty"`
	ConfID          string    `json:"confId,omitempty"`
	Peer            string    `json:"peer,omitempty"`
	Body            string    `json:"body,omitempty"`
	Muted           bool      `json:"muted,omitempty"`
	IssuedAt        time.Time `json:"issuedAt"`
}

// Sink hands commands to the transport. Send fails only when the command
// could not be handed over.
type Sink interface {
	Send(ctx context.Context, cmd Command) error
	Close() error
}

// Loader creates a Sink from config.
type Loader func(ctx context.Context) (Sink, error)

// Plugin represents a command sink plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a command sink plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered command sink names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named command sink.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown command sink %q; valid: %v", name, Names())
}
