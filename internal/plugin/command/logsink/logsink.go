// Package log provides a command sink that only logs commands. It is the
// default when no transport is attached.
package logsink

import (
	"context"

	"github.com/charmbracelet/log"
	registrycommand "github.com/chirino/swarm-sync/internal/registry/command"
)

func init() {
	registrycommand.Register(registrycommand.Plugin{
		Name: "log",
		Loader: func(ctx context.Context) (registrycommand.Sink, error) {
			return &Sink{}, nil
		},
	})
}

type Sink struct{}

func (s *Sink) Send(_ context.Context, cmd registrycommand.Command) error {
	log.Info("Command", "kind", cmd.Kind, "id", cmd.ID, "account", cmd.Account,
		"conversation", cmd.ConversationURI, "messageId", cmd.MessageID, "callId", cmd.CallID)
	return nil
}

func (s *Sink) Close() error { return nil }
