package engine

import (
	"errors"
	"fmt"

	"github.com/chirino/swarm-sync/internal/model"
)

// SendError reports a local action the transport refused. The optimistic
// node stays in history with status FAILURE.
type SendError struct {
	ConversationURI model.URI
	MessageID       string
	Err             error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s in %s failed: %v", e.MessageID, e.ConversationURI, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// UnknownAccountError is returned for an account the engine does not serve.
type UnknownAccountError struct {
	ID string
}

func (e *UnknownAccountError) Error() string {
	return fmt.Sprintf("unknown account: %s", e.ID)
}

// CommandError wraps a command the sink could not hand over.
type CommandError struct {
	Kind string
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ErrUnknownConversation is returned by reads naming a conversation the
// account does not hold.
var ErrUnknownConversation = errors.New("unknown conversation")
