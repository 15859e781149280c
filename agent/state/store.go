package state

import (
	"context"
	"errors"
)

var (
	ErrStateNotFound       = errors.New("conversation state not found")
	ErrNilState            = errors.New("conversation state is nil")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

// Store persists conversation ledgers. Load returns ErrStateNotFound for a
// conversation that has never executed a tool.
type Store interface {
	Load(ctx context.Context, conversationID string) (*ConversationState, error)
	Save(ctx context.Context, st *ConversationState) error
	Delete(ctx context.Context, conversationID string) error
}
