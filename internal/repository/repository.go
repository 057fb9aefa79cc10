package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
)

// ErrConflict reports that a versioned update lost against a concurrent writer.
var ErrConflict = errors.New("version conflict")

// ErrNotFound is returned when no message matches the given id.
var ErrNotFound = domain.ErrNotFound

// MessageStore is the durable collection of messages. Every mutation is a single
// atomic document (or conditional multi-document) update.
type MessageStore interface {
	Create(ctx context.Context, m *domain.Message) error
	FindByID(ctx context.Context, id string) (*domain.Message, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*domain.Message, error)
	// FindConversation returns both directions between a and b, oldest first with
	// id as the tie-break.
	FindConversation(ctx context.Context, a, b string) ([]*domain.Message, error)

	// MarkDelivered moves the given messages addressed to receiverID from sent to
	// delivered and returns exactly the messages this call transitioned.
	MarkDelivered(ctx context.Context, ids []string, receiverID string, at time.Time) ([]*domain.Message, error)
	// MarkSeen moves a message to seen unless it already is. The bool reports whether
	// this call made the transition.
	MarkSeen(ctx context.Context, id string, at time.Time) (*domain.Message, bool, error)

	ApplyEdit(ctx context.Context, id string, version int64, text string, entry domain.EditEntry, at time.Time) (*domain.Message, error)
	ReplaceReactions(ctx context.Context, id string, version int64, reactions domain.Reactions, at time.Time) (*domain.Message, error)

	MarkDeletedForEveryone(ctx context.Context, id string, at time.Time) error
	HideFor(ctx context.Context, id, userID string, at time.Time) error
}
