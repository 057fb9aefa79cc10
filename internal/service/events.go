package service

import (
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
)

// Live events emitted after a lifecycle mutation commits.
const (
	EventNewMessage       = "newMessage"
	EventMessageDelivered = "messageDelivered"
	EventMessageSeen      = "messageSeen"
	EventMessageEdited    = "messageEdited"
	EventMessageDeleted   = "messageDeleted"
	EventMessageReaction  = "messageReaction"
)

type DeliveredPayload struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type SeenPayload struct {
	MessageID string    `json:"message_id"`
	SeenAt    time.Time `json:"seen_at"`
}

type DeletedPayload struct {
	MessageID string     `json:"message_id"`
	Mode      DeleteMode `json:"mode"`
}

type ReactionPayload struct {
	MessageID string           `json:"message_id"`
	Reactions domain.Reactions `json:"reactions"`
}

// Notifier is the live side of commit-then-notify. Implementations must not block
// and must not report delivery failures.
type Notifier interface {
	Emit(userID, event, messageID string, payload any)
	EmitAll(userIDs []string, event, messageID string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Emit(string, string, string, any)       {}
func (nopNotifier) EmitAll([]string, string, string, any) {}
