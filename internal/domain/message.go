package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DeletedPlaceholder replaces the content of messages deleted for everyone.
const DeletedPlaceholder = "This message was deleted"

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"

	// StatusUnsent is reserved. No operation produces or consumes it.
	StatusUnsent Status = "unsent"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return 0
}

// Before reports whether s is strictly earlier than other in sent → delivered → seen.
func (s Status) Before(other Status) bool { return s.rank() < other.rank() }

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVoice    Kind = "voice"
	KindDocument Kind = "document"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindImage, KindVoice, KindDocument:
		return true
	}
	return false
}

// Attachment holds the kind-specific fields of a non-text message.
type Attachment struct {
	URL         string  `bson:"url" json:"url"`
	FileName    string  `bson:"file_name,omitempty" json:"file_name,omitempty"`
	DurationSec float64 `bson:"duration_sec,omitempty" json:"duration_sec,omitempty"`
}

type EditEntry struct {
	Text     string    `bson:"text" json:"text"`
	EditedAt time.Time `bson:"edited_at" json:"edited_at"`
}

// ReplyPreview is the quoted part of a reply, resolved at read time.
type ReplyPreview struct {
	ID       string `json:"id"`
	Text     string `json:"text,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

type Message struct {
	ID         string      `bson:"_id" json:"id"`
	SenderID   string      `bson:"sender_id" json:"sender_id"`
	ReceiverID string      `bson:"receiver_id" json:"receiver_id"`
	Kind       Kind        `bson:"kind" json:"kind"`
	Text       string      `bson:"text,omitempty" json:"text,omitempty"`
	Attachment *Attachment `bson:"attachment,omitempty" json:"attachment,omitempty"`

	IsReply bool          `bson:"is_reply" json:"is_reply"`
	ReplyTo string        `bson:"reply_to,omitempty" json:"-"`
	Reply   *ReplyPreview `bson:"-" json:"reply_to,omitempty"`

	IsEdited    bool        `bson:"is_edited" json:"is_edited"`
	EditHistory []EditEntry `bson:"edit_history" json:"edit_history"`

	IsDeleted  bool     `bson:"is_deleted" json:"is_deleted"`
	DeletedFor []string `bson:"deleted_for" json:"-"`

	Status      Status     `bson:"status" json:"status"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	SeenAt      *time.Time `bson:"seen_at,omitempty" json:"seen_at,omitempty"`

	Reactions Reactions `bson:"reactions" json:"reactions"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
	Version   int64     `bson:"version" json:"-"`
}

// Normalize replaces nil collections with empty ones.
func (m *Message) Normalize() {
	if m.EditHistory == nil {
		m.EditHistory = []EditEntry{}
	}
	if m.DeletedFor == nil {
		m.DeletedFor = []string{}
	}
	if m.Reactions == nil {
		m.Reactions = Reactions{}
	}
}

func (m *Message) Participant(userID string) bool {
	return userID == m.SenderID || userID == m.ReceiverID
}

func (m *Message) HiddenFor(userID string) bool {
	return slices.Contains(m.DeletedFor, userID)
}

// Counterpart returns the other participant of the conversation.
func (m *Message) Counterpart(userID string) string {
	if userID == m.SenderID {
		return m.ReceiverID
	}
	return m.SenderID
}

// InConversation reports whether m belongs to the conversation between a and b.
func (m *Message) InConversation(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.Reply != nil {
		r := *m.Reply
		c.Reply = &r
	}
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.SeenAt != nil {
		t := *m.SeenAt
		c.SeenAt = &t
	}
	c.EditHistory = slices.Clone(m.EditHistory)
	c.DeletedFor = slices.Clone(m.DeletedFor)
	c.Reactions = m.Reactions.Clone()
	return &c
}

// Redacted returns the view of m safe to render to any participant. Tombstoned
// messages lose their content and history; the stored document is untouched.
func (m *Message) Redacted() *Message {
	c := m.Clone()
	if !c.IsDeleted {
		return c
	}
	c.Text = DeletedPlaceholder
	c.Attachment = nil
	c.EditHistory = []EditEntry{}
	c.Reply = nil
	return c
}

// SendInput is the content of a new message as submitted by the sender.
type SendInput struct {
	SenderID   string
	ReceiverID string
	Kind       Kind
	Text       string
	Attachment *Attachment
	ReplyToID  string
}

// Validate checks the preconditions of a send and fills in the default kind.
func (in *SendInput) Validate() error {
	if in.SenderID == "" || in.ReceiverID == "" {
		return fmt.Errorf("%w: sender and receiver are required", ErrInvalidArgument)
	}
	if in.SenderID == in.ReceiverID {
		return fmt.Errorf("%w: cannot send a message to yourself", ErrInvalidArgument)
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Attachment != nil && in.Attachment.URL == "" {
		in.Attachment = nil
	}
	if in.Text == "" && in.Attachment == nil {
		return fmt.Errorf("%w: message must have text or an attachment", ErrInvalidArgument)
	}
	if in.Kind == "" {
		in.Kind = KindText
		if in.Attachment != nil {
			in.Kind = KindImage
		}
	}
	if !in.Kind.valid() {
		return fmt.Errorf("%w: unknown message kind %q", ErrInvalidArgument, in.Kind)
	}

	switch in.Kind {
	case KindText:
		if in.Attachment != nil {
			return fmt.Errorf("%w: text messages cannot carry an attachment", ErrInvalidArgument)
		}
	case KindImage:
		if in.Attachment == nil {
			return fmt.Errorf("%w: image url is required", ErrInvalidArgument)
		}
	case KindVoice:
		if in.Attachment == nil {
			return fmt.Errorf("%w: voice url is required", ErrInvalidArgument)
		}
		if in.Attachment.DurationSec < 0 {
			return fmt.Errorf("%w: voice duration must not be negative", ErrInvalidArgument)
		}
	case KindDocument:
		if in.Attachment == nil || in.Attachment.FileName == "" {
			return fmt.Errorf("%w: document url and file name are required", ErrInvalidArgument)
		}
	}
	return nil
}
