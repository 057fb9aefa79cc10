package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/fathima-sithara/message-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultEditWindow = 15 * time.Minute

type DeleteMode string

const (
	DeleteForEveryone DeleteMode = "everyone"
	DeleteForMe       DeleteMode = "me"
)

func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(s) {
	case DeleteForEveryone, DeleteForMe:
		return DeleteMode(s), nil
	}
	return "", fmt.Errorf("%w: delete type must be %q or %q", domain.ErrInvalidArgument, DeleteForEveryone, DeleteForMe)
}

type Options struct {
	EditWindow time.Duration
	// Now is the clock. Timestamps are truncated to milliseconds to match storage.
	Now func() time.Time
	// MaxRetries bounds optimistic retries of edit and reaction updates.
	MaxRetries uint64
}

// MessageService owns every mutation of a message: send, status transitions, edit,
// delete and reactions. Each mutation commits to the store first and then hands
// a live event to the Notifier; notification never affects the result.
type MessageService struct {
	store      repository.MessageStore
	notify     Notifier
	metrics    *metrics.Metrics
	log        *zap.Logger
	editWindow time.Duration
	now        func() time.Time
	maxRetries uint64
}

func NewMessageService(store repository.MessageStore, n Notifier, m *metrics.Metrics, log *zap.Logger, opts Options) *MessageService {
	if n == nil {
		n = nopNotifier{}
	}
	if opts.EditWindow <= 0 {
		opts.EditWindow = DefaultEditWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	return &MessageService{
		store:      store,
		notify:     n,
		metrics:    m,
		log:        log,
		editWindow: opts.EditWindow,
		now:        opts.Now,
		maxRetries: opts.MaxRetries,
	}
}

func (s *MessageService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *MessageService) record(op string, err error) {
	if err == nil {
		s.metrics.Operation(op, "ok")
		return
	}
	s.metrics.Operation(op, domain.Code(err))
}

// storeErr keeps domain errors as they are and reports anything else as internal.
func storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: message", domain.ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrInternal, op, err)
}

func (s *MessageService) load(ctx context.Context, id string) (*domain.Message, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrInvalidArgument)
	}
	m, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("find message", err)
	}
	return m, nil
}

// Send validates and persists a new message, then notifies the receiver. An
// unknown reply target is ignored and the message is stored as a plain one.
func (s *MessageService) Send(ctx context.Context, in domain.SendInput) (_ *domain.Message, err error) {
	defer func() { s.record("send", err) }()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	var target *domain.Message
	if in.ReplyToID != "" {
		t, err := s.store.FindByID(ctx, in.ReplyToID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, storeErr("find reply target", err)
		case t.InConversation(in.SenderID, in.ReceiverID):
			target = t
		}
	}

	now := s.clock()
	m := &domain.Message{
		ID:         uuid.NewString(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Kind:       in.Kind,
		Text:       in.Text,
		Attachment: in.Attachment,
		Status:     domain.StatusSent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if target != nil {
		m.IsReply = true
		m.ReplyTo = target.ID
	}
	m.Normalize()

	if err := s.store.Create(ctx, m); err != nil {
		return nil, storeErr("create message", err)
	}

	view := m.Clone()
	if target != nil {
		view.Reply = previewOf(target.ID, target)
	}
	s.notify.Emit(view.ReceiverID, EventNewMessage, view.ID, view)
	return view, nil
}

// MarkDelivered moves messages addressed to userID from sent to delivered and tells
// each sender. Only the messages this call transitioned are returned.
func (s *MessageService) MarkDelivered(ctx context.Context, ids []string, userID string) (_ []*domain.Message, err error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer func() { s.record("mark_delivered", err) }()

	updated, err := s.store.MarkDelivered(ctx, ids, userID, s.clock())
	if err != nil {
		return nil, storeErr("mark delivered", err)
	}
	for _, m := range updated {
		if m.DeliveredAt == nil {
			continue
		}
		s.notify.Emit(m.SenderID, EventMessageDelivered, m.ID, DeliveredPayload{
			MessageID:   m.ID,
			DeliveredAt: *m.DeliveredAt,
		})
	}
	return updated, nil
}

// MarkSeen lets the receiver attest that a message was seen. Repeating it is a
// no-op that keeps the first seenAt.
func (s *MessageService) MarkSeen(ctx context.Context, messageID, userID string) (_ *domain.Message, err error) {
	defer func() { s.record("mark_seen", err) }()

	m, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != userID {
		return nil, fmt.Errorf("%w: only the receiver can mark a message seen", domain.ErrForbidden)
	}

	updated, transitioned, err := s.store.MarkSeen(ctx, messageID, s.clock())
	if err != nil {
		return nil, storeErr("mark seen", err)
	}
	if transitioned && updated.SeenAt != nil {
		s.notify.Emit(updated.SenderID, EventMessageSeen, updated.ID, SeenPayload{
			MessageID: updated.ID,
			SeenAt:    *updated.SeenAt,
		})
	}
	return updated.Redacted(), nil
}

// Edit replaces the text of a message within the edit window of its creation.
// The first history entry is stamped with the creation time, later ones with the
// time of the edit that produced them.
func (s *MessageService) Edit(ctx context.Context, messageID, userID, text string) (_ *domain.Message, err error) {
	defer func() { s.record("edit", err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", domain.ErrInvalidArgument)
	}

	var updated *domain.Message
	err = s.retryConflicts(ctx, func() error {
		m, err := s.load(ctx, messageID)
		if err != nil {
			return err
		}
		if m.SenderID != userID {
			return fmt.Errorf("%w: only the sender can edit a message", domain.ErrForbidden)
		}
		if m.IsDeleted {
			return fmt.Errorf("%w: deleted messages cannot be edited", domain.ErrForbidden)
		}
		now := s.clock()
		if now.Sub(m.CreatedAt) > s.editWindow {
			return fmt.Errorf("%w: messages can only be edited within %s of sending", domain.ErrEditWindowExpired, s.editWindow)
		}

		entry := domain.EditEntry{Text: m.Text, EditedAt: now}
		if len(m.EditHistory) == 0 {
			entry.EditedAt = m.CreatedAt
		}
		updated, err = s.store.ApplyEdit(ctx, messageID, m.Version, text, entry, now)
		return err
	})
	if err != nil {
		return nil, s.mutationErr("apply edit", err)
	}

	view := s.withReply(ctx, updated)
	s.notify.Emit(view.ReceiverID, EventMessageEdited, view.ID, view)
	return view, nil
}

// Delete tombstones a message for both participants or hides it for the caller.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string, mode DeleteMode) (err error) {
	defer func() { s.record("delete", err) }()

	if _, err := ParseDeleteMode(string(mode)); err != nil {
		return err
	}
	m, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}

	switch mode {
	case DeleteForEveryone:
		if m.SenderID != userID {
			return fmt.Errorf("%w: only the sender can delete a message for everyone", domain.ErrForbidden)
		}
		if m.IsDeleted {
			return nil
		}
		if err := s.store.MarkDeletedForEveryone(ctx, messageID, s.clock()); err != nil {
			return storeErr("delete for everyone", err)
		}
		s.notify.Emit(m.ReceiverID, EventMessageDeleted, m.ID, DeletedPayload{MessageID: m.ID, Mode: DeleteForEveryone})
	case DeleteForMe:
		if !m.Participant(userID) {
			return fmt.Errorf("%w: not a participant of this conversation", domain.ErrForbidden)
		}
		if err := s.store.HideFor(ctx, messageID, userID, s.clock()); err != nil {
			return storeErr("delete for me", err)
		}
	}
	return nil
}

// React toggles userID's reaction and notifies both participants.
func (s *MessageService) React(ctx context.Context, messageID, userID, emoji string) (_ domain.Reactions, err error) {
	defer func() { s.record("react", err) }()

	if err := domain.ValidateEmoji(emoji); err != nil {
		return nil, err
	}

	var updated *domain.Message
	err = s.retryConflicts(ctx, func() error {
		m, err := s.load(ctx, messageID)
		if err != nil {
			return err
		}
		if !m.Participant(userID) {
			return fmt.Errorf("%w: not a participant of this conversation", domain.ErrForbidden)
		}
		next := m.Reactions.Toggle(userID, emoji)
		updated, err = s.store.ReplaceReactions(ctx, messageID, m.Version, next, s.clock())
		return err
	})
	if err != nil {
		return nil, s.mutationErr("replace reactions", err)
	}

	reactions := updated.Reactions.Clone()
	s.notify.EmitAll([]string{updated.SenderID, updated.ReceiverID}, EventMessageReaction, updated.ID,
		ReactionPayload{MessageID: updated.ID, Reactions: reactions})
	return reactions, nil
}

// retryConflicts reruns a read-modify-write while it loses version races.
func (s *MessageService) retryConflicts(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
}

func (s *MessageService) mutationErr(op string, err error) error {
	var known bool
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrForbidden, domain.ErrEditWindowExpired,
		domain.ErrInvalidArgument, domain.ErrInternal,
	} {
		if errors.Is(err, target) {
			known = true
			break
		}
	}
	if known {
		return err
	}
	if errors.Is(err, repository.ErrConflict) {
		s.log.Warn("optimistic update kept conflicting", zap.String("op", op))
	}
	return storeErr(op, err)
}

// withReply returns a copy of m with its reply preview resolved. Lookup failures
// degrade to a preview without quoted content.
func (s *MessageService) withReply(ctx context.Context, m *domain.Message) *domain.Message {
	view := m.Redacted()
	if !m.IsReply || m.ReplyTo == "" || m.IsDeleted {
		return view
	}
	target, err := s.store.FindByID(ctx, m.ReplyTo)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("resolve reply target", zap.String("message_id", m.ID), zap.Error(err))
	}
	view.Reply = previewOf(m.ReplyTo, target)
	return view
}

// previewOf builds the quoted part of a reply. target may be nil when the
// referenced message no longer exists.
func previewOf(id string, target *domain.Message) *domain.ReplyPreview {
	p := &domain.ReplyPreview{ID: id}
	if target == nil {
		return p
	}
	p.SenderID = target.SenderID
	if target.IsDeleted {
		p.Deleted = true
		p.Text = domain.DeletedPlaceholder
		return p
	}
	p.Text = target.Text
	return p
}
