package service

import (
	"context"
	"fmt"

	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/fathima-sithara/message-service/internal/repository"
	"go.uber.org/zap"
)

// QueryService assembles what one participant sees of a conversation.
type QueryService struct {
	store    repository.MessageStore
	messages *MessageService
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewQueryService(store repository.MessageStore, messages *MessageService, m *metrics.Metrics, log *zap.Logger) *QueryService {
	return &QueryService{store: store, messages: messages, metrics: m, log: log}
}

// Conversation returns the messages between selfID and otherID, oldest first,
// without those selfID deleted for themselves. Fetching counts as delivery: every
// returned message addressed to selfID that is still sent becomes delivered and is
// returned with its new status.
func (q *QueryService) Conversation(ctx context.Context, selfID, otherID string) (_ []*domain.Message, err error) {
	defer func() {
		if err != nil {
			q.metrics.Operation("get_conversation", domain.Code(err))
			return
		}
		q.metrics.Operation("get_conversation", "ok")
	}()

	if selfID == "" || otherID == "" || selfID == otherID {
		return nil, fmt.Errorf("%w: a conversation needs two distinct users", domain.ErrInvalidArgument)
	}

	msgs, err := q.store.FindConversation(ctx, selfID, otherID)
	if err != nil {
		return nil, storeErr("find conversation", err)
	}

	visible := make([]*domain.Message, 0, len(msgs))
	var replyIDs, pending []string
	for _, m := range msgs {
		if m.HiddenFor(selfID) {
			continue
		}
		visible = append(visible, m)
		if m.IsReply && m.ReplyTo != "" && !m.IsDeleted {
			replyIDs = append(replyIDs, m.ReplyTo)
		}
		if m.ReceiverID == selfID && m.Status.Before(domain.StatusDelivered) {
			pending = append(pending, m.ID)
		}
	}

	targets := map[string]*domain.Message{}
	if len(replyIDs) > 0 {
		found, err := q.store.FindByIDs(ctx, replyIDs)
		if err != nil {
			q.log.Warn("resolve reply targets", zap.String("user_id", selfID), zap.Error(err))
		} else {
			targets = found
		}
	}

	views := make([]*domain.Message, len(visible))
	index := make(map[string]int, len(visible))
	for i, m := range visible {
		v := m.Redacted()
		if m.IsReply && m.ReplyTo != "" && !m.IsDeleted {
			target := targets[m.ReplyTo]
			if target != nil && !target.InConversation(selfID, otherID) {
				target = nil
			}
			v.Reply = previewOf(m.ReplyTo, target)
		}
		views[i] = v
		index[v.ID] = i
	}

	if len(pending) > 0 {
		updated, err := q.messages.MarkDelivered(ctx, pending, selfID)
		if err != nil {
			q.log.Warn("mark delivered on fetch", zap.String("user_id", selfID), zap.Error(err))
		}
		for _, u := range updated {
			i, ok := index[u.ID]
			if !ok {
				continue
			}
			views[i].Status = u.Status
			views[i].DeliveredAt = u.DeliveredAt
			views[i].UpdatedAt = u.UpdatedAt
		}
	}
	return views, nil
}
