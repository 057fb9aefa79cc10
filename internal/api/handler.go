package api

import (
	"context"
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/fathima-sithara/message-service/internal/presence"
	"github.com/fathima-sithara/message-service/internal/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

type Handlers struct {
	messages *service.MessageService
	queries  *service.QueryService
	presence presence.Directory
	log      *zap.Logger
}

func NewHandlers(ms *service.MessageService, qs *service.QueryService, dir presence.Directory, log *zap.Logger) *Handlers {
	return &Handlers{messages: ms, queries: qs, presence: dir, log: log}
}

type attachmentBody struct {
	URL         string  `json:"url"`
	FileName    string  `json:"file_name"`
	DurationSec float64 `json:"duration_sec"`
}

type sendBody struct {
	Kind       string          `json:"kind"`
	Text       string          `json:"text"`
	Attachment *attachmentBody `json:"attachment"`
	ReplyTo    string          `json:"reply_to"`
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req sendBody
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	in := domain.SendInput{
		SenderID:   userID(c),
		ReceiverID: c.Params("user_id"),
		Kind:       domain.Kind(req.Kind),
		Text:       req.Text,
		ReplyToID:  req.ReplyTo,
	}
	if req.Attachment != nil {
		in.Attachment = &domain.Attachment{
			URL:         req.Attachment.URL,
			FileName:    req.Attachment.FileName,
			DurationSec: req.Attachment.DurationSec,
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	msg, err := h.messages.Send(ctx, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) getConversation(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	msgs, err := h.queries.Conversation(ctx, userID(c), c.Params("user_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *Handlers) markSeen(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	msg, err := h.messages.MarkSeen(ctx, c.Params("msg_id"), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": service.SeenPayload{
		MessageID: msg.ID,
		SeenAt:    *msg.SeenAt,
	}})
}

func (h *Handlers) editMessage(c *fiber.Ctx) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	msg, err := h.messages.Edit(ctx, c.Params("msg_id"), userID(c), body.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	var body struct {
		DeleteType string `json:"deleteType"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	mode := body.DeleteType
	if mode == "" {
		mode = c.Query("type")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	msgID := c.Params("msg_id")
	if err := h.messages.Delete(ctx, msgID, userID(c), service.DeleteMode(mode)); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": service.DeletedPayload{
		MessageID: msgID,
		Mode:      service.DeleteMode(mode),
	}})
}

func (h *Handlers) react(c *fiber.Ctx) error {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	reactions, err := h.messages.React(ctx, c.Params("msg_id"), userID(c), body.Emoji)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": reactions})
}

func (h *Handlers) onlineUsers(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	users, err := h.presence.Online(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": users})
}
