package api

import (
	"github.com/fathima-sithara/message-service/internal/auth"
	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/fathima-sithara/message-service/internal/presence"
	"github.com/fathima-sithara/message-service/internal/service"
	"github.com/fathima-sithara/message-service/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

type Deps struct {
	Messages  *service.MessageService
	Queries   *service.QueryService
	Presence  presence.Directory
	Validator *auth.JWTValidator
	// SendLimiter guards the send route. Nil disables rate limiting.
	SendLimiter fiber.Handler
	// Live is the websocket endpoint. Nil leaves /ws unmounted.
	Live    *ws.Server
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "message-service",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}
	if d.Live != nil {
		app.Get("/ws", d.Live.Upgrade, d.Live.Handler())
	}

	h := NewHandlers(d.Messages, d.Queries, d.Presence, d.Log)

	v1 := app.Group("/v1", RequireAuth(d.Validator))

	send := []fiber.Handler{h.sendMessage}
	if d.SendLimiter != nil {
		send = []fiber.Handler{d.SendLimiter, h.sendMessage}
	}
	v1.Post("/conversations/:user_id/messages", send...)
	v1.Get("/conversations/:user_id", h.getConversation)
	v1.Put("/messages/:msg_id/seen", h.markSeen)
	v1.Patch("/messages/:msg_id", h.editMessage)
	v1.Delete("/messages/:msg_id", h.deleteMessage)
	v1.Post("/messages/:msg_id/reactions", h.react)
	v1.Get("/presence/online", h.onlineUsers)

	return app
}
