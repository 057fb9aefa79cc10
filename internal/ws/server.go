package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/fathima-sithara/message-service/internal/presence"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const localUserID = "user_id"

// frameTimeout bounds the work triggered by one inbound frame.
const frameTimeout = 5 * time.Second

// Live event names owned by the presence layer.
const (
	EventOnlineUsers = "onlineUsers"
	EventPong        = "pong"
	EventError       = "error"
)

type TokenValidator interface {
	Validate(token string) (string, error)
}

// SeenMarker is the part of the lifecycle engine reachable from a live session.
type SeenMarker interface {
	MarkSeen(ctx context.Context, messageID, userID string) (*domain.Message, error)
}

// Fanout reaches sessions that may live on any instance.
type Fanout interface {
	Broadcast(event string, payload any)
	Kick(sessionID string)
}

type refresher interface {
	Refresh(ctx context.Context, userID string) error
}

type Options struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	InboundRate    float64
	InboundBurst   int
	SendBuffer     int
}

type Server struct {
	hub       *Hub
	fanout    Fanout
	dir       presence.Directory
	validator TokenValidator
	seen      SeenMarker
	opts      Options
	log       *zap.Logger
}

func NewServer(hub *Hub, fanout Fanout, dir presence.Directory, v TokenValidator, seen SeenMarker, opts Options, log *zap.Logger) *Server {
	if fanout == nil {
		fanout = hub
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.InboundRate <= 0 {
		opts.InboundRate = 10
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 20
	}
	return &Server{
		hub:       hub,
		fanout:    fanout,
		dir:       dir,
		validator: v,
		seen:      seen,
		opts:      opts,
		log:       log,
	}
}

// Upgrade authenticates ?token= before the websocket handshake.
func (s *Server) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, err := s.validator.Validate(c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token", "code": "unauthorized"})
	}
	c.Locals(localUserID, userID)
	return c.Next()
}

// Handler returns the fiber handler for the websocket route.
func (s *Server) Handler() fiber.Handler {
	return websocket.New(s.Handle)
}

func (s *Server) Handle(conn *websocket.Conn) {
	userID, _ := conn.Locals(localUserID).(string)
	if userID == "" {
		_ = conn.Close()
		return
	}
	ctx := context.Background()
	sess := NewSession(uuid.NewString(), userID, s.opts.SendBuffer)
	log := s.log.With(zap.String("user_id", userID), zap.String("session_id", sess.ID))

	s.hub.Register(sess)
	prev, err := s.dir.Connect(ctx, userID, sess.ID)
	if err != nil {
		log.Error("presence connect failed", zap.Error(err))
		s.hub.Unregister(sess)
		_ = conn.Close()
		return
	}
	if prev != "" {
		s.fanout.Kick(prev)
	}
	log.Info("session opened")
	s.broadcastRoster(ctx)

	writerDone := make(chan struct{})
	go s.writePump(conn, sess, writerDone)
	s.readPump(ctx, conn, sess, log)

	s.hub.Unregister(sess)
	<-writerDone

	removed, err := s.dir.Disconnect(ctx, userID, sess.ID)
	if err != nil {
		log.Warn("presence disconnect failed", zap.Error(err))
	}
	if removed {
		s.broadcastRoster(ctx)
	}
	log.Info("session closed")
}

func (s *Server) broadcastRoster(ctx context.Context) {
	users, err := s.dir.Online(ctx)
	if err != nil {
		s.log.Warn("online roster", zap.Error(err))
		return
	}
	s.fanout.Broadcast(EventOnlineUsers, users)
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type seenRequest struct {
	MessageID string `json:"message_id"`
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *Session, log *zap.Logger) {
	readWait := s.opts.PingInterval + s.opts.WriteDeadline
	limiter := rate.NewLimiter(rate.Limit(s.opts.InboundRate), s.opts.InboundBurst)

	conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		if r, ok := s.dir.(refresher); ok {
			_ = r.Refresh(ctx, sess.UserID)
		}
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		if !limiter.Allow() {
			s.hub.Send(sess.ID, EventError, errorPayload{Error: "too many frames", Code: "rate_limited"})
			continue
		}
		s.route(ctx, sess, data, log)
	}
}

func (s *Server) route(ctx context.Context, sess *Session, data []byte, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.hub.Send(sess.ID, EventError, errorPayload{Error: "malformed frame", Code: "invalid_argument"})
		return
	}

	switch in.Event {
	case "ping":
		s.hub.Send(sess.ID, EventPong, nil)
	case "markSeen":
		var req seenRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || req.MessageID == "" {
			s.hub.Send(sess.ID, EventError, errorPayload{Error: "message_id is required", Code: "invalid_argument"})
			return
		}
		if _, err := s.seen.MarkSeen(ctx, req.MessageID, sess.UserID); err != nil {
			log.Debug("markSeen rejected", zap.String("message_id", req.MessageID), zap.Error(err))
			s.hub.Send(sess.ID, EventError, errorPayload{Error: domain.PublicMessage(err), Code: domain.Code(err)})
		}
	default:
		s.hub.Send(sess.ID, EventError, errorPayload{Error: "unknown event " + in.Event, Code: "invalid_argument"})
	}
}

func (s *Server) writePump(conn *websocket.Conn, sess *Session, done chan<- struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case msg := <-sess.send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sess.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		case <-sess.done:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteDeadline))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
