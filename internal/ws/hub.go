package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fathima-sithara/message-service/internal/metrics"
	"go.uber.org/zap"
)

// Frame is the wire format of every server-to-client message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	TS    int64  `json:"ts"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: payload, TS: time.Now().UnixMilli()})
}

// Session is one live connection held by this instance.
type Session struct {
	ID     string
	UserID string

	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewSession(id, userID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// enqueue never blocks; a slow client loses frames.
func (s *Session) enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

// Close signals the writer to close the connection. Safe to call more than once.
func (s *Session) Close() { s.once.Do(func() { close(s.done) }) }

func (s *Session) Done() <-chan struct{} { return s.done }

// Hub owns the sessions connected to this instance, keyed by session id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewHub(m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		metrics:  m,
		log:      log,
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.metrics.SessionOpened()
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	cur, ok := h.sessions[s.ID]
	if ok && cur == s {
		delete(h.sessions, s.ID)
	}
	h.mu.Unlock()
	if ok && cur == s {
		h.metrics.SessionClosed()
	}
	s.Close()
}

func (h *Hub) session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Owns reports whether sessionID is connected to this instance.
func (h *Hub) Owns(sessionID string) bool {
	_, ok := h.session(sessionID)
	return ok
}

// Send queues a frame for a local session. It reports false if the session is
// not held here or its buffer is full.
func (h *Hub) Send(sessionID, event string, payload any) bool {
	s, ok := h.session(sessionID)
	if !ok {
		return false
	}
	b, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return s.enqueue(b)
}

// Broadcast queues a frame for every local session.
func (h *Hub) Broadcast(event string, payload any) {
	b, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.enqueue(b)
	}
}

// Kick closes a local session, typically one superseded by a newer connection.
func (h *Hub) Kick(sessionID string) {
	if s, ok := h.session(sessionID); ok {
		s.Close()
	}
}

// Deliver implements notify.Transport for a single instance.
func (h *Hub) Deliver(_ context.Context, sessionID, event string, payload any) (string, error) {
	if h.Send(sessionID, event, payload) {
		return metrics.OutcomeSent, nil
	}
	return metrics.OutcomeOffline, nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close closes every local session.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.Close()
	}
}
