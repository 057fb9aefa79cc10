package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	kindSend      = "send"
	kindBroadcast = "broadcast"
	kindKick      = "kick"
)

type envelope struct {
	Origin    string          `json:"origin"`
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Relay extends a Hub across instances over Redis pub/sub. Frames for sessions
// owned here are queued directly; everything else is published on
// <prefix>:events and picked up by the instance that holds the session.
type Relay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	log     *zap.Logger

	mu   sync.Mutex
	sub  *redis.PubSub
	done chan struct{}
}

func NewRelay(hub *Hub, client *redis.Client, prefix string, log *zap.Logger) *Relay {
	return &Relay{
		hub:     hub,
		client:  client,
		channel: prefix + ":events",
		origin:  uuid.NewString(),
		log:     log,
	}
}

// Start subscribes and returns once the subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.mu.Lock()
	r.sub = sub
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(sub.Channel(), r.done)
	return nil
}

func (r *Relay) loop(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.Warn("relay: bad envelope", zap.Error(err))
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		switch env.Kind {
		case kindSend:
			r.hub.Send(env.SessionID, env.Event, env.Data)
		case kindBroadcast:
			r.hub.Broadcast(env.Event, env.Data)
		case kindKick:
			r.hub.Kick(env.SessionID)
		}
	}
}

// Close ends the subscription and waits for the receive loop.
func (r *Relay) Close() error {
	r.mu.Lock()
	sub, done := r.sub, r.done
	r.sub = nil
	r.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

func (r *Relay) publish(ctx context.Context, env envelope) error {
	env.Origin = r.origin
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Deliver implements notify.Transport across instances.
func (r *Relay) Deliver(ctx context.Context, sessionID, event string, payload any) (string, error) {
	if r.hub.Send(sessionID, event, payload) {
		return metrics.OutcomeSent, nil
	}
	if r.hub.Owns(sessionID) {
		return metrics.OutcomeDropped, errors.New("session buffer full")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return metrics.OutcomeFailed, err
	}
	if err := r.publish(ctx, envelope{Kind: kindSend, SessionID: sessionID, Event: event, Data: data}); err != nil {
		return metrics.OutcomeFailed, err
	}
	return metrics.OutcomeRelayed, nil
}

func (r *Relay) Broadcast(event string, payload any) {
	r.hub.Broadcast(event, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("relay: encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.publish(ctx, envelope{Kind: kindBroadcast, Event: event, Data: data}); err != nil {
		r.log.Warn("relay: publish broadcast", zap.String("event", event), zap.Error(err))
	}
}

func (r *Relay) Kick(sessionID string) {
	if r.hub.Owns(sessionID) {
		r.hub.Kick(sessionID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.publish(ctx, envelope{Kind: kindKick, SessionID: sessionID}); err != nil {
		r.log.Warn("relay: publish kick", zap.String("session_id", sessionID), zap.Error(err))
	}
}
