package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Event is one lifecycle notification as appended to the event stream.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"event"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id,omitempty"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

func NewEvent(name, userID, messageID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		UserID:    userID,
		MessageID: messageID,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
}

type Stream interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events. Used when kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStream appends events to a topic keyed by message id. Writes go through a
// circuit breaker so a broker outage fails fast instead of stalling dispatch.
type KafkaStream struct {
	w   writer
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

func NewKafkaStream(brokers []string, topic string, log *zap.Logger) *KafkaStream {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaStream(w, log)
}

func newKafkaStream(w writer, log *zap.Logger) *KafkaStream {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-lifecycle",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &KafkaStream{w: w, cb: cb, log: log}
}

func (s *KafkaStream) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := ev.MessageID
	if key == "" {
		key = ev.UserID
	}
	msg := kafka.Message{Key: []byte(key), Value: b, Time: ev.At}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.w.WriteMessages(ctx, msg)
	})
	return err
}

func (s *KafkaStream) Close() error { return s.w.Close() }
