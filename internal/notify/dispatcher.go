package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fathima-sithara/message-service/internal/events"
	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/fathima-sithara/message-service/internal/presence"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("dispatcher closed")

// Transport hands a frame to a live session. The returned outcome is one of the
// metrics.Outcome* values.
type Transport interface {
	Deliver(ctx context.Context, sessionID, event string, payload any) (string, error)
}

type Options struct {
	Workers   int
	QueueSize int
	// Timeout bounds the live part of one job: presence lookups and transport writes.
	Timeout time.Duration
	// StreamTimeout bounds one stream append. Appends run on their own goroutine
	// and never hold up live delivery.
	StreamTimeout time.Duration
}

type job struct {
	users     []string
	event     string
	messageID string
	payload   any
}

// Dispatcher delivers live events off the caller's path. Enqueue never blocks: a
// full queue drops the event. At most one delivery attempt is made per session.
// Stream appends go through a separate bounded queue drained by one appender.
type Dispatcher struct {
	dir           presence.Directory
	transport     Transport
	stream        events.Stream
	metrics       *metrics.Metrics
	log           *zap.Logger
	timeout       time.Duration
	streamTimeout time.Duration

	mu       sync.RWMutex
	closed   bool
	queue    chan job
	wg       sync.WaitGroup
	appends  chan events.Event
	appender sync.WaitGroup
}

func NewDispatcher(dir presence.Directory, transport Transport, stream events.Stream, m *metrics.Metrics, log *zap.Logger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 5 * time.Second
	}
	if stream == nil {
		stream = events.Nop{}
	}
	d := &Dispatcher{
		dir:           dir,
		transport:     transport,
		stream:        stream,
		metrics:       m,
		log:           log,
		timeout:       opts.Timeout,
		streamTimeout: opts.StreamTimeout,
		queue:         make(chan job, opts.QueueSize),
		appends:       make(chan events.Event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.appender.Add(1)
	go d.appendLoop()
	return d
}

// Emit queues event for the live session of userID.
func (d *Dispatcher) Emit(userID, event, messageID string, payload any) {
	d.enqueue(job{users: []string{userID}, event: event, messageID: messageID, payload: payload})
}

// EmitAll queues event for every listed user. Users resolving to the same session
// receive a single frame.
func (d *Dispatcher) EmitAll(userIDs []string, event, messageID string, payload any) {
	d.enqueue(job{users: userIDs, event: event, messageID: messageID, payload: payload})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(j, ErrClosed)
		return
	}
	select {
	case d.queue <- j:
	default:
		d.drop(j, errors.New("queue full"))
	}
}

func (d *Dispatcher) drop(j job, reason error) {
	d.metrics.Dispatch(j.event, metrics.OutcomeDropped)
	d.log.Warn("dropping live event",
		zap.String("event", j.event),
		zap.String("message_id", j.messageID),
		zap.Error(reason))
}

// Close stops accepting events, drains what is queued and waits for the workers
// and the stream appender.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()

	close(d.appends)
	d.appender.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.process(j)
	}
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	seen := make(map[string]struct{}, len(j.users))
	for _, userID := range j.users {
		if userID == "" {
			continue
		}
		d.deliver(ctx, userID, j, seen)
		d.publish(userID, j)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, userID string, j job, seen map[string]struct{}) {
	sid, ok, err := d.dir.Resolve(ctx, userID)
	if err != nil {
		d.metrics.Dispatch(j.event, metrics.OutcomeFailed)
		d.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !ok {
		d.metrics.Dispatch(j.event, metrics.OutcomeOffline)
		return
	}
	if _, dup := seen[sid]; dup {
		return
	}
	seen[sid] = struct{}{}

	outcome, err := d.transport.Deliver(ctx, sid, j.event, j.payload)
	d.metrics.Dispatch(j.event, outcome)
	if err != nil {
		d.log.Debug("live delivery failed",
			zap.String("event", j.event),
			zap.String("user_id", userID),
			zap.String("session_id", sid),
			zap.Error(err))
	}
}

// publish hands the event to the appender. A full append queue drops it.
func (d *Dispatcher) publish(userID string, j job) {
	ev := events.NewEvent(j.event, userID, j.messageID, j.payload)
	select {
	case d.appends <- ev:
	default:
		d.log.Warn("event stream backlog full, dropping",
			zap.String("event", j.event),
			zap.String("message_id", j.messageID))
	}
}

func (d *Dispatcher) appendLoop() {
	defer d.appender.Done()
	for ev := range d.appends {
		ctx, cancel := context.WithTimeout(context.Background(), d.streamTimeout)
		if err := d.stream.Publish(ctx, ev); err != nil {
			d.log.Debug("event stream append failed",
				zap.String("event", ev.Name),
				zap.String("message_id", ev.MessageID),
				zap.Error(err))
		}
		cancel()
	}
}
