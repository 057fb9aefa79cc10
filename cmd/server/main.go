package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/message-service/internal/api"
	"github.com/fathima-sithara/message-service/internal/auth"
	"github.com/fathima-sithara/message-service/internal/config"
	"github.com/fathima-sithara/message-service/internal/events"
	"github.com/fathima-sithara/message-service/internal/logger"
	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/fathima-sithara/message-service/internal/notify"
	"github.com/fathima-sithara/message-service/internal/presence"
	"github.com/fathima-sithara/message-service/internal/repository"
	"github.com/fathima-sithara/message-service/internal/service"
	"github.com/fathima-sithara/message-service/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const connectTimeout = 30 * time.Second

// Server holds the process dependencies.
type Server struct {
	Cfg        *config.Config
	Log        *zap.Logger
	App        *fiber.App
	Mongo      *mongo.Client
	Redis      *redis.Client
	Hub        *ws.Hub
	Relay      *ws.Relay
	Dispatcher *notify.Dispatcher
	Stream     events.Stream
}

// NewServer builds every dependency. Errors if a required one is unreachable.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	s := &Server{Cfg: cfg, Log: log}
	m := metrics.New()

	store, err := s.messageStore(ctx)
	if err != nil {
		s.Shutdown(context.Background())
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		s.Redis, err = newRedis(ctx, cfg.Redis, log)
		if err != nil {
			s.Shutdown(context.Background())
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	var dir presence.Directory = presence.NewMemoryDirectory()
	if cfg.Presence.Driver == "redis" {
		dir = presence.NewRedisDirectory(s.Redis, cfg.Redis.Prefix, cfg.Presence.TTL)
	}

	s.Hub = ws.NewHub(m, log)
	var transport notify.Transport = s.Hub
	var fanout ws.Fanout = s.Hub
	if s.Redis != nil {
		s.Relay = ws.NewRelay(s.Hub, s.Redis, cfg.Redis.Prefix, log)
		if err := s.Relay.Start(ctx); err != nil {
			s.Shutdown(context.Background())
			return nil, err
		}
		transport, fanout = s.Relay, s.Relay
	}

	s.Stream = events.Nop{}
	if cfg.Kafka.Enabled {
		s.Stream = events.NewKafkaStream(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}

	s.Dispatcher = notify.NewDispatcher(dir, transport, s.Stream, m, log, notify.Options{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	})

	messages := service.NewMessageService(store, s.Dispatcher, m, log, service.Options{
		EditWindow: cfg.App.EditWindow,
	})
	queries := service.NewQueryService(store, messages, m, log)

	jv, err := auth.NewValidator(cfg.JWT.Alg, cfg.JWT.HSSecret, cfg.JWT.PublicKeyPath)
	if err != nil {
		s.Shutdown(context.Background())
		return nil, fmt.Errorf("jwt: %w", err)
	}

	live := ws.NewServer(s.Hub, fanout, dir, jv, messages, ws.Options{
		PingInterval:   cfg.WS.PingInterval,
		WriteDeadline:  cfg.WS.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		InboundRate:    cfg.WS.InboundRate,
		InboundBurst:   cfg.WS.InboundBurst,
	}, log)

	var limiter fiber.Handler
	if cfg.RateLimit.SendPerMin > 0 {
		limiter = api.LocalRateLimiter(cfg.RateLimit.SendPerMin, time.Minute)
		if s.Redis != nil {
			limiter = api.NewRateLimiter(s.Redis, cfg.Redis.Prefix, cfg.RateLimit.SendPerMin, time.Minute, log).Middleware()
		}
	}

	s.App = api.NewServer(api.Deps{
		Messages:    messages,
		Queries:     queries,
		Presence:    dir,
		Validator:   jv,
		SendLimiter: limiter,
		Live:        live,
		Metrics:     m,
		Log:         log,
	})
	return s, nil
}

func (s *Server) messageStore(ctx context.Context) (repository.MessageStore, error) {
	if s.Cfg.Store.Driver == "memory" {
		s.Log.Warn("using in-memory message store; messages are lost on restart")
		return repository.NewMemoryStore(), nil
	}
	client, err := repository.NewMongoClient(ctx, s.Cfg.Mongo.URI, connectTimeout, s.Log)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	s.Mongo = client
	coll := client.Database(s.Cfg.Mongo.DB).Collection(s.Cfg.Mongo.Collection)
	return repository.NewMongoStore(ctx, coll)
}

func newRedis(ctx context.Context, cfg config.Redis, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return client.Ping(pctx).Err()
	}
	onRetry := func(err error, wait time.Duration) {
		log.Warn("redis ping failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), onRetry); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Start serves HTTP in the background. errc receives the error if Listen fails.
func (s *Server) Start(errc chan<- error) {
	addr := ":" + s.Cfg.App.PortString()
	go func() {
		s.Log.Info("message-service listening", zap.String("addr", addr))
		if err := s.App.Listen(addr); err != nil {
			errc <- err
		}
	}()
}

// Shutdown closes live sessions, stops accepting requests, drains pending events
// and closes clients.
func (s *Server) Shutdown(ctx context.Context) {
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.App != nil {
		if err := s.App.ShutdownWithContext(ctx); err != nil {
			s.Log.Error("http shutdown", zap.Error(err))
		}
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Close()
	}
	if s.Relay != nil {
		if err := s.Relay.Close(); err != nil {
			s.Log.Error("relay close", zap.Error(err))
		}
	}
	if s.Stream != nil {
		if err := s.Stream.Close(); err != nil {
			s.Log.Error("event stream close", zap.Error(err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Log.Error("redis close", zap.Error(err))
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			s.Log.Error("mongo disconnect", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.Development(), cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}

	errc := make(chan error, 1)
	srv.Start(errc)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errc:
		log.Error("server exited", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(sctx)
	log.Info("message-service stopped")
}
