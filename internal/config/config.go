package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type App struct {
	Env             string        `mapstructure:"env"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	EditWindow      time.Duration `mapstructure:"edit_window"`
}

func (a *App) PortString() string { return fmt.Sprintf("%d", a.Port) }

func (a *App) Development() bool { return strings.EqualFold(a.Env, "development") }

type Store struct {
	Driver string `mapstructure:"driver"`
}

type Mongo struct {
	URI        string `mapstructure:"uri"`
	DB         string `mapstructure:"db"`
	Collection string `mapstructure:"collection"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWT struct {
	Alg           string `mapstructure:"alg"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type Presence struct {
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type Dispatch struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type WS struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteDeadline  time.Duration `mapstructure:"write_deadline"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	InboundRate    float64       `mapstructure:"inbound_rate"`
	InboundBurst   int           `mapstructure:"inbound_burst"`
}

type RateLimit struct {
	SendPerMin int `mapstructure:"send_per_min"`
}

type Config struct {
	App       App       `mapstructure:"app"`
	Store     Store     `mapstructure:"store"`
	Mongo     Mongo     `mapstructure:"mongo"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	JWT       JWT       `mapstructure:"jwt"`
	Presence  Presence  `mapstructure:"presence"`
	Dispatch  Dispatch  `mapstructure:"dispatch"`
	WS        WS        `mapstructure:"ws"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

// Load reads config.yaml (or $CONFIG_PATH) and lets the environment override any key,
// e.g. MONGO_URI for mongo.uri. A missing file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_timeout", 10*time.Second)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.edit_window", 15*time.Minute)

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.db", "chat")
	v.SetDefault("mongo.collection", "messages")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "dm")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "message.lifecycle")

	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")

	v.SetDefault("presence.driver", "memory")
	v.SetDefault("presence.ttl", 24*time.Hour)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 1024)

	v.SetDefault("ws.ping_interval", 25*time.Second)
	v.SetDefault("ws.write_deadline", 10*time.Second)
	v.SetDefault("ws.max_message_size", 65536)
	v.SetDefault("ws.inbound_rate", 10.0)
	v.SetDefault("ws.inbound_burst", 20)

	v.SetDefault("rate_limit.send_per_min", 120)
}

func validate(cfg *Config) error {
	if cfg.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}
	if cfg.App.EditWindow <= 0 {
		return errors.New("app.edit_window must be positive")
	}

	switch cfg.Store.Driver {
	case "mongo":
		if cfg.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
		if cfg.Mongo.DB == "" {
			return errors.New("mongo.db missing")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.driver %q (use mongo or memory)", cfg.Store.Driver)
	}

	switch cfg.Presence.Driver {
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("redis.addr required for presence.driver=redis")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid presence.driver %q (use redis or memory)", cfg.Presence.Driver)
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers missing")
		}
		if cfg.Kafka.Topic == "" {
			return errors.New("kafka.topic missing")
		}
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}

	if cfg.Dispatch.Workers <= 0 || cfg.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch.workers and dispatch.queue_size must be positive")
	}
	return nil
}
