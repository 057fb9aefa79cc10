package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, `
app:
  env: development
  port: 9090
  edit_window: 10m
store:
  driver: mongo
mongo:
  uri: mongodb://localhost:27017
  db: chat_test
jwt:
  alg: HS256
  hs_secret: s3cret
presence:
  driver: redis
redis:
  addr: localhost:6379
`))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.True(t, cfg.App.Development())
	assert.Equal(t, 10*time.Minute, cfg.App.EditWindow)
	assert.Equal(t, "chat_test", cfg.Mongo.DB)
	assert.Equal(t, "messages", cfg.Mongo.Collection)
	assert.Equal(t, "redis", cfg.Presence.Driver)
	assert.Equal(t, "dm", cfg.Redis.Prefix)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, 25*time.Second, cfg.WS.PingInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, `
store:
  driver: memory
jwt:
  hs_secret: from-file
`))
	t.Setenv("APP_PORT", "7070")
	t.Setenv("JWT_HS_SECRET", "from-env")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.App.Port)
	assert.Equal(t, "from-env", cfg.JWT.HSSecret)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Minute, cfg.App.EditWindow)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_HS_SECRET", "x")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:      App{Port: 8080, EditWindow: 15 * time.Minute},
			Store:    Store{Driver: "memory"},
			Presence: Presence{Driver: "memory"},
			JWT:      JWT{Alg: "HS256", HSSecret: "x"},
			Dispatch: Dispatch{Workers: 1, QueueSize: 1},
		}
	}
	require.NoError(t, validate(base()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing mongo uri", func(c *Config) { c.Store.Driver = "mongo"; c.Mongo.DB = "x" }},
		{"unknown store", func(c *Config) { c.Store.Driver = "postgres" }},
		{"redis presence without addr", func(c *Config) { c.Presence.Driver = "redis" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "t" }},
		{"rs256 without key", func(c *Config) { c.JWT.Alg = "RS256" }},
		{"bad alg", func(c *Config) { c.JWT.Alg = "none" }},
		{"zero workers", func(c *Config) { c.Dispatch.Workers = 0 }},
		{"zero edit window", func(c *Config) { c.App.EditWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, validate(c))
		})
	}
}
