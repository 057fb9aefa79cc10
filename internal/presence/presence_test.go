package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisDirectory(t *testing.T) (*RedisDirectory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDirectory(client, "test", time.Hour), mr
}

func TestDirectories(t *testing.T) {
	dirs := map[string]func(t *testing.T) Directory{
		"memory": func(t *testing.T) Directory { return NewMemoryDirectory() },
		"redis": func(t *testing.T) Directory {
			d, _ := newRedisDirectory(t)
			return d
		},
	}

	for name, mk := range dirs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := mk(t)

			_, ok, err := d.Resolve(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, ok)

			prev, err := d.Connect(ctx, "alice", "s1")
			require.NoError(t, err)
			assert.Empty(t, prev)

			sid, ok, err := d.Resolve(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "s1", sid)

			prev, err = d.Connect(ctx, "alice", "s2")
			require.NoError(t, err)
			assert.Equal(t, "s1", prev, "last connection wins")

			removed, err := d.Disconnect(ctx, "alice", "s1")
			require.NoError(t, err)
			assert.False(t, removed, "stale session cannot clear the newer mapping")

			sid, _, err = d.Resolve(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "s2", sid)

			_, err = d.Connect(ctx, "bob", "s3")
			require.NoError(t, err)
			online, err := d.Online(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"alice", "bob"}, online)

			removed, err = d.Disconnect(ctx, "alice", "s2")
			require.NoError(t, err)
			assert.True(t, removed)

			_, ok, err = d.Resolve(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, ok)

			online, err = d.Online(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"bob"}, online)
		})
	}
}

func TestRedisDirectoryExpiry(t *testing.T) {
	ctx := context.Background()
	d, mr := newRedisDirectory(t)

	_, err := d.Connect(ctx, "alice", "s1")
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)
	require.NoError(t, d.Refresh(ctx, "alice"))
	mr.FastForward(45 * time.Minute)

	_, ok, err := d.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok, "refresh extends the mapping")

	mr.FastForward(2 * time.Hour)
	_, ok, err = d.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	online, err := d.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
	assert.False(t, mr.Exists("test:presence:alice"))
}
