package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys:
//   - <prefix>:presence:<user> -> session id (expires after ttl unless refreshed)
//   - <prefix>:online          -> set of user ids with a live session

var connectScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
if prev == false or prev == ARGV[1] then
  return ""
end
return prev
`)

var disconnectScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[2])
  return 1
end
return 0
`)

type RedisDirectory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDirectory(client *redis.Client, prefix string, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDirectory{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDirectory) sessionKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", d.prefix, userID)
}

func (d *RedisDirectory) onlineKey() string { return d.prefix + ":online" }

func (d *RedisDirectory) Connect(ctx context.Context, userID, sessionID string) (string, error) {
	keys := []string{d.sessionKey(userID), d.onlineKey()}
	prev, err := connectScript.Run(ctx, d.client, keys, sessionID, d.ttl.Milliseconds(), userID).Text()
	if err != nil {
		return "", err
	}
	return prev, nil
}

func (d *RedisDirectory) Disconnect(ctx context.Context, userID, sessionID string) (bool, error) {
	keys := []string{d.sessionKey(userID), d.onlineKey()}
	n, err := disconnectScript.Run(ctx, d.client, keys, sessionID, userID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Refresh extends the mapping of a session that is still connected.
func (d *RedisDirectory) Refresh(ctx context.Context, userID string) error {
	return d.client.Expire(ctx, d.sessionKey(userID), d.ttl).Err()
}

func (d *RedisDirectory) Resolve(ctx context.Context, userID string) (string, bool, error) {
	sid, err := d.client.Get(ctx, d.sessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sid, true, nil
}

// Online lists users from the online set, pruning entries whose session key expired.
func (d *RedisDirectory) Online(ctx context.Context) ([]string, error) {
	users, err := d.client.SMembers(ctx, d.onlineKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		n, err := d.client.Exists(ctx, d.sessionKey(u)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			_ = d.client.SRem(ctx, d.onlineKey(), u).Err()
			continue
		}
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}
