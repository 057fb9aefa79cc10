package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fathima-sithara/message-service/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type instance struct {
	hub   *Hub
	relay *Relay
}

func newInstances(t *testing.T, n int) []instance {
	t.Helper()
	mr := miniredis.RunT(t)
	out := make([]instance, n)
	for i := range out {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		hub := NewHub(nil, zap.NewNop())
		relay := NewRelay(hub, client, "test", zap.NewNop())
		require.NoError(t, relay.Start(context.Background()))
		t.Cleanup(func() {
			_ = relay.Close()
			_ = client.Close()
		})
		out[i] = instance{hub: hub, relay: relay}
	}
	return out
}

func waitFrame(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case b := <-s.send:
		var f Frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame reached session %s", s.ID)
	}
	return Frame{}
}

func TestRelayDeliverLocal(t *testing.T) {
	nodes := newInstances(t, 1)
	s := NewSession("s1", "alice", 4)
	nodes[0].hub.Register(s)

	outcome, err := nodes[0].relay.Deliver(context.Background(), "s1", "newMessage", map[string]string{"id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSent, outcome)
	assert.Equal(t, "newMessage", waitFrame(t, s).Event)
}

func TestRelayDeliverRemote(t *testing.T) {
	nodes := newInstances(t, 2)
	s := NewSession("s-remote", "bob", 4)
	nodes[1].hub.Register(s)

	outcome, err := nodes[0].relay.Deliver(context.Background(), "s-remote", "messageSeen", map[string]string{"message_id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeRelayed, outcome)

	f := waitFrame(t, s)
	assert.Equal(t, "messageSeen", f.Event)
	assert.Equal(t, map[string]any{"message_id": "m1"}, f.Data)
}

func TestRelayBroadcastReachesEveryInstance(t *testing.T) {
	nodes := newInstances(t, 2)
	a := NewSession("s1", "alice", 4)
	b := NewSession("s2", "bob", 4)
	nodes[0].hub.Register(a)
	nodes[1].hub.Register(b)

	nodes[0].relay.Broadcast(EventOnlineUsers, []string{"alice", "bob"})

	assert.Equal(t, EventOnlineUsers, waitFrame(t, a).Event)
	assert.Equal(t, EventOnlineUsers, waitFrame(t, b).Event)

	// The origin instance must not deliver its own broadcast twice.
	time.Sleep(50 * time.Millisecond)
	assertNoFrame(t, a)
}

func TestRelayKickRemote(t *testing.T) {
	nodes := newInstances(t, 2)
	s := NewSession("s-old", "alice", 4)
	nodes[1].hub.Register(s)

	nodes[0].relay.Kick("s-old")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("remote session was not closed")
	}
}

func TestRelayCloseIsIdempotent(t *testing.T) {
	nodes := newInstances(t, 1)
	require.NoError(t, nodes[0].relay.Close())
	require.NoError(t, nodes[0].relay.Close())
}
