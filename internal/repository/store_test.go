package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMsg(id, from, to string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Kind:       domain.KindText,
		Text:       "hello " + id,
		Status:     domain.StatusSent,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// stores returns every MessageStore implementation available in this environment.
// Mongo runs only when MONGO_TEST_URI is set.
func stores(t *testing.T) map[string]func(t *testing.T) MessageStore {
	out := map[string]func(t *testing.T) MessageStore{
		"memory": func(t *testing.T) MessageStore { return NewMemoryStore() },
	}
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		return out
	}
	out["mongo"] = func(t *testing.T) MessageStore {
		ctx := context.Background()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		require.NoError(t, err)
		db := client.Database("dm_test_" + uuid.NewString()[:8])
		t.Cleanup(func() {
			_ = db.Drop(context.Background())
			_ = client.Disconnect(context.Background())
		})
		s, err := NewMongoStore(ctx, db.Collection("messages"))
		require.NoError(t, err)
		return s
	}
	return out
}

func TestStores(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("find by id", func(t *testing.T) { testFindByID(t, mk(t)) })
			t.Run("conversation order", func(t *testing.T) { testConversationOrder(t, mk(t)) })
			t.Run("mark delivered", func(t *testing.T) { testMarkDelivered(t, mk(t)) })
			t.Run("mark delivered concurrently", func(t *testing.T) { testMarkDeliveredConcurrent(t, mk(t)) })
			t.Run("mark seen", func(t *testing.T) { testMarkSeen(t, mk(t)) })
			t.Run("versioned updates", func(t *testing.T) { testVersioned(t, mk(t)) })
			t.Run("delete and hide", func(t *testing.T) { testDeleteAndHide(t, mk(t)) })
		})
	}
}

func testFindByID(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))

	m, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "a", m.SenderID)
	assert.NotNil(t, m.Reactions)
	assert.NotNil(t, m.DeletedFor)

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := s.FindByIDs(ctx, []string{"m1", "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "m1")
}

func testConversationOrder(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m3", "b", "a", t0.Add(2*time.Second))))
	require.NoError(t, s.Create(ctx, newMsg("m2", "a", "b", t0.Add(time.Second))))
	require.NoError(t, s.Create(ctx, newMsg("m1b", "a", "b", t0)))
	require.NoError(t, s.Create(ctx, newMsg("m1a", "b", "a", t0)))
	require.NoError(t, s.Create(ctx, newMsg("x", "a", "c", t0)))

	msgs, err := s.FindConversation(ctx, "a", "b")
	require.NoError(t, err)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1a", "m1b", "m2", "m3"}, ids)
}

func testMarkDelivered(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))
	require.NoError(t, s.Create(ctx, newMsg("m2", "a", "b", t0)))
	require.NoError(t, s.Create(ctx, newMsg("m3", "b", "a", t0)))
	at := t0.Add(time.Minute)

	got, err := s.MarkDelivered(ctx, []string{"m1", "m2", "m3"}, "b", at)
	require.NoError(t, err)
	assert.Len(t, got, 2, "only messages addressed to b")
	for _, m := range got {
		assert.Equal(t, domain.StatusDelivered, m.Status)
		require.NotNil(t, m.DeliveredAt)
		assert.True(t, m.DeliveredAt.Equal(at))
	}

	again, err := s.MarkDelivered(ctx, []string{"m1", "m2"}, "b", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	m1, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m1.DeliveredAt.Equal(at), "deliveredAt is stamped once")

	none, err := s.MarkDelivered(ctx, nil, "b", at)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testMarkDeliveredConcurrent(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.MarkDelivered(ctx, []string{"m1"}, "b", t0.Add(time.Duration(i+1)*time.Second))
			assert.NoError(t, err)
			results[i] = len(got)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range results {
		total += n
	}
	assert.Equal(t, 1, total, "exactly one caller wins the transition")

	m, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, m.Status)
}

func testMarkSeen(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))
	first := t0.Add(time.Minute)

	m, changed, err := s.MarkSeen(ctx, "m1", first)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusSeen, m.Status)
	assert.True(t, m.SeenAt.Equal(first))
	require.NotNil(t, m.DeliveredAt, "seen implies delivered")
	assert.True(t, m.DeliveredAt.Equal(first))

	m, changed, err = s.MarkSeen(ctx, "m1", first.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, m.SeenAt.Equal(first))

	_, _, err = s.MarkSeen(ctx, "missing", first)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testVersioned(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))

	entry := domain.EditEntry{Text: "hello m1", EditedAt: t0}
	m, err := s.ApplyEdit(ctx, "m1", 0, "edited", entry, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "edited", m.Text)
	assert.True(t, m.IsEdited)
	assert.Len(t, m.EditHistory, 1)
	assert.Equal(t, int64(1), m.Version)

	_, err = s.ApplyEdit(ctx, "m1", 0, "stale", entry, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrConflict)

	m, err = s.ReplaceReactions(ctx, "m1", 1, domain.Reactions{"👍": {"b"}}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.Reactions{"👍": {"b"}}, m.Reactions)

	_, err = s.ReplaceReactions(ctx, "m1", 1, domain.Reactions{}, t0)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.ReplaceReactions(ctx, "missing", 0, domain.Reactions{}, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testDeleteAndHide(t *testing.T, s MessageStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))

	require.NoError(t, s.HideFor(ctx, "m1", "b", t0))
	require.NoError(t, s.HideFor(ctx, "m1", "b", t0))
	require.NoError(t, s.MarkDeletedForEveryone(ctx, "m1", t0))

	m, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, m.DeletedFor)
	assert.True(t, m.IsDeleted)
	assert.Equal(t, "hello m1", m.Text, "tombstone keeps the stored content")

	assert.ErrorIs(t, s.HideFor(ctx, "missing", "b", t0), ErrNotFound)
	assert.ErrorIs(t, s.MarkDeletedForEveryone(ctx, "missing", t0), ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newMsg("m1", "a", "b", t0)))

	m, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	m.Text = "mutated"
	m.Reactions["x"] = []string{"a"}

	again, err := s.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello m1", again.Text)
	assert.Empty(t, again.Reactions)
}

func BenchmarkMemoryStoreConversation(b *testing.B) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		_ = s.Create(ctx, newMsg(fmt.Sprintf("m%03d", i), "a", "b", t0.Add(time.Duration(i)*time.Second)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.FindConversation(ctx, "a", "b")
	}
}
