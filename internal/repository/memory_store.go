package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
)

// MemoryStore keeps messages in process. It honours the same conditional-update
// rules as MongoStore and is used for local runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs map[string]*domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string]*domain.Message)}
}

func (s *MemoryStore) Create(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Normalize()
	s.msgs[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) FindByIDs(_ context.Context, ids []string) (map[string]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.Message, len(ids))
	for _, id := range ids {
		if m, ok := s.msgs[id]; ok {
			out[id] = m.Clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) FindConversation(_ context.Context, a, b string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Message{}
	for _, m := range s.msgs {
		if m.InConversation(a, b) {
			out = append(out, m.Clone())
		}
	}
	slices.SortFunc(out, func(x, y *domain.Message) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, ids []string, receiverID string, at time.Time) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Message{}
	for _, id := range ids {
		m, ok := s.msgs[id]
		if !ok || m.ReceiverID != receiverID || m.Status != domain.StatusSent {
			continue
		}
		t := at
		m.Status = domain.StatusDelivered
		m.DeliveredAt = &t
		m.UpdatedAt = at
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, id string, at time.Time) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if m.Status == domain.StatusSeen {
		return m.Clone(), false, nil
	}
	t := at
	m.Status = domain.StatusSeen
	m.SeenAt = &t
	if m.DeliveredAt == nil {
		d := at
		m.DeliveredAt = &d
	}
	m.UpdatedAt = at
	return m.Clone(), true, nil
}

func (s *MemoryStore) ApplyEdit(_ context.Context, id string, version int64, text string, entry domain.EditEntry, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.versioned(id, version)
	if err != nil {
		return nil, err
	}
	m.EditHistory = append(m.EditHistory, entry)
	m.Text = text
	m.IsEdited = true
	m.UpdatedAt = at
	m.Version++
	return m.Clone(), nil
}

func (s *MemoryStore) ReplaceReactions(_ context.Context, id string, version int64, reactions domain.Reactions, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.versioned(id, version)
	if err != nil {
		return nil, err
	}
	m.Reactions = reactions.Clone()
	m.UpdatedAt = at
	m.Version++
	return m.Clone(), nil
}

func (s *MemoryStore) MarkDeletedForEveryone(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return ErrNotFound
	}
	m.IsDeleted = true
	m.UpdatedAt = at
	return nil
}

func (s *MemoryStore) HideFor(_ context.Context, id, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(m.DeletedFor, userID) {
		m.DeletedFor = append(m.DeletedFor, userID)
		m.UpdatedAt = at
	}
	return nil
}

// versioned must be called with s.mu held.
func (s *MemoryStore) versioned(id string, version int64) (*domain.Message, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.Version != version {
		return nil, ErrConflict
	}
	return m, nil
}
