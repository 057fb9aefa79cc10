package presence

import (
	"context"
	"slices"
	"sync"
)

// Directory maps a user to at most one live session. The most recent connection
// wins; a disconnect only clears the mapping it created.
type Directory interface {
	// Connect points userID at sessionID and returns the session it replaced, if any.
	Connect(ctx context.Context, userID, sessionID string) (string, error)
	// Disconnect removes the mapping if it still points at sessionID.
	Disconnect(ctx context.Context, userID, sessionID string) (bool, error)
	Resolve(ctx context.Context, userID string) (string, bool, error)
	Online(ctx context.Context) ([]string, error)
}

type MemoryDirectory struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{sessions: make(map[string]string)}
}

func (d *MemoryDirectory) Connect(_ context.Context, userID, sessionID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.sessions[userID]
	d.sessions[userID] = sessionID
	if prev == sessionID {
		prev = ""
	}
	return prev, nil
}

func (d *MemoryDirectory) Disconnect(_ context.Context, userID, sessionID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions[userID] != sessionID {
		return false, nil
	}
	delete(d.sessions, userID)
	return true, nil
}

func (d *MemoryDirectory) Resolve(_ context.Context, userID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sid, ok := d.sessions[userID]
	return sid, ok, nil
}

func (d *MemoryDirectory) Online(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.sessions))
	for u := range d.sessions {
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}
