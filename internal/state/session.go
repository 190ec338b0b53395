package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/flowchat/internal/chat"
	"github.com/user/flowchat/internal/types"
)

// ErrSessionBusy is returned when removing a session whose turn is in flight.
var ErrSessionBusy = errors.New("session has a turn in progress")

// Factory builds the session for a key on first use.
type Factory func(key types.SessionKey) *chat.Session

// SessionEntry pairs a live session with its routing key.
type SessionEntry struct {
	Key       types.SessionKey
	Session   *chat.Session
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore is an in-memory index of sessions keyed by SessionKey, for
// front-ends that serve many conversations at once.
type SessionStore struct {
	factory Factory
	mu      sync.RWMutex
	index   map[types.SessionKey]*SessionEntry
}

// NewSessionStore creates an empty store that builds sessions with factory.
func NewSessionStore(factory Factory) *SessionStore {
	return &SessionStore{
		factory: factory,
		index:   make(map[types.SessionKey]*SessionEntry),
	}
}

// ResolveOrCreate returns the session for key, creating it if needed, and
// marks it as used.
func (s *SessionStore) ResolveOrCreate(_ context.Context, key types.SessionKey) *chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.index[key]; ok {
		existing.UpdatedAt = now
		return existing.Session
	}

	entry := &SessionEntry{
		Key:       key,
		Session:   s.factory(key),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.index[key] = entry
	return entry.Session
}

// Get returns the entry with the given session ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*SessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.index {
		if entry.Session.ID() == id {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("session not found: %s", id)
}

// List returns all entries, most recently used first.
func (s *SessionStore) List(_ context.Context) []*SessionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*SessionEntry, 0, len(s.index))
	for _, entry := range s.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries
}

// Remove forgets the session for key so the next ResolveOrCreate starts a
// fresh conversation. Sessions with an active turn are kept.
func (s *SessionStore) Remove(_ context.Context, key types.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[key]
	if !ok {
		return nil
	}
	if entry.Session.Active() {
		return ErrSessionBusy
	}
	delete(s.index, key)
	return nil
}
