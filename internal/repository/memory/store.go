// Package memory contains in-process implementations of repository interfaces.
// They back the server's "memory" store mode and behavioural tests.
package memory

import (
	"sync"
	"time"

	"github.com/and161185/duochat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Store holds all tables behind one lock, mirroring a single database.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]model.User
	contacts map[uuid.UUID]map[uuid.UUID]time.Time // owner -> contact -> created_at
	messages []model.Message                       // append order == id order
	nextID   int64
	now      func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		users:    map[uuid.UUID]model.User{},
		contacts: map[uuid.UUID]map[uuid.UUID]time.Time{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}
