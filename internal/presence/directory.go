// Package presence keeps track of who is online and routes live events
// between their connections.
package presence

import (
	"context"
	"sync"

	"github.com/and161185/duochat/internal/protocol"
	"github.com/gofrs/uuid/v5"
)

// Conn is a live client connection as seen by the engine.
type Conn interface {
	// ID is a token unique to this physical connection.
	ID() string
	// Push enqueues an event for the client. It must not block on the network.
	Push(ctx context.Context, env protocol.Envelope) error
}

// Replaceable is implemented by connections that want to know they were
// superseded by a newer login of the same user.
type Replaceable interface {
	Replaced()
}

// Directory maps user ids to their single live connection.
type Directory struct {
	mu    sync.Mutex
	conns map[uuid.UUID]Conn
	locks map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		conns: make(map[uuid.UUID]Conn),
		locks: make(map[uuid.UUID]*userLock),
	}
}

// LockUser serializes presence transitions of one user. The returned func
// releases the lock. Other users are not blocked.
func (d *Directory) LockUser(userID uuid.UUID) (unlock func()) {
	d.mu.Lock()
	l := d.locks[userID]
	if l == nil {
		l = &userLock{}
		d.locks[userID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(d.locks, userID)
		}
		d.mu.Unlock()
	}
}

// Bind registers conn for userID and returns the binding it replaced, if any.
// The previous connection is not closed here.
func (d *Directory) Bind(userID uuid.UUID, conn Conn) Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.conns[userID]
	d.conns[userID] = conn
	return prev
}

// Unbind removes the binding only if it still belongs to conn. It reports
// whether a binding was removed.
func (d *Directory) Unbind(userID uuid.UUID, conn Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(d.conns, userID)
	return true
}

// Lookup returns the current connection of userID.
func (d *Directory) Lookup(userID uuid.UUID) (Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[userID]
	return c, ok
}

// IsOnline reports whether userID has a live binding.
func (d *Directory) IsOnline(userID uuid.UUID) bool {
	_, ok := d.Lookup(userID)
	return ok
}

// Len returns the number of bound users.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
