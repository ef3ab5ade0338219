// Package presence tracks which users are reachable and through which live
// connections.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dmitrijs2005/securechat/internal/rpc"
)

// ErrHandleInUse is returned when a handle is connected for a second user.
var ErrHandleInUse = errors.New("connection handle belongs to another user")

// Conn is one live connection of a user (one device).
type Conn interface {
	ID() string
	Send(ctx context.Context, ev *rpc.Event) error
}

// Registry maps users to their live connections. A user is present iff it
// has at least one connection; an emptied entry is removed immediately.
// The lock only guards map mutation; sending happens on snapshots returned
// by HandlesFor.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
	owner  map[string]string // connection id -> user id
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]Conn),
		owner:  make(map[string]string),
	}
}

// Connect adds c to the connections of userID and reports whether the user
// just came online. Connecting the same handle twice is a no-op. A handle
// owned by another user is rejected with ErrHandleInUse and nothing changes.
func (r *Registry) Connect(userID string, c Conn) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if prev, ok := r.owner[id]; ok {
		if prev == userID {
			return false, nil
		}
		return false, ErrHandleInUse
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[id] = c
	r.owner[id] = userID

	return !ok, nil
}

// Disconnect removes c from whichever user owns it. It returns that user
// and whether it went offline. An unknown handle yields ("", false).
func (r *Registry) Disconnect(c Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	userID, ok := r.owner[id]
	if !ok {
		return "", false
	}
	return userID, r.detach(userID, id)
}

// detach must be called with mu held.
func (r *Registry) detach(userID, connID string) (wentOffline bool) {
	delete(r.owner, connID)

	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userID]
	return ok
}

// HandlesFor returns a snapshot of the live connections of userID, empty
// when the user is offline.
func (r *Registry) HandlesFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	result := make([]Conn, 0, len(conns))
	for _, c := range conns {
		result = append(result, c)
	}
	return result
}

// Online returns the ids of all present users in ascending order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
