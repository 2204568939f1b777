package session

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nodewell/robotd/internal/observer"
)

// ErrNotFound is returned by Registry.Get for an unknown session ID.
var ErrNotFound = errors.New("session: not found")

// Registry tracks every live session, keyed by a generated UUID, so the
// accept loop can enumerate and terminate them on shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	log      *logrus.Entry
	bus      *observer.Bus
}

// NewRegistry creates an empty registry. log and bus are handed to every
// session the registry creates; either may be nil.
func NewRegistry(log *logrus.Entry, bus *observer.Bus) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
		bus:      bus,
	}
}

// Spawn creates a session for conn, registers it, and starts it on its own
// goroutine. The session removes itself from the registry when it
// terminates.
func (r *Registry) Spawn(conn net.Conn) *Session {
	id := uuid.New().String()
	s := New(id, conn, r.log, r.bus)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		s.Run()
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
	}()

	return s
}

// Get retrieves a live session by ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Count reports the number of currently live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every live session's connection, driving each one to its
// terminal phase, and blocks until the registry is empty.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]net.Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		conns = append(conns, s.conn)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}

	r.wg.Wait()
}
