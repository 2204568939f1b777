// Package server implements the accept loop: it binds a listener, accepts
// connections in a cancellable poll, and hands each one to the session
// registry. The listener deadline keeps the loop responsive to shutdown
// without a dedicated wake-up channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodewell/robotd/internal/observer"
	"github.com/nodewell/robotd/internal/session"
)

const pollInterval = 1 * time.Second

// Server owns the listening socket and the set of live sessions.
type Server struct {
	host string
	port int

	log      *logrus.Entry
	bus      *observer.Bus
	registry *session.Registry

	listener net.Listener
}

// New constructs a server bound to host:port. It does not listen until
// Run is called.
func New(host string, port int, log *logrus.Entry, bus *observer.Bus) *Server {
	if bus == nil {
		bus = observer.NewBus()
	}
	return &Server{
		host:     host,
		port:     port,
		log:      log,
		bus:      bus,
		registry: session.NewRegistry(log, bus),
	}
}

// Registry exposes the server's session registry, mainly for the
// visualizer and for tests.
func (s *Server) Registry() *session.Registry { return s.registry }

// AddObserver subscribes sink to the event feed shared by every session
// this server spawns.
func (s *Server) AddObserver(sink observer.Sink) { s.bus.Subscribe(sink) }

// Addr returns the listener's bound address, or nil before Run has
// listened. Mainly useful for tests that bind an ephemeral port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run binds the listener and accepts connections until ctx is cancelled.
// On cancellation it stops accepting, closes the listener, drives every
// live session to its terminal phase, and returns nil. A bind failure is
// returned, wrapped with the address, so the caller can set a non-zero
// exit code.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}
	s.listener = ln
	s.log.WithField("addr", addr).Info("listening")

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	tcpLn, ok := ln.(*net.TCPListener)
	for {
		if ok {
			tcpLn.SetDeadline(time.Now().Add(pollInterval))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		sess := s.registry.Spawn(conn)
		s.log.WithField("session_id", sess.ID).Info("session accepted")
	}

	s.registry.CloseAll()
	s.log.Info("shutdown complete")
	return nil
}
