// Package visualizer serves the read-only GUI event feed: every
// observer.Event published by any session is relayed, JSON-encoded, over a
// WebSocket to any client holding a valid bearer token. The feed is
// one-way; a visualizer only ever watches.
package visualizer

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nodewell/robotd/internal/auth"
	"github.com/nodewell/robotd/internal/observer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON envelope sent for every observer.Event.
type wireEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func envelope(e observer.Event) wireEvent {
	switch v := e.(type) {
	case observer.StackUpdate:
		return wireEvent{Type: "stack", Data: v}
	case observer.MessageProcessed:
		return wireEvent{Type: "message", Data: v}
	case observer.StateUpdate:
		return wireEvent{Type: "state", Data: v}
	case observer.MapUpdate:
		return wireEvent{Type: "map", Data: v}
	default:
		return wireEvent{Type: "unknown"}
	}
}

// Server serves the event feed. It exposes an http.Handler via Handler so
// it can be mounted directly or wrapped by a larger mux.
type Server struct {
	bus  *observer.Bus
	auth *auth.Middleware
	log  *logrus.Entry
	mux  *http.ServeMux
}

// New builds a visualizer server subscribed to bus. An empty token
// disables /events (every request is rejected, fail-secure); /healthz
// remains open regardless.
func New(bus *observer.Bus, token string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		bus:  bus,
		auth: auth.NewMiddleware(token, log),
		log:  log,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/events", s.auth.RequireAuthFunc(s.handleEvents))
	return s
}

// Handler returns the visualizer's HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("visualizer upgrade failed")
		return
	}

	c := newClient(conn)
	s.bus.Subscribe(c)
	s.log.Debug("visualizer client connected")

	go c.writePump()
	go c.readPump()
}

func marshalEvent(e observer.Event) ([]byte, error) {
	return json.Marshal(envelope(e))
}
