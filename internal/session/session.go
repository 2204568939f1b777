// Package session implements the per-connection protocol engine: the
// authentication handshake, the navigation dialogue driven by the planner,
// and the recharging sub-protocol, all as transitions over a fixed phase
// table. A session owns its socket and runs on a single goroutine,
// publishing to the event bus on every transition.
package session

import (
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodewell/robotd/internal/navigator"
	"github.com/nodewell/robotd/internal/observer"
	"github.com/nodewell/robotd/internal/protocol"
)

// Phase is one of the nine states of the session FSM.
type Phase string

const (
	PhaseWaitUsername        Phase = "wait_username"
	PhaseWaitKeyID           Phase = "wait_key_id"
	PhaseWaitConfirmation    Phase = "wait_confirmation"
	PhaseWaitInitialClientOK Phase = "wait_initial_client_ok"
	PhaseWaitClientOK        Phase = "wait_client_ok"
	PhaseWaitMessage         Phase = "wait_message"
	PhaseRecharging          Phase = "recharging"
	PhaseFinal               Phase = "final"
	PhaseError               Phase = "error"
)

const (
	normalTimeout     = 1 * time.Second
	rechargingTimeout = 5 * time.Second
	readChunk         = 4096
)

// Session owns one accepted connection end to end: reading, framing,
// authenticating, navigating, and terminating it.
type Session struct {
	ID   string
	conn net.Conn
	log  *logrus.Entry
	bus  *observer.Bus

	inbox []byte

	phase               Phase
	phaseBeforeRecharge Phase

	username     []byte
	keyID        int
	usernameHash int

	planner *navigator.Planner

	pendingInputMessage []byte
	errorReason         string
}

// New constructs a session bound to conn, ready to run. log may be nil, in
// which case an entry on logrus's standard logger is used. bus may be nil,
// in which case events are discarded.
func New(id string, conn net.Conn, log *logrus.Entry, bus *observer.Bus) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if bus == nil {
		bus = observer.NewBus()
	}
	return &Session{
		ID:   id,
		conn: conn,
		log: log.WithField("session_id", id).
			WithField("remote_addr", conn.RemoteAddr()),
		bus:     bus,
		phase:   PhaseWaitUsername,
		planner: navigator.New(),
	}
}

// Phase returns the session's current FSM state.
func (s *Session) Phase() Phase { return s.phase }

// AddObserver subscribes sink to the session's event feed and immediately
// notifies it with the session's current state, so a subscriber attaching
// mid-session starts from a snapshot rather than waiting for the next
// transition. Events are delivered synchronously from the session
// goroutine; sinks must not block.
func (s *Session) AddObserver(sink observer.Sink) {
	s.bus.Subscribe(sink)
	sink.Notify(s.currentStateUpdate())
}

func (s *Session) currentStateUpdate() observer.StateUpdate {
	return observer.StateUpdate{
		Phase:       string(s.phase),
		Final:       s.phase == PhaseFinal || s.phase == PhaseError,
		ErrorReason: s.errorReason,
	}
}

// ErrorReason returns the human reason recorded on entering the error
// phase, or the empty string if none was set.
func (s *Session) ErrorReason() string { return s.errorReason }

// Run drives the session to completion: it blocks until the session
// reaches final or error, then returns. The connection is always closed by
// the time Run returns.
func (s *Session) Run() {
	defer s.conn.Close()

	s.setPhase(s.phase) // announce the starting phase to subscribers.

	buf := make([]byte, readChunk)
	for {
		timeout := normalTimeout
		if s.phase == PhaseRecharging {
			timeout = rechargingTimeout
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			s.log.WithError(err).Warn("failed to set read deadline")
		}

		n, err := s.conn.Read(buf)
		if err != nil || n == 0 {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.failTerminal(protocol.ReasonTimeout)
			} else {
				s.failTerminal(protocol.ReasonClosedByPeer)
			}
			return
		}

		s.inbox = append(s.inbox, buf[:n]...)
		s.bus.Publish(observer.StackUpdate{Buffer: append([]byte(nil), s.inbox...)})

		// Overflow is judged on the buffer as received this round, before
		// any message in it is interpreted. A round whose buffer holds a
		// terminator is never an overflow, however long the tail after it;
		// the tail is judged again once the next read extends it.
		if !protocol.HasTerminator(s.inbox) && protocol.Overflow(s.inbox, s.candidatesForPhase()) {
			s.wireError(protocol.MsgSyntaxError, protocol.ReasonExceededLen)
			return
		}

		var msgs [][]byte
		msgs, s.inbox = protocol.Frame(s.inbox)
		for _, m := range msgs {
			s.processMessage(m)
			if s.phase == PhaseFinal || s.phase == PhaseError {
				return
			}
		}
	}
}

// candidatesForPhase lists the message types the overflow guard must size
// the buffer against for the session's current phase.
func (s *Session) candidatesForPhase() []protocol.MessageType {
	switch s.phase {
	case PhaseWaitUsername:
		return []protocol.MessageType{protocol.Username, protocol.Recharging}
	case PhaseWaitKeyID:
		return []protocol.MessageType{protocol.KeyID, protocol.Recharging}
	case PhaseWaitConfirmation:
		return []protocol.MessageType{protocol.Confirmation, protocol.Recharging}
	case PhaseWaitInitialClientOK, PhaseWaitClientOK:
		return []protocol.MessageType{protocol.OK, protocol.Recharging}
	case PhaseWaitMessage:
		return []protocol.MessageType{protocol.Message, protocol.Recharging}
	case PhaseRecharging:
		return []protocol.MessageType{protocol.FullPower}
	default:
		return nil
	}
}

// processMessage dispatches one already-framed message according to the
// transition table. Recharging is checked first since it pre-empts every
// phase's own rules; the catch-all SYNTAX_ERROR only fires once none of the
// more specific rules below it matched.
func (s *Session) processMessage(msg []byte) {
	s.pendingInputMessage = msg

	if s.phase == PhaseRecharging {
		if protocol.SyntaxCheck(protocol.FullPower, msg) {
			restored := s.phaseBeforeRecharge
			s.phaseBeforeRecharge = ""
			s.setPhase(restored)
			return
		}
		s.wireError(protocol.MsgLogicError, protocol.ReasonLogicError)
		return
	}

	if protocol.SyntaxCheck(protocol.Recharging, msg) {
		s.phaseBeforeRecharge = s.phase
		s.setPhase(PhaseRecharging)
		return
	}

	switch s.phase {
	case PhaseWaitUsername:
		s.handleWaitUsername(msg)
	case PhaseWaitKeyID:
		s.handleWaitKeyID(msg)
	case PhaseWaitConfirmation:
		s.handleWaitConfirmation(msg)
	case PhaseWaitInitialClientOK, PhaseWaitClientOK:
		s.handleWaitOK(msg)
	case PhaseWaitMessage:
		s.handleWaitMessage(msg)
	default:
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
	}
}

func (s *Session) handleWaitUsername(msg []byte) {
	if !protocol.SyntaxCheck(protocol.Username, msg) {
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
		return
	}
	s.username = append([]byte(nil), msg...)
	s.setPhase(PhaseWaitKeyID)
	s.send(protocol.MsgKeyRequest)
}

func (s *Session) handleWaitKeyID(msg []byte) {
	if !protocol.SyntaxCheck(protocol.KeyID, msg) {
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
		return
	}
	id, ok := protocol.ParseKeyID(msg)
	if !ok || !protocol.KeyIDInRange(id) {
		s.wireError(protocol.MsgKeyOutOfRange, protocol.ReasonKeyOutOfRange)
		return
	}
	s.keyID = id
	s.usernameHash = protocol.UsernameHash(s.username)
	s.setPhase(PhaseWaitConfirmation)
	s.send(strconv.Itoa(protocol.ServerHash(s.usernameHash, id)))
}

func (s *Session) handleWaitConfirmation(msg []byte) {
	if !protocol.SyntaxCheck(protocol.Confirmation, msg) {
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
		return
	}
	val, ok := protocol.ParseConfirmation(msg)
	if !ok || val != protocol.ExpectedClientHash(s.usernameHash, s.keyID) {
		s.wireError(protocol.MsgLoginFailed, protocol.ReasonLoginFailed)
		return
	}
	s.setPhase(PhaseWaitInitialClientOK)
	s.send(protocol.MsgOK)
	s.send(protocol.MsgMove)
}

func (s *Session) handleWaitOK(msg []byte) {
	if !protocol.SyntaxCheck(protocol.OK, msg) {
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
		return
	}
	x, y, ok := protocol.ParseOK(msg)
	if !ok {
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
		return
	}

	action := s.planner.UpdatePosition(navigator.Point{X: x, Y: y})
	s.publishMap()

	if protocol.IsCenter(x, y) {
		s.setPhase(PhaseWaitMessage)
		s.send(protocol.MsgGetMessage)
		return
	}

	s.setPhase(PhaseWaitClientOK)
	s.send(actionMessage(action))
}

func (s *Session) handleWaitMessage(msg []byte) {
	if !protocol.SyntaxCheck(protocol.Message, msg) {
		s.wireError(protocol.MsgSyntaxError, protocol.ReasonSyntaxError)
		return
	}
	s.setPhase(PhaseFinal)
	s.send(protocol.MsgLogout)
}

func actionMessage(a navigator.Action) string {
	switch a {
	case navigator.ActionTurnLeft:
		return protocol.MsgTurnLeft
	case navigator.ActionTurnRight:
		return protocol.MsgTurnRight
	default:
		return protocol.MsgMove
	}
}

// setPhase records the transition and announces it on the bus. It never
// closes the connection: a handler may still need to send a final wire
// message after moving into final or error.
func (s *Session) setPhase(p Phase) {
	from := s.phase
	s.phase = p
	entry := s.log.WithField("from_phase", string(from)).WithField("to_phase", string(p))
	if s.errorReason != "" {
		entry = entry.WithField("error_reason", s.errorReason)
	}
	entry.Debug("phase transition")

	s.bus.Publish(s.currentStateUpdate())
}

// wireError records reason, moves to the error phase, and sends wireMsg —
// in that order, so the StateUpdate already reflects the reason the send
// carries.
func (s *Session) wireError(wireMsg, reason string) {
	s.errorReason = reason
	s.setPhase(PhaseError)
	s.send(wireMsg)
}

// failTerminal handles the two non-wire terminal conditions: a read
// timeout and a connection closed by the peer. Neither sends a response.
func (s *Session) failTerminal(reason string) {
	s.errorReason = reason
	s.setPhase(PhaseError)
}

func (s *Session) send(body string) {
	if _, err := s.conn.Write([]byte(body + protocol.Terminator)); err != nil {
		s.log.WithError(err).Debug("write failed; the next read will observe the closed peer")
	}
	s.bus.Publish(observer.MessageProcessed{
		Input:    s.pendingInputMessage,
		Response: []byte(body),
		Buffer:   append([]byte(nil), s.inbox...),
	})
}

func (s *Session) publishMap() {
	pos, hasPos := s.planner.Position()
	rot, hasRot := s.planner.Rotation()
	obstacles := s.planner.Obstacles()

	wire := make([][2]int, len(obstacles))
	for i, o := range obstacles {
		wire[i] = [2]int{o.X, o.Y}
	}

	ev := observer.MapUpdate{HasPosition: hasPos, HasRotation: hasRot, Obstacles: wire}
	if hasPos {
		ev.Position = [2]int{pos.X, pos.Y}
	}
	if hasRot {
		ev.Rotation = rot.String()
	}
	s.bus.Publish(ev)
}
