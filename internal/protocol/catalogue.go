// Package protocol implements the wire-level message catalogue for the
// robot navigation protocol: server message literals, the server/client
// key tables, and the four-tier validation pipeline (length, syntax, logic,
// uniqueness) for every client message type.
package protocol

import (
	"regexp"
	"strconv"
)

// Terminator is the two-byte sequence that ends every protocol message in
// both directions.
const Terminator = "\a\b"

// Server message literals, without the terminator.
const (
	MsgKeyRequest    = "107 KEY REQUEST"
	MsgOK            = "200 OK"
	MsgLoginFailed   = "300 LOGIN FAILED"
	MsgSyntaxError   = "301 SYNTAX ERROR"
	MsgLogicError    = "302 LOGIC ERROR"
	MsgKeyOutOfRange = "303 KEY OUT OF RANGE"
	MsgMove          = "102 MOVE"
	MsgTurnLeft      = "103 TURN LEFT"
	MsgTurnRight     = "104 TURN RIGHT"
	MsgGetMessage    = "105 GET MESSAGE"
	MsgLogout        = "106 LOGOUT"
)

// Non-wire terminal reasons recorded on sessions that end without an
// error code on the wire, plus the reason strings for the wire errors.
const (
	ReasonTimeout       = "Timeout"
	ReasonClosedByPeer  = "Closed by client"
	ReasonExceededLen   = "Exceeded length"
	ReasonSyntaxError   = "SYNTAX_ERROR"
	ReasonLoginFailed   = "LOGIN_FAILED"
	ReasonKeyOutOfRange = "KEY_OUT_OF_RANGE"
	ReasonLogicError    = "LOGIC_ERROR"
)

// ServerKeys and ClientKeys are the immutable per-key-id offsets used in the
// hash handshake.
var ServerKeys = map[int]int{0: 23019, 1: 32037, 2: 18789, 3: 16443, 4: 18189}
var ClientKeys = map[int]int{0: 32037, 1: 29295, 2: 13603, 3: 29533, 4: 21952}

// MessageType identifies one of the seven client message schemas.
type MessageType int

const (
	Username MessageType = iota
	KeyID
	Confirmation
	OK
	Message
	Recharging
	FullPower
)

type schema struct {
	maxLen int
	syntax *regexp.Regexp
}

var schemas = map[MessageType]schema{
	Username:     {maxLen: 18, syntax: regexp.MustCompile(`^.{1,18}$`)},
	KeyID:        {maxLen: 3, syntax: regexp.MustCompile(`^-?[0-9]+$`)},
	Confirmation: {maxLen: 5, syntax: regexp.MustCompile(`^[0-9]{1,5}$`)},
	OK:           {maxLen: 10, syntax: regexp.MustCompile(`^OK (-?[0-9]{1,4}) (-?[0-9]{1,4})$`)},
	Message:      {maxLen: 98, syntax: regexp.MustCompile(`^.{1,98}$`)},
	Recharging:   {maxLen: 10, syntax: regexp.MustCompile(`^RECHARGING$`)},
	FullPower:    {maxLen: 10, syntax: regexp.MustCompile(`^FULL POWER$`)},
}

// MaxLen returns the maximum body length (terminator excluded) for t.
func MaxLen(t MessageType) int {
	return schemas[t].maxLen
}

// LengthCheck reports whether body's length lies in [1, MaxLen(t)].
func LengthCheck(t MessageType, body []byte) bool {
	s, ok := schemas[t]
	if !ok {
		return false
	}
	return len(body) >= 1 && len(body) <= s.maxLen
}

// SyntaxCheck reports whether body passes LengthCheck and matches t's full
// syntax regex.
func SyntaxCheck(t MessageType, body []byte) bool {
	s, ok := schemas[t]
	if !ok {
		return false
	}
	return LengthCheck(t, body) && s.syntax.Match(body)
}

// KeyIDInRange is KEY_ID's logic_check: syntax_check already guarantees an
// integer; this additionally requires it to name a configured key.
func KeyIDInRange(id int) bool {
	_, ok := ServerKeys[id]
	return ok
}

// IsCenter is OK's unique_check: the reported coordinate is the origin.
func IsCenter(x, y int) bool {
	return x == 0 && y == 0
}

// ParseKeyID parses a KEY_ID body. Callers must have passed SyntaxCheck
// first; parsing is undefined otherwise.
func ParseKeyID(body []byte) (int, bool) {
	v, err := strconv.Atoi(string(body))
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseConfirmation parses a CONFIRMATION body.
func ParseConfirmation(body []byte) (int, bool) {
	v, err := strconv.Atoi(string(body))
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseOK parses an OK body into its reported (x, y) coordinate.
func ParseOK(body []byte) (x, y int, ok bool) {
	m := schemas[OK].syntax.FindSubmatch(body)
	if m == nil {
		return 0, 0, false
	}
	xv, err1 := strconv.Atoi(string(m[1]))
	yv, err2 := strconv.Atoi(string(m[2]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return xv, yv, true
}

// UsernameHash computes the server-side hash of a raw username: the sum of
// its byte values, multiplied by 1000, mod 65536.
func UsernameHash(username []byte) int {
	sum := 0
	for _, c := range username {
		sum += int(c)
	}
	return (sum * 1000) % 65536
}

// ServerHash is the confirmation challenge sent to the client after key
// selection.
func ServerHash(usernameHash, keyID int) int {
	return (usernameHash + ServerKeys[keyID]) % 65536
}

// ExpectedClientHash is the value the client's CONFIRMATION message must
// carry for the login to succeed.
func ExpectedClientHash(usernameHash, keyID int) int {
	return (usernameHash + ClientKeys[keyID]) % 65536
}
