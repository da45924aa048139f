package backend

import (
	"errors"
	"fmt"
	"log"

	"github.com/mevdschee/mxbackend/protocol"
	"github.com/mevdschee/mxbackend/reply"
)

// ErrorKind classifies a backend connection failure per §7's taxonomy.
// Kinds are not concrete error types themselves; ProtocolError carries
// one alongside a message and (for wrapped causes) the underlying
// error.
type ErrorKind int

const (
	// ProtocolDesync: an unexpected packet in the current reply state.
	// Fatal for the connection.
	ProtocolDesync ErrorKind = iota
	// AuthFailure: a handshake that ended without the driver reaching
	// auth.StateFailHandshake, or a write or reuse attempted on a
	// connection whose handshake failed or is not COMPLETE.
	AuthFailure
	// HandshakeFailure: the handshake ended in auth.StateFailHandshake,
	// which covers an ERR packet before or after the handshake response
	// was sent (except error 1129), or a failed TLS upgrade.
	HandshakeFailure
	// HostBlocked: MySQL error 1129 specifically; triggers the
	// maintenance side effect in §4.2.
	HostBlocked
	// NetworkError: a read or write returned an error.
	NetworkError
	// Hangup: the peer closed the socket cleanly.
	Hangup
	// ReplyError: an ERR packet arrived mid-session. Not fatal to the
	// connection; recorded in Reply and forwarded to the client as-is.
	ReplyError
	// AuthPluginMismatch: the server requested an AuthSwitch to a
	// non-default plugin during COM_CHANGE_USER. Fatal; the client
	// receives a hangup.
	AuthPluginMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ProtocolDesync:
		return "ProtocolDesync"
	case AuthFailure:
		return "AuthFailure"
	case HandshakeFailure:
		return "HandshakeFailure"
	case HostBlocked:
		return "HostBlocked"
	case NetworkError:
		return "NetworkError"
	case Hangup:
		return "Hangup"
	case ReplyError:
		return "ReplyError"
	case AuthPluginMismatch:
		return "AuthPluginMismatch"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this kind ends the connection.
// ReplyError is the only non-fatal kind (§7).
func (k ErrorKind) Fatal() bool {
	return k != ReplyError
}

// ProtocolError is the error type every fatal path in this package
// returns, so callers can classify failures with errors.As without
// string matching.
type ProtocolError struct {
	Kind    ErrorKind
	Addr    string
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend[%s]: %s: %s: %v", e.Addr, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend[%s]: %s: %s", e.Addr, e.Kind, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

func (e *ProtocolError) Is(target error) bool {
	var pe *ProtocolError
	if errors.As(target, &pe) {
		return pe.Kind == e.Kind
	}
	return false
}

func newProtocolError(kind ErrorKind, addr, message string, cause error) *ProtocolError {
	return &ProtocolError{Kind: kind, Addr: addr, Message: message, Cause: cause}
}

// logDesync prints the reply tracker's postmortem statement dump when
// cause is a DesyncError, matching MaxScale's dump of recent statements
// on a protocol desync. A bare empty-payload DesyncError with no
// FirstByte still gets the dump; nil or unrelated causes are a no-op.
func (c *Connection) logDesync(cause error) {
	var de *reply.DesyncError
	if !errors.As(cause, &de) {
		return
	}
	log.Printf("[Backend] protocol desync on %s in state %s (first byte 0x%02x, recent commands: %v)",
		c.addr, de.State, de.FirstByte, de.RecentCommands)
}

// lostConnectionPacket synthesizes the MySQL ERR packet (code 2003,
// "lost connection") that do_handle_error-style propagation sends to
// the client when a fatal error tears down the backend connection
// (§7's propagation policy).
func lostConnectionPacket(seq byte) []byte {
	const message = "Lost connection to backend server"
	errCode := uint16(2003)
	buf := []byte{0xff}
	buf = append(buf, byte(errCode), byte(errCode>>8))
	buf = append(buf, '#')
	buf = append(buf, []byte("08S01")...)
	buf = append(buf, []byte(message)...)
	return protocol.FramePacket(buf, seq)
}
