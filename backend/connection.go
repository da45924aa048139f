// Package backend implements the connection manager (§4.4): it owns
// the backend socket, drives the handshake and reply-tracker packages
// through a single connection's lifetime, manages the write queue and
// pre-auth delay queue, and implements COM_CHANGE_USER-based session
// reset for pool reuse.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mevdschee/mxbackend/auth"
	"github.com/mevdschee/mxbackend/monitor"
	"github.com/mevdschee/mxbackend/protocol"
	"github.com/mevdschee/mxbackend/reply"
	"github.com/mevdschee/mxbackend/session"
	"github.com/mevdschee/mxbackend/upstream"
)

// Connection owns one backend socket and everything the wire protocol
// needs to track across its lifetime (§3's BackendConnection). It is
// built for a cooperative, one-owner-goroutine-per-connection model:
// nothing here is safe for concurrent use from two goroutines at once,
// matching §5's "no mutex on per-connection state" rule. Read/write I/O
// is performed with ordinary blocking net.Conn calls on that owning
// goroutine rather than a hand-rolled non-blocking reactor.
type Connection struct {
	addr string
	conn net.Conn

	creds   auth.Credentials
	opts    auth.Options
	monitor monitor.Monitor

	driver  *auth.Driver
	tracker *reply.Tracker

	inbuf      []byte
	pending    []protocol.Packet
	writeQueue [][]byte
	delayQueue [][]byte

	// ignoreReplies counts replies produced by internally injected
	// commands (COM_CHANGE_USER, ignorable ping) that must not be
	// forwarded upstream (m_ignore_replies).
	ignoreReplies int
	// changingUser is m_changing_user: true from the moment a
	// COM_CHANGE_USER packet is written until its reply (or auth-switch
	// chain) completes.
	changingUser bool
	// storedQuery holds client commands received while ignoreReplies > 0
	// or changingUser is true, to be dispatched once in original order
	// once the internal exchange completes.
	storedQuery [][]byte

	trackState bool

	// replyBuf accumulates the raw framed bytes of the reply currently
	// in flight, forwarded upstream as one unit once the tracker marks
	// it DONE.
	replyBuf []byte

	adapter *upstream.Adapter
	sess    session.Session

	lastRead  time.Time
	lastWrite time.Time
}

// NewConnection constructs a Connection for a backend at addr. Nothing
// is dialed yet; call Dial then Handshake.
func NewConnection(addr string, creds auth.Credentials, opts auth.Options, mon monitor.Monitor, trackState bool) *Connection {
	return &Connection{
		addr:       addr,
		creds:      creds,
		opts:       opts,
		monitor:    mon,
		driver:     auth.NewDriver(creds, opts, mon, addr),
		trackState: trackState,
	}
}

// Addr returns the backend address this connection targets.
func (c *Connection) Addr() string { return c.addr }

// AuthState returns the handshake driver's current state.
func (c *Connection) AuthState() auth.State { return c.driver.State() }

// Reply returns the current tracked reply. Only meaningful once
// AuthState is StateComplete.
func (c *Connection) Reply() *reply.Reply {
	if c.tracker == nil {
		return nil
	}
	return c.tracker.Reply()
}

// BindUpstream attaches the session/upstream this connection forwards
// completed replies to (§9's non-owning back-reference).
func (c *Connection) BindUpstream(sess session.Session, up upstream.Upstream) {
	c.sess = sess
	c.adapter = upstream.NewAdapter(sess, up, c.addr)
}

// Dial opens the TCP connection to addr. Dial writes no PROXY protocol
// header; for a backend that expects one, callers build it with
// auth.BuildProxyProtocolHeader and write it with WriteProxyHeader
// before calling Handshake, since building that header requires the
// accepted client's address, which this package does not know.
func (c *Connection) Dial(ctx context.Context, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return newProtocolError(NetworkError, c.addr, "dial failed", err)
	}
	c.conn = conn
	return nil
}

// WriteProxyHeader writes a PROXY protocol v1 header (built by
// auth.BuildProxyProtocolHeader) ahead of any MySQL bytes, for backends
// configured to expect one (§4.2, §6). Call it after Dial/SetConn and
// before Handshake.
func (c *Connection) WriteProxyHeader(header []byte) error {
	if err := c.writeRaw(header); err != nil {
		return c.networkError("writing PROXY protocol header", err)
	}
	return nil
}

// SetConn injects an already-established net.Conn (e.g. after a TLS
// upgrade, or in tests using net.Pipe). It is the caller's
// responsibility not to call this after Dial has already set one up
// without closing the prior connection.
func (c *Connection) SetConn(conn net.Conn) { c.conn = conn }

// Handshake drives the CONNECTED -> RESPONSE_SENT -> {COMPLETE,
// FAIL_HANDSHAKE} state machine of §4.2 to completion, performing a TLS
// upgrade in between if the driver requests one. It blocks until a
// terminal auth state is reached or the socket errs.
func (c *Connection) Handshake(ctx context.Context) error {
	if c.conn == nil {
		return newProtocolError(NetworkError, c.addr, "Handshake called before Dial/SetConn", nil)
	}

	greeting, err := c.readPacket()
	if err != nil {
		return c.networkError("reading server greeting", err)
	}

	result, err := c.driver.HandleGreeting(greeting)
	if err != nil {
		return c.classifyHandshakeFailure(err)
	}

	if result.NeedsTLS {
		if err := c.writeRaw(result.SSLRequestStub); err != nil {
			return c.networkError("writing SSL request stub", err)
		}
		tlsConn, err := auth.UpgradeTLS(c.conn, c.opts)
		if err != nil {
			return newProtocolError(HandshakeFailure, c.addr, "TLS upgrade failed", err)
		}
		c.conn = tlsConn
		resp := c.driver.FinishTLSUpgrade(tlsConn)
		if err := c.writeRaw(resp); err != nil {
			return c.networkError("writing handshake response", err)
		}
	} else {
		if err := c.writeRaw(result.HandshakeResponse); err != nil {
			return c.networkError("writing handshake response", err)
		}
	}

	for {
		if c.driver.State().Terminal() {
			break
		}
		pkt, err := c.readPacket()
		if err != nil {
			return c.networkError("reading handshake reply", err)
		}
		toWrite, err := c.driver.HandlePacket(pkt)
		if err != nil {
			return c.classifyHandshakeFailure(err)
		}
		if toWrite != nil {
			if err := c.writeRaw(toWrite); err != nil {
				return c.networkError("writing auth-switch response", err)
			}
		}
	}

	if c.driver.State() != auth.StateComplete {
		return c.classifyHandshakeFailure(fmt.Errorf("handshake ended in state %s", c.driver.State()))
	}

	c.tracker = reply.NewTracker(reply.Options{
		Capabilities: c.driver.Capabilities(),
		TrackState:   c.trackState,
	}, 8)

	return c.drainDelayQueue()
}

func (c *Connection) classifyHandshakeFailure(cause error) error {
	if c.driver.LastError != nil && c.driver.LastError.Code == protocol.ErrHostIsBlocked {
		return newProtocolError(HostBlocked, c.addr, "ER_HOST_IS_BLOCKED", cause)
	}
	if c.driver.State() == auth.StateFailHandshake {
		return newProtocolError(HandshakeFailure, c.addr, "handshake failed", cause)
	}
	return newProtocolError(AuthFailure, c.addr, "authentication failed", cause)
}

func (c *Connection) networkError(what string, cause error) error {
	if errors.Is(cause, net.ErrClosed) || errors.Is(cause, context.Canceled) {
		return newProtocolError(Hangup, c.addr, what, cause)
	}
	return newProtocolError(NetworkError, c.addr, what, cause)
}

// isIgnorableCommand reports whether cmd's first byte is a command this
// connection may inject on its own and hide the reply for (§4.4: ping).
func isIgnorableCommand(cmd []byte) bool {
	return len(cmd) > 0 && cmd[0] == protocol.ComPing
}

// Dispatch implements the write-gating table of §4.4 for a
// client-originated command. It never blocks on the network beyond a
// single best-effort flush of the write queue.
func (c *Connection) Dispatch(cmd []byte) error {
	state := c.driver.State()

	switch {
	case state == auth.StateFail || state == auth.StateFailHandshake:
		return newProtocolError(AuthFailure, c.addr, "write attempted after failed handshake", nil)

	case state != auth.StateComplete:
		c.delayQueue = append(c.delayQueue, append([]byte{}, cmd...))
		return nil

	case c.ignoreReplies > 0:
		if len(cmd) > 0 && cmd[0] == protocol.ComQuit {
			return c.Close()
		}
		c.storedQuery = append(c.storedQuery, append([]byte{}, cmd...))
		return nil

	default:
		if len(cmd) == 0 {
			return newProtocolError(ProtocolDesync, c.addr, "empty client command", nil)
		}
		if isIgnorableCommand(cmd) {
			c.ignoreReplies++
		}
		c.tracker.BeginCommand(cmd[0])
		return c.enqueueAndFlush(cmd)
	}
}

// drainDelayQueue implements §3's rule: the delay queue is drained
// exactly once, upon transition into COMPLETE, preserving FIFO order.
func (c *Connection) drainDelayQueue() error {
	queued := c.delayQueue
	c.delayQueue = nil
	for _, cmd := range queued {
		if err := c.Dispatch(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) enqueueAndFlush(payload []byte) error {
	framed := protocol.FramePacket(payload, 0)
	c.writeQueue = append(c.writeQueue, framed)
	return c.flush()
}

func (c *Connection) flush() error {
	for len(c.writeQueue) > 0 {
		buf := c.writeQueue[0]
		if err := c.writeRaw(buf); err != nil {
			return c.networkError("flushing write queue", err)
		}
		c.writeQueue = c.writeQueue[1:]
	}
	return nil
}

func (c *Connection) writeRaw(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if _, err := c.conn.Write(buf); err != nil {
		return err
	}
	c.lastWrite = time.Now()
	return nil
}

// nextPacket blocks until one complete packet is available, reading and
// buffering as needed. Packets split out of a single read are queued in
// c.pending and handed out one at a time, so a burst that arrives in
// one Read (e.g. a full result set) doesn't require another syscall to
// drain.
func (c *Connection) nextPacket() (protocol.Packet, error) {
	for {
		if len(c.pending) > 0 {
			pkt := c.pending[0]
			c.pending = c.pending[1:]
			pkt.Payload = append([]byte{}, pkt.Payload...)
			return pkt, nil
		}

		buf := make([]byte, 65536)
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.inbuf = append(c.inbuf, buf[:n]...)
			c.lastRead = time.Now()
			packets, leftover := protocol.Split(c.inbuf)
			c.pending = packets
			c.inbuf = append([]byte{}, leftover...)
		}
		if err != nil && len(c.pending) == 0 {
			return protocol.Packet{}, err
		}
	}
}

// readPacket is the payload-only convenience used by the handshake,
// which never needs the raw framed bytes.
func (c *Connection) readPacket() ([]byte, error) {
	pkt, err := c.nextPacket()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}

// Close tears down the socket. Any stored_query is discarded per §5's
// cancellation rule.
func (c *Connection) Close() error {
	c.storedQuery = nil
	c.delayQueue = nil
	c.writeQueue = nil
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
