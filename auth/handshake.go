package auth

import (
	"crypto/tls"
	"fmt"
	"log"

	"github.com/mevdschee/mxbackend/monitor"
	"github.com/mevdschee/mxbackend/protocol"
)

// Credentials holds what the driver needs to authenticate against a
// backend: the account, and optionally a default schema and
// connection-attribute pairs sent in the handshake response.
type Credentials struct {
	Username          string
	Password          string
	Database          string
	ConnectAttributes map[string]string
}

// TLSMode selects whether the driver attempts a TLS upgrade after
// parsing the server greeting.
type TLSMode int

const (
	TLSDisabled TLSMode = iota
	TLSRequired
)

// Options configures a Driver's capability negotiation policy. Per the
// capability-set invariant in §3, negotiated capabilities equal
// (client desired & server offered), with these fields choosing what
// the client desires for the flags the manual calls out specially.
type Options struct {
	TLS               TLSMode
	SessionTrack      bool
	MultiStatements   bool
	ServerName        string // for tls.Config.ServerName; only used if TLS is enabled
	InsecureSkipVerify bool
}

// GreetingResult is returned by HandleGreeting: either the handshake
// response is ready to send immediately, or a TLS upgrade must happen
// first (in which case the caller writes SSLRequestStub, performs the
// TLS handshake on the same logical stream, then calls
// Driver.FinishTLSUpgrade to obtain the real handshake response).
type GreetingResult struct {
	NeedsTLS          bool
	SSLRequestStub    []byte
	HandshakeResponse []byte
}

// Driver drives the CONNECTED -> RESPONSE_SENT -> {COMPLETE,
// FAIL_HANDSHAKE} state machine of §4.2 for a single backend connection.
// It owns no socket; the caller (package backend) feeds it complete
// packets and writes back whatever bytes it returns.
type Driver struct {
	state State

	creds   Credentials
	opts    Options
	monitor monitor.Monitor
	// serverAddr identifies the backend for monitor/log messages, e.g.
	// "10.0.0.5:3306".
	serverAddr string

	authenticator Authenticator
	pluginName    string
	scramble      []byte

	serverCapabilities uint32
	capabilities        uint32
	serverVersion       string
	threadID            uint32
	charset             byte

	nextSeq byte

	// LastError is set when State becomes FAIL_HANDSHAKE, carrying the
	// backend's ERR descriptor for upstream messaging.
	LastError *ErrDescriptor
}

// ErrDescriptor mirrors the (code, sql_state, message) triple parsed
// from an ERR packet (§4.3's error descriptor extraction, reused here
// for handshake-time errors).
type ErrDescriptor struct {
	Code     uint16
	SQLState string
	Message  string
}

// NewDriver constructs a Driver ready to consume the server's initial
// greeting. mon may be nil, in which case the ER_HOST_IS_BLOCKED policy
// (§4.2) is skipped with a log line instead of a monitor notification.
func NewDriver(creds Credentials, opts Options, mon monitor.Monitor, serverAddr string) *Driver {
	return &Driver{
		state:      StateConnected,
		creds:      creds,
		opts:       opts,
		monitor:    mon,
		serverAddr: serverAddr,
	}
}

func (d *Driver) State() State { return d.state }

// Capabilities returns the negotiated capability bitmask. Only
// meaningful once State is StateComplete.
func (d *Driver) Capabilities() uint32 { return d.capabilities }

// ThreadID returns the server-assigned connection id from the greeting.
func (d *Driver) ThreadID() uint32 { return d.threadID }

// Scramble returns the most recently seen server scramble: the one from
// the initial greeting, or a fresher one read from an AuthSwitchRequest.
// COM_CHANGE_USER must sign against this value, not the original
// greeting's scramble (§4.4).
func (d *Driver) Scramble() []byte { return d.scramble }

// Charset returns the charset byte captured from the server greeting,
// echoed back in the handshake response and reused for COM_CHANGE_USER.
func (d *Driver) Charset() byte { return d.charset }

// Authenticator returns the Authenticator selected for the currently
// negotiated plugin, so callers building further plugin-specific
// packets (e.g. package backend's COM_CHANGE_USER) don't have to
// duplicate plugin selection.
func (d *Driver) Authenticator() Authenticator { return d.authenticator }

// PluginName returns the auth plugin name currently in effect.
func (d *Driver) PluginName() string { return d.pluginName }

// HandleGreeting parses the server's initial handshake packet (protocol
// version 10) and either produces the handshake response directly, or
// signals that a TLS upgrade must happen first.
func (d *Driver) HandleGreeting(payload []byte) (GreetingResult, error) {
	if len(payload) > 0 && payload[0] == protocol.HeaderErr {
		desc := parseErrPacket(payload)
		d.fail(desc)
		return GreetingResult{}, fmt.Errorf("auth: server rejected connection before greeting: %s", desc.Message)
	}

	g, err := parseGreeting(payload)
	if err != nil {
		d.fail(&ErrDescriptor{Message: err.Error()})
		return GreetingResult{}, err
	}

	d.serverCapabilities = g.capabilities
	d.serverVersion = g.serverVersion
	d.threadID = g.threadID
	d.charset = g.charset
	d.scramble = g.scramble
	d.pluginName = g.pluginName
	d.authenticator = authenticatorByName(g.pluginName)

	d.capabilities = negotiateCapabilities(g.capabilities, d.opts)

	if d.opts.TLS == TLSRequired && g.capabilities&protocol.CapSSL != 0 {
		d.capabilities |= protocol.CapSSL
		stub := d.buildSSLRequestStub(1)
		d.nextSeq = 2
		return GreetingResult{NeedsTLS: true, SSLRequestStub: stub}, nil
	}

	resp := d.buildHandshakeResponse(1)
	d.nextSeq = 2
	d.state = StateResponseSent
	return GreetingResult{HandshakeResponse: resp}, nil
}

// FinishTLSUpgrade is called once the caller has completed a TLS
// handshake on top of the SSL request stub HandleGreeting returned. It
// returns the real handshake response, now to be written over the TLS
// connection at sequence 2.
func (d *Driver) FinishTLSUpgrade(_ *tls.Conn) []byte {
	resp := d.buildHandshakeResponse(d.nextSeq)
	d.nextSeq++
	d.state = StateResponseSent
	return resp
}

// HandlePacket processes one complete packet received while in
// StateResponseSent: an OK packet completes authentication, an ERR
// packet fails it, and an AuthSwitchRequest recomputes the scramble
// response for the (possibly different) plugin the server names.
//
// toWrite is non-nil only when the driver must send an
// AuthSwitchResponse; the caller writes it and keeps waiting.
func (d *Driver) HandlePacket(payload []byte) (toWrite []byte, err error) {
	if d.state != StateResponseSent {
		return nil, fmt.Errorf("auth: HandlePacket called in state %s", d.state)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("auth: empty packet during handshake")
	}

	switch payload[0] {
	case protocol.HeaderOK:
		d.state = StateComplete
		return nil, nil
	case protocol.HeaderErr:
		desc := parseErrPacket(payload)
		d.fail(desc)
		return nil, fmt.Errorf("auth: handshake failed: %s", desc.Message)
	case protocol.HeaderEOF:
		// AuthSwitchRequest: 0xfe, NUL-terminated plugin name, then the
		// new scramble to end of packet. Open question in §9 resolved
		// here: always reload the scramble, even if the plugin name is
		// unchanged, consistent with the COM_CHANGE_USER path.
		name, rest, ok := readAuthSwitchRequest(payload)
		if !ok {
			d.fail(&ErrDescriptor{Message: "malformed AuthSwitchRequest"})
			return nil, fmt.Errorf("auth: malformed AuthSwitchRequest")
		}
		d.pluginName = name
		d.scramble = rest
		d.authenticator = authenticatorByName(name)

		resp := d.authenticator.Response(d.scramble, d.creds.Password)
		pkt := buildAuthSwitchResponse(resp, d.nextSeq)
		d.nextSeq++
		return pkt, nil
	default:
		d.fail(&ErrDescriptor{Message: "unexpected packet during handshake"})
		return nil, fmt.Errorf("auth: unexpected packet type 0x%02x during handshake", payload[0])
	}
}

func (d *Driver) fail(desc *ErrDescriptor) {
	d.LastError = desc
	d.state = StateFailHandshake
	if desc != nil && desc.Code == protocol.ErrHostIsBlocked {
		if d.monitor != nil {
			d.monitor.SetMaintenance(d.serverAddr, desc.Message)
		} else {
			log.Printf("[auth] %s reported ER_HOST_IS_BLOCKED (%s); no monitor configured; run: mysqladmin -h %s flush-hosts", d.serverAddr, desc.Message, d.serverAddr)
		}
	}
}

// negotiateCapabilities implements the invariant from §3: negotiated =
// (client_desired & server_offered), with SSL, CONNECT_WITH_DB,
// SESSION_TRACK, MULTI_STATEMENTS, and PLUGIN_AUTH chosen per policy.
func negotiateCapabilities(serverCaps uint32, opts Options) uint32 {
	desired := uint32(protocol.CapDefaultClient)
	if opts.SessionTrack {
		desired |= protocol.CapSessionTrack
	} else {
		desired &^= protocol.CapSessionTrack
	}
	if opts.MultiStatements {
		desired |= protocol.CapMultiStatements
	} else {
		desired &^= protocol.CapMultiStatements
	}
	return desired & serverCaps
}
