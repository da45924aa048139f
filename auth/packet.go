package auth

import (
	"fmt"

	"github.com/mevdschee/mxbackend/protocol"
)

type greeting struct {
	capabilities  uint32
	serverVersion string
	threadID      uint32
	charset       byte
	scramble      []byte
	pluginName    string
}

// parseGreeting parses a protocol-version-10 server greeting, per
// §4.2. It follows the same field order the pack's client
// implementations use (grounded on the Vitess-derived handshake parser):
// protocol version, server version, connection id, first 8 scramble
// bytes, filler, capability flags (lower 2 bytes), then — if any bytes
// remain — charset, status flags, capability flags (upper 2 bytes),
// auth-plugin-data length, 10 reserved bytes, the remaining scramble
// bytes, and the auth plugin name.
func parseGreeting(payload []byte) (greeting, error) {
	pos := 0
	if len(payload) < 1 {
		return greeting{}, fmt.Errorf("empty greeting")
	}
	protoVersion := payload[pos]
	pos++
	if protoVersion != 10 {
		return greeting{}, fmt.Errorf("unsupported protocol version %d", protoVersion)
	}

	version, n, ok := protocol.ReadNullTerminatedString(payload[pos:])
	if !ok {
		return greeting{}, fmt.Errorf("greeting: missing server version")
	}
	pos += n

	if len(payload) < pos+4 {
		return greeting{}, fmt.Errorf("greeting: truncated connection id")
	}
	threadID := uint32(payload[pos]) | uint32(payload[pos+1])<<8 | uint32(payload[pos+2])<<16 | uint32(payload[pos+3])<<24
	pos += 4

	if len(payload) < pos+8 {
		return greeting{}, fmt.Errorf("greeting: truncated scramble part 1")
	}
	scramble := append([]byte{}, payload[pos:pos+8]...)
	pos += 8

	// 1-byte filler.
	pos++

	if len(payload) < pos+2 {
		return greeting{}, fmt.Errorf("greeting: truncated capability flags")
	}
	capLower := uint16(payload[pos]) | uint16(payload[pos+1])<<8
	pos += 2
	caps := uint32(capLower)

	g := greeting{capabilities: caps, serverVersion: string(version), threadID: threadID, scramble: scramble}

	if pos == len(payload) {
		return g, nil
	}

	if len(payload) < pos+1 {
		return greeting{}, fmt.Errorf("greeting: truncated charset")
	}
	g.charset = payload[pos]
	pos++

	// 2-byte status flags, ignored here.
	pos += 2

	if len(payload) < pos+2 {
		return greeting{}, fmt.Errorf("greeting: truncated upper capability flags")
	}
	capUpper := uint16(payload[pos]) | uint16(payload[pos+1])<<8
	pos += 2
	g.capabilities = caps | uint32(capUpper)<<16

	if len(payload) < pos+1 {
		return greeting{}, fmt.Errorf("greeting: truncated auth-plugin-data length")
	}
	authDataLen := payload[pos]
	pos++

	// 10 reserved bytes.
	pos += 10

	if g.capabilities&protocol.CapSecureConnection != 0 {
		l := int(authDataLen) - 8
		if l < 13 {
			l = 13
		}
		if len(payload) < pos+l {
			return greeting{}, fmt.Errorf("greeting: truncated scramble part 2")
		}
		part2 := payload[pos : pos+l]
		pos += l
		// Trailing NUL is not part of the scramble bytes.
		if l > 0 && part2[l-1] == 0 {
			part2 = part2[:l-1]
		}
		g.scramble = append(g.scramble, part2...)
	}

	if g.capabilities&protocol.CapPluginAuth != 0 && pos < len(payload) {
		name, _, ok := protocol.ReadNullTerminatedString(payload[pos:])
		if !ok {
			// Some pre-5.5.10 servers omit the NUL terminator on the
			// last field; fall back to the remainder of the packet.
			name = payload[pos:]
		}
		g.pluginName = string(name)
	}

	return g, nil
}

// buildHandshakeResponse serializes a HandshakeResponse41 per §4.2's
// field order.
func (d *Driver) buildHandshakeResponse(seq byte) []byte {
	var authResp []byte
	if d.authenticator != nil {
		authResp = d.authenticator.Response(d.scramble, d.creds.Password)
	}

	buf := make([]byte, 0, 64+len(d.creds.Username)+len(authResp)+len(d.creds.Database))
	buf = append(buf, byte(d.capabilities), byte(d.capabilities>>8), byte(d.capabilities>>16), byte(d.capabilities>>24))
	// Max packet size: 16 MiB.
	buf = append(buf, 0x00, 0x00, 0x00, 0x01)
	buf = append(buf, d.charset)
	buf = append(buf, make([]byte, 23)...)

	buf = append(buf, []byte(d.creds.Username)...)
	buf = append(buf, 0)

	if len(authResp) == 0 {
		buf = append(buf, 0)
	} else if d.capabilities&protocol.CapPluginAuthLenencClientData != 0 {
		buf = protocol.PutLengthEncodedInt(buf, uint64(len(authResp)))
		buf = append(buf, authResp...)
	} else {
		buf = append(buf, byte(len(authResp)))
		buf = append(buf, authResp...)
	}

	if d.capabilities&protocol.CapConnectWithDB != 0 && d.creds.Database != "" {
		buf = append(buf, []byte(d.creds.Database)...)
		buf = append(buf, 0)
	}

	if d.capabilities&protocol.CapPluginAuth != 0 {
		name := d.pluginName
		if name == "" {
			name = "mysql_native_password"
		}
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
	}

	if d.capabilities&protocol.CapConnectAttrs != 0 && len(d.creds.ConnectAttributes) > 0 {
		attrs := encodeConnectAttributes(d.creds.ConnectAttributes)
		buf = protocol.PutLengthEncodedInt(buf, uint64(len(attrs)))
		buf = append(buf, attrs...)
	}

	return protocol.FramePacket(buf, seq)
}

func encodeConnectAttributes(attrs map[string]string) []byte {
	var buf []byte
	for k, v := range attrs {
		buf = protocol.PutLengthEncodedString(buf, []byte(k))
		buf = protocol.PutLengthEncodedString(buf, []byte(v))
	}
	return buf
}

// buildSSLRequestStub serializes the abbreviated handshake response used
// to request a TLS upgrade: capabilities, max-packet, charset, and 23
// zero bytes only — no username or auth response, per §4.2.
func (d *Driver) buildSSLRequestStub(seq byte) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(d.capabilities), byte(d.capabilities>>8), byte(d.capabilities>>16), byte(d.capabilities>>24))
	buf = append(buf, 0x00, 0x00, 0x00, 0x01)
	buf = append(buf, d.charset)
	buf = append(buf, make([]byte, 23)...)
	return protocol.FramePacket(buf, seq)
}

func buildAuthSwitchResponse(resp []byte, seq byte) []byte {
	return protocol.FramePacket(resp, seq)
}

// ParseAuthSwitchRequest exposes readAuthSwitchRequest for callers
// outside this package (package backend's COM_CHANGE_USER auth-switch
// handling, §4.4).
func ParseAuthSwitchRequest(payload []byte) (plugin string, scramble []byte, ok bool) {
	return readAuthSwitchRequest(payload)
}

// readAuthSwitchRequest parses the 0xfe-prefixed AuthSwitchRequest
// payload: NUL-terminated plugin name followed by the new scramble to
// end of packet.
func readAuthSwitchRequest(payload []byte) (plugin string, scramble []byte, ok bool) {
	if len(payload) < 1 || payload[0] != protocol.HeaderEOF {
		return "", nil, false
	}
	name, n, found := protocol.ReadNullTerminatedString(payload[1:])
	if !found {
		return "", nil, false
	}
	rest := payload[1+n:]
	// Trailing NUL on the scramble is common but not guaranteed; strip
	// it if present so downstream SHA1 math sees exactly 20 bytes.
	if len(rest) > 0 && rest[len(rest)-1] == 0 {
		rest = rest[:len(rest)-1]
	}
	return string(name), append([]byte{}, rest...), true
}

func parseErrPacket(payload []byte) *ErrDescriptor {
	if len(payload) < 3 {
		return &ErrDescriptor{Message: "malformed error packet"}
	}
	code := uint16(payload[1]) | uint16(payload[2])<<8
	pos := 3
	sqlState := ""
	if len(payload) >= pos+6 && payload[pos] == '#' {
		sqlState = string(payload[pos+1 : pos+6])
		pos += 6
	}
	message := string(payload[pos:])
	return &ErrDescriptor{Code: code, SQLState: sqlState, Message: message}
}
