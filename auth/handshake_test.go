package auth

import (
	"bytes"
	"testing"

	"github.com/mevdschee/mxbackend/protocol"
)

func buildGreeting(t *testing.T, caps uint32, scramble []byte, plugin string) []byte {
	t.Helper()
	if len(scramble) != 20 {
		t.Fatalf("test scramble must be 20 bytes, got %d", len(scramble))
	}
	var buf []byte
	buf = append(buf, 10) // protocol version
	buf = append(buf, []byte("5.7.0-test")...)
	buf = append(buf, 0)
	buf = append(buf, 1, 0, 0, 0) // thread id
	buf = append(buf, scramble[:8]...)
	buf = append(buf, 0) // filler
	buf = append(buf, byte(caps), byte(caps>>8))
	buf = append(buf, 33)                             // charset
	buf = append(buf, 2, 0)                            // status flags
	buf = append(buf, byte(caps>>16), byte(caps>>24)) // capUpper
	buf = append(buf, 21)                              // auth data len (8 + 13)
	buf = append(buf, make([]byte, 10)...)             // reserved
	if caps&protocol.CapSecureConnection != 0 {
		part2 := append([]byte{}, scramble[8:20]...)
		part2 = append(part2, 0)
		buf = append(buf, part2...)
	}
	if caps&protocol.CapPluginAuth != 0 {
		buf = append(buf, []byte(plugin)...)
		buf = append(buf, 0)
	}
	return buf
}

func testCaps() uint32 {
	return protocol.CapLongPassword | protocol.CapProtocol41 | protocol.CapSecureConnection |
		protocol.CapPluginAuth | protocol.CapConnectWithDB | protocol.CapTransactions
}

func TestDriver_HandleGreeting_BuildsResponse(t *testing.T) {
	scramble := []byte("0123456789abcdefghij")
	greetingPkt := buildGreeting(t, testCaps(), scramble, "mysql_native_password")

	d := NewDriver(Credentials{Username: "root", Password: "secret", Database: "app"}, Options{}, nil, "backend1:3306")
	res, err := d.HandleGreeting(greetingPkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NeedsTLS {
		t.Fatal("did not request TLS, should not need it")
	}
	if len(res.HandshakeResponse) < 4 {
		t.Fatal("expected a framed handshake response")
	}
	if d.State() != StateResponseSent {
		t.Fatalf("expected RESPONSE_SENT, got %s", d.State())
	}
	// Username must appear NUL-terminated somewhere in the payload.
	if !bytes.Contains(res.HandshakeResponse, append([]byte("root"), 0)) {
		t.Fatal("expected username in handshake response")
	}
}

func TestDriver_OKCompletesHandshake(t *testing.T) {
	scramble := []byte("0123456789abcdefghij")
	d := NewDriver(Credentials{Username: "root"}, Options{}, nil, "backend1:3306")
	if _, err := d.HandleGreeting(buildGreeting(t, testCaps(), scramble, "mysql_native_password")); err != nil {
		t.Fatal(err)
	}

	toWrite, err := d.HandlePacket([]byte{protocol.HeaderOK, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toWrite != nil {
		t.Fatalf("expected no write on OK, got %v", toWrite)
	}
	if d.State() != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", d.State())
	}
}

func TestDriver_ERRFailsHandshake(t *testing.T) {
	scramble := []byte("0123456789abcdefghij")
	d := NewDriver(Credentials{Username: "root"}, Options{}, nil, "backend1:3306")
	if _, err := d.HandleGreeting(buildGreeting(t, testCaps(), scramble, "mysql_native_password")); err != nil {
		t.Fatal(err)
	}

	errPkt := append([]byte{protocol.HeaderErr, 0x15, 0x04, '#'}, []byte("28000Access denied")...)
	_, err := d.HandlePacket(errPkt)
	if err == nil {
		t.Fatal("expected error")
	}
	if d.State() != StateFailHandshake {
		t.Fatalf("expected FAIL_HANDSHAKE, got %s", d.State())
	}
	if d.LastError == nil || d.LastError.SQLState != "28000" {
		t.Fatalf("expected sql state 28000, got %+v", d.LastError)
	}
}

func TestDriver_ERHostIsBlocked_NotifiesMonitor(t *testing.T) {
	scramble := []byte("0123456789abcdefghij")
	mon := &fakeMonitor{}
	d := NewDriver(Credentials{Username: "root"}, Options{}, mon, "backend1:3306")
	if _, err := d.HandleGreeting(buildGreeting(t, testCaps(), scramble, "mysql_native_password")); err != nil {
		t.Fatal(err)
	}

	code := uint16(1129)
	errPkt := append([]byte{protocol.HeaderErr, byte(code), byte(code >> 8), '#'}, []byte("HY000Host is blocked")...)
	_, _ = d.HandlePacket(errPkt)

	if !mon.called {
		t.Fatal("expected monitor.SetMaintenance to be called")
	}
	if mon.addr != "backend1:3306" {
		t.Fatalf("unexpected addr: %s", mon.addr)
	}
}

type fakeMonitor struct {
	called bool
	addr   string
	reason string
}

func (f *fakeMonitor) SetMaintenance(addr, reason string) {
	f.called = true
	f.addr = addr
	f.reason = reason
}

func TestDriver_AuthSwitchRequest_RecomputesScramble(t *testing.T) {
	scramble := []byte("0123456789abcdefghij")
	d := NewDriver(Credentials{Username: "root", Password: "secret"}, Options{}, nil, "backend1:3306")
	if _, err := d.HandleGreeting(buildGreeting(t, testCaps(), scramble, "mysql_native_password")); err != nil {
		t.Fatal(err)
	}

	newScramble := []byte("zyxwvutsrqponmlkjihg")
	switchPkt := append([]byte{protocol.HeaderEOF}, []byte("mysql_native_password")...)
	switchPkt = append(switchPkt, 0)
	switchPkt = append(switchPkt, newScramble...)

	toWrite, err := d.HandlePacket(switchPkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toWrite == nil {
		t.Fatal("expected an AuthSwitchResponse to write")
	}
	if d.State() != StateResponseSent {
		t.Fatalf("expected to remain in RESPONSE_SENT, got %s", d.State())
	}
	if !bytes.Equal(d.scramble, newScramble) {
		t.Fatalf("expected scramble to be reloaded to %q, got %q", newScramble, d.scramble)
	}
}

func TestNegotiateCapabilities_IntersectsServerOffered(t *testing.T) {
	serverCaps := uint32(protocol.CapLongPassword | protocol.CapProtocol41)
	got := negotiateCapabilities(serverCaps, Options{SessionTrack: true, MultiStatements: true})
	if got&^serverCaps != 0 {
		t.Fatalf("negotiated capabilities %x exceed server-offered %x", got, serverCaps)
	}
	if got&protocol.CapSessionTrack != 0 {
		t.Fatal("session track requested but not offered by server, should not be negotiated")
	}
}
