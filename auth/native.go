package auth

import "crypto/sha1"

// AuthStatus enumerates authentication outcomes (incomplete, success,
// fail). No method of Authenticator or Driver returns it.
type AuthStatus int

const (
	AuthIncomplete AuthStatus = iota
	AuthSuccess
	AuthFail
)

// Authenticator is the pluggable half of the handshake driver (§9
// "Polymorphism"): given the scramble captured from the server, it
// produces the auth-response bytes to embed in the handshake response.
// It does not read server packets itself: the Driver parses an
// AuthSwitchRequest and calls Response again with the new scramble. A
// Driver holds one Authenticator at a time, selected in HandleGreeting
// by the plugin name advertised in the server greeting and replaced
// when an AuthSwitchRequest names a plugin.
type Authenticator interface {
	// Name is the auth plugin name this authenticator implements
	// (e.g. "mysql_native_password").
	Name() string
	// Response computes the auth-response bytes to send for the given
	// scramble and password. An empty password yields a nil response
	// (the caller then sends a single zero byte per the handshake
	// response format).
	Response(scramble []byte, password string) []byte
}

// NativePasswordAuthenticator implements the mysql_native_password
// plugin, the only plugin this module builds in (see SPEC_FULL.md's
// note on ClearTextAuthenticator being out of scope).
type NativePasswordAuthenticator struct{}

func (NativePasswordAuthenticator) Name() string { return "mysql_native_password" }

// Response computes the mysql_native_password scramble response:
//
//	stage1 = SHA1(password)
//	stage2 = SHA1(stage1)
//	scrambleHash = SHA1(serverScramble ‖ stage2)
//	token = scrambleHash XOR stage1
//
// per §4.2. A blank password yields nil, matching the "single zero
// byte" encoding the caller uses for the no-password case.
func (NativePasswordAuthenticator) Response(scramble []byte, password string) []byte {
	if password == "" {
		return nil
	}
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(scramble)
	h.Write(stage2[:])
	scrambleHash := h.Sum(nil)

	token := make([]byte, len(stage1))
	for i := range token {
		token[i] = scrambleHash[i] ^ stage1[i]
	}
	return token
}

// authenticatorByName selects the Authenticator to use for a given
// plugin name advertised by the server. Unknown plugins fall back to
// native password, matching how the original driver treats an absent or
// unrecognized plugin name in a pre-4.1.1-style greeting (see
// parseGreeting).
func authenticatorByName(name string) Authenticator {
	switch name {
	case "mysql_native_password", "":
		return NativePasswordAuthenticator{}
	default:
		return NativePasswordAuthenticator{}
	}
}
