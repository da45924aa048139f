package auth

import (
	"crypto/tls"
	"net"
)

// UpgradeTLS performs the client-side TLS handshake on top of a raw
// connection that has already been sent the SSL request stub returned
// by HandleGreeting. It is a thin wrapper so callers don't need to
// import crypto/tls just to drive this one step.
func UpgradeTLS(conn net.Conn, opts Options) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
