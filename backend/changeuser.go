package backend

import (
	"fmt"

	"github.com/mevdschee/mxbackend/auth"
	"github.com/mevdschee/mxbackend/protocol"
	"github.com/mevdschee/mxbackend/reply"
	"github.com/mevdschee/mxbackend/session"
	"github.com/mevdschee/mxbackend/upstream"
)

// checkReusePreconditions implements §4.4's reuse_connection guard: a
// connection may only be handed to a new session when its auth state is
// COMPLETE and it carries no buffered state (delay queue, write queue,
// stored query, unconsumed read buffer, or a nonzero ignore-replies
// counter).
func (c *Connection) checkReusePreconditions() error {
	if c.driver.State() != auth.StateComplete {
		return newProtocolError(AuthFailure, c.addr, "reuse attempted on a non-COMPLETE connection", nil)
	}
	if len(c.writeQueue) > 0 || len(c.delayQueue) > 0 || len(c.storedQuery) > 0 ||
		c.ignoreReplies != 0 || len(c.pending) > 0 || len(c.inbuf) > 0 {
		return newProtocolError(ProtocolDesync, c.addr, "reuse attempted with buffered state present", nil)
	}
	return nil
}

// buildChangeUserPacket serializes COM_CHANGE_USER per §4.4's field
// order, signing the auth response against scramble (the server's most
// recent scramble, not necessarily the original greeting's).
func (c *Connection) buildChangeUserPacket(creds auth.Credentials, scramble []byte, seq byte) []byte {
	authr := c.driver.Authenticator()
	var resp []byte
	if authr != nil {
		resp = authr.Response(scramble, creds.Password)
	}

	buf := []byte{protocol.ComChangeUser}
	buf = append(buf, []byte(creds.Username)...)
	buf = append(buf, 0)

	if len(resp) == 0 {
		buf = append(buf, 0)
	} else {
		buf = append(buf, byte(len(resp)))
		buf = append(buf, resp...)
	}

	buf = append(buf, []byte(creds.Database)...)
	buf = append(buf, 0)

	charset := c.driver.Charset()
	buf = append(buf, charset, 0)

	pluginName := "mysql_native_password"
	if authr != nil {
		pluginName = authr.Name()
	}
	buf = append(buf, []byte(pluginName)...)
	buf = append(buf, 0)

	if len(creds.ConnectAttributes) > 0 && c.driver.Capabilities()&protocol.CapConnectAttrs != 0 {
		attrs := encodeChangeUserAttrs(creds.ConnectAttributes)
		buf = protocol.PutLengthEncodedInt(buf, uint64(len(attrs)))
		buf = append(buf, attrs...)
	}

	return protocol.FramePacket(buf, seq)
}

func encodeChangeUserAttrs(attrs map[string]string) []byte {
	var buf []byte
	for k, v := range attrs {
		buf = protocol.PutLengthEncodedString(buf, []byte(k))
		buf = protocol.PutLengthEncodedString(buf, []byte(v))
	}
	return buf
}

// ChangeUser writes a COM_CHANGE_USER packet and drives it to
// completion, following an AuthSwitchRequest chain if the server issues
// one (§4.4). The reply is consumed internally via ignore_replies: it
// never reaches the upstream adapter. On return, either the session
// reset succeeded (nil error, m_ignore_replies == 0, m_changing_user ==
// false) or the connection must be considered unusable.
func (c *Connection) ChangeUser(newCreds auth.Credentials) error {
	c.creds = newCreds
	pkt := c.buildChangeUserPacket(newCreds, c.driver.Scramble(), 0)

	c.changingUser = true
	c.ignoreReplies = 1
	c.tracker.BeginCommand(protocol.ComChangeUser)

	if err := c.writeRaw(pkt); err != nil {
		return c.networkError("writing COM_CHANGE_USER", err)
	}

	seq := byte(1)
	for {
		p, err := c.nextPacket()
		if err != nil {
			return c.networkError("reading COM_CHANGE_USER reply", err)
		}

		if len(p.Payload) > 0 && p.Payload[0] == protocol.HeaderEOF && c.tracker.Reply().State == reply.StateStart {
			plugin, scramble, ok := auth.ParseAuthSwitchRequest(p.Payload)
			if !ok {
				return newProtocolError(ProtocolDesync, c.addr, "malformed AuthSwitchRequest during COM_CHANGE_USER", nil)
			}
			if plugin != "" && plugin != c.driver.PluginName() {
				return newProtocolError(AuthPluginMismatch, c.addr,
					fmt.Sprintf("server requested plugin %q during COM_CHANGE_USER, connection expects %q", plugin, c.driver.PluginName()), nil)
			}
			resp := c.driver.Authenticator().Response(scramble, newCreds.Password)
			seq++
			if err := c.writeRaw(protocol.FramePacket(resp, seq)); err != nil {
				return c.networkError("writing COM_CHANGE_USER auth-switch response", err)
			}
			continue
		}

		if err := c.tracker.Consume(p.Header.Length, p.Payload); err != nil {
			c.logDesync(err)
			return newProtocolError(ProtocolDesync, c.addr, err.Error(), err)
		}
		if !c.tracker.Reply().Done() {
			continue
		}
		return c.settleCompletedReply()
	}
}

// ReuseConnection implements §4.4's reuse_connection: rebind this
// connection to a new session/upstream and reset its server-side state
// with COM_CHANGE_USER. On failure the prior session/upstream binding is
// restored atomically, leaving the connection attached to its original
// owner.
func (c *Connection) ReuseConnection(newSess session.Session, newUp upstream.Upstream, newCreds auth.Credentials) error {
	if err := c.checkReusePreconditions(); err != nil {
		return err
	}

	prevSess, prevAdapter := c.sess, c.adapter
	c.BindUpstream(newSess, newUp)

	if err := c.ChangeUser(newCreds); err != nil {
		c.sess = prevSess
		c.adapter = prevAdapter
		return err
	}
	return nil
}
