package backend

import "github.com/mevdschee/mxbackend/protocol"

// Ping emits an ignorable ping packet per §4.4: only legal once the
// current reply has reached DONE. The reply is consumed internally
// (m_ignore_replies) and never forwarded upstream.
func (c *Connection) Ping() error {
	if c.tracker == nil || !c.tracker.Reply().Done() {
		return newProtocolError(ProtocolDesync, c.addr, "Ping called before current reply reached DONE", nil)
	}
	return c.Dispatch([]byte{protocol.ComPing})
}
