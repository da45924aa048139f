package backend

import (
	"github.com/mevdschee/mxbackend/protocol"
	"github.com/mevdschee/mxbackend/reply"
	"github.com/mevdschee/mxbackend/upstream"
)

// PumpReply blocks reading backend packets and feeding them to the
// reply tracker until the current reply reaches DONE (or a fatal error
// occurs), then applies the ignore/forward decision of §4.4 and §4.5.
// It returns the completed Reply on success.
func (c *Connection) PumpReply() (*reply.Reply, error) {
	if c.tracker == nil {
		return nil, newProtocolError(ProtocolDesync, c.addr, "PumpReply called before handshake completed", nil)
	}

	for {
		pkt, err := c.nextPacket()
		if err != nil {
			return nil, c.networkError("reading backend reply", err)
		}

		c.replyBuf = append(c.replyBuf, protocol.FramePacket(pkt.Payload, pkt.Header.Sequence)...)

		if err := c.tracker.Consume(pkt.Header.Length, pkt.Payload); err != nil {
			c.logDesync(err)
			return nil, newProtocolError(ProtocolDesync, c.addr, err.Error(), err)
		}

		r := c.tracker.Reply()
		if !r.Done() {
			continue
		}

		buf := c.replyBuf
		c.replyBuf = nil

		ignored := c.ignoreReplies > 0
		if err := c.settleCompletedReply(); err != nil {
			return r, err
		}

		if ignored {
			// An internally injected command's reply; never forwarded
			// upstream (§4.4).
			continue
		}

		if c.adapter != nil {
			if _, err := c.adapter.ClientReply(buf, r); err != nil {
				return r, c.networkError("forwarding reply upstream", err)
			}
		}
		return r, nil
	}
}

// settleCompletedReply implements the ignore/stored-query bookkeeping
// that must happen the instant a reply reaches DONE, regardless of
// whether it gets forwarded: decrement m_ignore_replies, and once it
// reaches zero clear m_changing_user and flush stored_query in original
// order (§4.4, §8's COM_CHANGE_USER property).
func (c *Connection) settleCompletedReply() error {
	if c.ignoreReplies == 0 {
		return nil
	}
	c.ignoreReplies--
	if c.ignoreReplies > 0 {
		return nil
	}
	c.changingUser = false
	return c.flushStoredQuery()
}

func (c *Connection) flushStoredQuery() error {
	queued := c.storedQuery
	c.storedQuery = nil
	for _, cmd := range queued {
		if err := c.Dispatch(cmd); err != nil {
			return err
		}
	}
	return nil
}

// HandleFatal implements §7's propagation policy for a fatal
// ProtocolError: it synthesizes a lost-connection ERR packet and
// reports a PERMANENT failure upstream (unless the error kind is
// already a mid-session ReplyError, which is not fatal).
func (c *Connection) HandleFatal(err *ProtocolError) (recovered bool) {
	if !err.Kind.Fatal() {
		return true
	}
	if c.adapter == nil {
		return false
	}
	pkt := lostConnectionPacket(0)
	return c.adapter.HandleError(upstream.Permanent, pkt, c.Reply())
}
