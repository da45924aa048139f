package reply

import "github.com/mevdschee/mxbackend/protocol"

// Kind is a first-packet classification, mirroring MaxScale's
// mxs_mysql_is_result_set helper. Tracker.dispatchStart uses it for the
// START-state dispatch; it is exported so other components can classify
// a packet without depending on tracker-internal state.
type Kind int

const (
	KindOK Kind = iota
	KindErr
	KindLocalInfile
	KindEOF
	KindResultSet
)

// ClassifyFirstPacket identifies the shape of a START-state reply
// packet without mutating any tracker state.
func ClassifyFirstPacket(payload []byte) Kind {
	if len(payload) == 0 {
		return KindResultSet
	}
	switch payload[0] {
	case protocol.HeaderOK:
		return KindOK
	case protocol.HeaderErr:
		return KindErr
	case protocol.HeaderLocalInfile:
		return KindLocalInfile
	case protocol.HeaderEOF:
		return KindEOF
	default:
		return KindResultSet
	}
}
