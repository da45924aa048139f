package reply

import (
	"fmt"

	"github.com/mevdschee/mxbackend/protocol"
)

// DesyncError is returned when the tracker observes a packet that has no
// legal transition from the current state (§7 ProtocolDesync). It
// carries a bounded dump of recently dispatched commands for postmortem
// logging, per §4.3's "statement dump" note.
type DesyncError struct {
	State          State
	FirstByte      byte
	RecentCommands []byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("reply: unexpected packet 0x%02x in state %s (recent commands: %v)", e.FirstByte, e.State, e.RecentCommands)
}

// Options configures a Tracker's interpretation of capability-dependent
// packet shapes.
type Options struct {
	Capabilities uint32
	TrackState   bool
}

// Tracker consumes backend packets after authentication completes and
// maintains Reply/State per §4.3. One Tracker belongs to exactly one
// BackendConnection; it holds no socket and does no I/O.
type Tracker struct {
	reply   Reply
	opts    Options
	skipNext bool

	numColdefsRemaining   uint64
	psPacketsRemaining    uint32
	openingCursor         bool

	// recentCommands is a small ring buffer of the last few dispatched
	// command bytes, used only to enrich a DesyncError.
	recentCommands    []byte
	recentCommandsCap int
}

// NewTracker constructs a Tracker. dumpSize bounds the desync postmortem
// ring buffer (0 disables it).
func NewTracker(opts Options, dumpSize int) *Tracker {
	return &Tracker{opts: opts, recentCommandsCap: dumpSize}
}

// Reply returns the current reply state. Per §3 it must only be read
// once Done() is true, or between commands.
func (t *Tracker) Reply() *Reply { return &t.reply }

// SetOpeningCursor records that the in-flight COM_STMT_EXECUTE requested
// a cursor (CURSOR_TYPE_READ_ONLY flag), which per §4.3 causes the
// column-definitions EOF to jump straight to DONE instead of RSET_ROWS.
func (t *Tracker) SetOpeningCursor(v bool) { t.openingCursor = v }

// BeginCommand clears Reply for a newly dispatched client command, per
// §3's lifecycle rule, and applies the command-specific starting state
// overrides from §4.3 (COM_FIELD_LIST starts in RSET_ROWS).
func (t *Tracker) BeginCommand(cmd byte) {
	t.reply.clear(cmd)
	t.numColdefsRemaining = 0
	t.psPacketsRemaining = 0

	if cmd == protocol.ComFieldList {
		t.reply.State = StateRows
	}

	if t.recentCommandsCap > 0 {
		t.recentCommands = append(t.recentCommands, cmd)
		if len(t.recentCommands) > t.recentCommandsCap {
			t.recentCommands = t.recentCommands[len(t.recentCommands)-t.recentCommandsCap:]
		}
	}
}

// Consume processes one complete packet from the backend. payloadLen is the
// packet's declared payload length (used for the large-packet rule);
// payload is the packet's bytes.
//
// Entry algorithm per §4.3: the skip-next flag is always refreshed
// before dispatch, so a large packet's continuation body never gets
// misclassified as a header.
func (t *Tracker) Consume(payloadLen uint32, payload []byte) error {
	wasSkip := t.skipNext
	t.skipNext = payloadLen == protocol.MaxPayloadLen
	if wasSkip {
		return nil
	}
	if len(payload) == 0 {
		return &DesyncError{State: t.reply.State, RecentCommands: t.recentCommandsSnapshot()}
	}
	return t.dispatch(payload)
}

func (t *Tracker) recentCommandsSnapshot() []byte {
	return append([]byte{}, t.recentCommands...)
}

func (t *Tracker) desync(payload []byte) error {
	return &DesyncError{State: t.reply.State, FirstByte: payload[0], RecentCommands: t.recentCommandsSnapshot()}
}

func (t *Tracker) dispatch(payload []byte) error {
	// COM_BINLOG_DUMP never completes: every packet is a forwarded row
	// and no state transition happens (§4.3 command-specific override).
	if t.reply.Command == protocol.ComBinlogDump {
		t.reply.ByteCount += uint64(len(payload))
		return nil
	}
	// COM_STATISTICS returns exactly one string payload and completes
	// on the first packet (in START), whatever its first byte.
	if t.reply.Command == protocol.ComStatistics && t.reply.State == StateStart {
		t.reply.State = StateDone
		return nil
	}

	switch t.reply.State {
	case StateStart:
		return t.dispatchStart(payload)
	case StateColdef:
		return t.dispatchColdef(payload)
	case StateColdefEOF:
		return t.dispatchColdefEOF(payload)
	case StateRows:
		return t.dispatchRows(payload)
	case StatePrepare:
		return t.dispatchPrepare(payload)
	case StateDone:
		return t.dispatchDone(payload)
	default:
		return t.desync(payload)
	}
}

func (t *Tracker) dispatchStart(payload []byte) error {
	switch ClassifyFirstPacket(payload) {
	case KindOK:
		if t.reply.Command == protocol.ComStmtPrepare {
			return t.parsePrepareOK(payload)
		}
		parseOKPacket(&t.reply, payload, t.opts.Capabilities, t.opts.TrackState)
		if t.reply.StatusFlags&protocol.StatusMoreResultsExist != 0 {
			t.reply.State = StateStart
		} else {
			t.reply.State = StateDone
		}
		return nil
	case KindLocalInfile:
		t.reply.State = StateDone
		return nil
	case KindErr:
		t.reply.Error = parseErrPacket(payload)
		t.reply.State = StateDone
		return nil
	case KindEOF:
		// Only legal mid-COM_CHANGE_USER; the change-user driver
		// consumes that exchange itself before packets reach here, so
		// this is a benign no-op rather than a desync.
		return nil
	default: // KindResultSet
		fieldCount, _, n := protocol.ReadLengthEncodedInt(payload)
		if n == 0 {
			return t.desync(payload)
		}
		t.reply.FieldCount = fieldCount
		t.numColdefsRemaining = fieldCount
		if fieldCount == 0 {
			t.reply.State = StateDone
			return nil
		}
		t.reply.State = StateColdef
		return nil
	}
}

func (t *Tracker) parsePrepareOK(payload []byte) error {
	if len(payload) < 12 {
		return t.desync(payload)
	}
	stmtID := uint32(payload[1]) | uint32(payload[2])<<8 | uint32(payload[3])<<16 | uint32(payload[4])<<24
	numColumns := uint16(payload[5]) | uint16(payload[6])<<8
	numParams := uint16(payload[7]) | uint16(payload[8])<<8
	// payload[9] filler, payload[10:12] warning count.

	t.reply.GeneratedID = stmtID
	t.reply.ParamCount = numParams
	t.reply.IsOK = true

	remaining := uint32(numColumns) + uint32(numParams)
	if numColumns > 0 {
		remaining++ // trailing EOF for columns
	}
	if numParams > 0 {
		remaining++ // trailing EOF for params
	}
	t.psPacketsRemaining = remaining

	if remaining == 0 {
		t.reply.State = StateDone
	} else {
		t.reply.State = StatePrepare
	}
	return nil
}

func (t *Tracker) dispatchColdef(payload []byte) error {
	if t.numColdefsRemaining == 0 {
		return t.desync(payload)
	}
	t.numColdefsRemaining--
	if t.numColdefsRemaining == 0 {
		if t.opts.Capabilities&protocol.CapDeprecateEOF != 0 {
			t.reply.State = StateRows
		} else {
			t.reply.State = StateColdefEOF
		}
	}
	return nil
}

func (t *Tracker) dispatchColdefEOF(payload []byte) error {
	if payload[0] != protocol.HeaderEOF {
		return t.desync(payload)
	}
	if t.openingCursor {
		t.openingCursor = false
		t.reply.State = StateDone
		return nil
	}
	t.reply.State = StateRows
	return nil
}

func (t *Tracker) dispatchRows(payload []byte) error {
	switch payload[0] {
	case protocol.HeaderEOF:
		if len(payload) < 5 {
			t.reply.State = StateDone
			return nil
		}
		t.reply.Warnings = uint16(payload[1]) | uint16(payload[2])<<8
		status := uint16(payload[3]) | uint16(payload[4])<<8
		t.reply.StatusFlags = status
		if status&protocol.StatusMoreResultsExist != 0 {
			t.reply.State = StateStart
		} else {
			t.reply.State = StateDone
		}
		return nil
	case protocol.HeaderErr:
		t.reply.Error = parseErrPacket(payload)
		t.reply.State = StateDone
		return nil
	default:
		// DEPRECATE_EOF result sets end with an OK packet carrying
		// SERVER_MORE_RESULTS_EXISTS instead of a terminating EOF.
		if t.opts.Capabilities&protocol.CapDeprecateEOF != 0 && payload[0] == protocol.HeaderOK {
			parseOKPacket(&t.reply, payload, t.opts.Capabilities, t.opts.TrackState)
			if t.reply.StatusFlags&protocol.StatusMoreResultsExist != 0 {
				t.reply.State = StateStart
			} else {
				t.reply.State = StateDone
			}
			return nil
		}
		t.reply.RowCount++
		t.reply.ByteCount += uint64(len(payload))
		return nil
	}
}

func (t *Tracker) dispatchPrepare(payload []byte) error {
	t.reply.ByteCount += uint64(len(payload))
	if t.psPacketsRemaining == 0 {
		return t.desync(payload)
	}
	t.psPacketsRemaining--
	if t.psPacketsRemaining == 0 {
		t.reply.State = StateDone
	}
	return nil
}

func (t *Tracker) dispatchDone(payload []byte) error {
	if payload[0] == protocol.HeaderErr {
		t.reply.Error = parseErrPacket(payload)
		return nil
	}
	return t.desync(payload)
}
