// Package reply implements the backend reply tracker (§4.3): a state
// machine that consumes backend packets after authentication completes
// and maintains a precise model of the current command's reply.
package reply

// State is the tracker's position within the current command's
// response. DONE is the only state in which a new command may be
// dispatched (§3 invariant).
type State int

const (
	StateStart State = iota
	StateColdef
	StateColdefEOF
	StateRows
	StatePrepare
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateColdef:
		return "RSET_COLDEF"
	case StateColdefEOF:
		return "RSET_COLDEF_EOF"
	case StateRows:
		return "RSET_ROWS"
	case StatePrepare:
		return "PREPARE"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ErrorDescriptor is the (code, sql_state, message) triple parsed out of
// an ERR packet (§4.3).
type ErrorDescriptor struct {
	Code     uint16
	SQLState string
	Message  string
}

// Well-known session-tracked variable keys (§3), populated in
// Reply.SessionVars when present in an OK packet's state-info block.
const (
	SessionVarLastGTID             = "last_gtid"
	SessionVarTrxCharacteristics   = "trx_characteristics"
)

// TrxState is the bitmask parsed from the 8-character MariaDB
// transaction-state string carried in TRX_STATE session-track entries
// (§4.3).
type TrxState uint8

const (
	TrxExplicit TrxState = 1 << iota
	TrxImplicit
	TrxReadUnsafe
	TrxReadTrx
	TrxWriteUnsafe
	TrxWriteTrx
	TrxResultSet
	TrxLocked
)

// Reply is the per-command rolling state described in §3. It is cleared
// at the first packet of each new client command (Tracker.BeginCommand)
// and is safe to read once its State is StateDone; reading mid-packet is
// a caller error this package does not guard against.
type Reply struct {
	Command byte
	State   State

	RowCount   uint64
	FieldCount uint64
	Warnings   uint16

	// GeneratedID and ParamCount are populated for COM_STMT_PREPARE
	// replies: the server-assigned statement id and parameter count.
	GeneratedID uint32
	ParamCount  uint16

	ByteCount uint64

	Error *ErrorDescriptor
	IsOK  bool

	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16

	SessionVars map[string]string
	TrxState    TrxState
	TrxStateSet bool

	// numColdefsRemaining and psPacketsRemaining are tracker-private
	// countdowns; exported via accessors only where a caller genuinely
	// needs to observe them (none do today), otherwise kept unexported
	// on Tracker instead of here to keep Reply a pure read model.
}

// Done reports whether the reply has reached a terminal, readable
// state.
func (r *Reply) Done() bool { return r.State == StateDone }

// clear resets r to the START state for a new command, per §3's
// lifecycle rule.
func (r *Reply) clear(cmd byte) {
	*r = Reply{Command: cmd, State: StateStart}
}
