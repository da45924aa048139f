package reply

import (
	"testing"

	"github.com/mevdschee/mxbackend/protocol"
)

func lenc(n uint64) []byte {
	return protocol.PutLengthEncodedInt(nil, n)
}

func eofPacket(warnings, status uint16) []byte {
	return []byte{protocol.HeaderEOF, byte(warnings), byte(warnings >> 8), byte(status), byte(status >> 8)}
}

// Scenario 1: Simple SELECT.
func TestTracker_SimpleSelect(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)

	seq := [][]byte{
		lenc(1),                          // field count = 1
		{0x03, 'd', 'e', 'f', 0, 0, 0},    // coldef (opaque payload, just needs to exist)
		eofPacket(0, 0),                  // EOF after coldefs
		{0x01, '1'},                      // one row, value "1"
		eofPacket(0, 0),                  // terminating EOF, no more results
	}
	for i, pkt := range seq {
		if err := tr.Consume(uint32(len(pkt)), pkt); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}

	r := tr.Reply()
	if r.Command != protocol.ComQuery {
		t.Errorf("command = %#x, want COM_QUERY", r.Command)
	}
	if r.FieldCount != 1 {
		t.Errorf("field count = %d, want 1", r.FieldCount)
	}
	if r.RowCount != 1 {
		t.Errorf("row count = %d, want 1", r.RowCount)
	}
	if r.State != StateDone {
		t.Errorf("state = %s, want DONE", r.State)
	}
	if r.Error != nil {
		t.Errorf("unexpected error: %+v", r.Error)
	}
}

// Scenario 2: Multi-statement (two result sets, SERVER_MORE_RESULTS_EXIST
// between them).
func TestTracker_MultiStatement(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)

	seq := [][]byte{
		lenc(1),
		{0x03, 'd', 'e', 'f'},
		eofPacket(0, 0),
		{0x01, '1'},
		eofPacket(0, protocol.StatusMoreResultsExist),
		lenc(1),
		{0x03, 'd', 'e', 'f'},
		eofPacket(0, 0),
		{0x01, '2'},
		eofPacket(0, 0),
	}
	wantStates := []State{
		StateColdef, StateColdefEOF, StateRows, StateRows, StateStart,
		StateColdef, StateColdefEOF, StateRows, StateRows, StateDone,
	}
	for i, pkt := range seq {
		if err := tr.Consume(uint32(len(pkt)), pkt); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if tr.Reply().State != wantStates[i] {
			t.Fatalf("packet %d: state = %s, want %s", i, tr.Reply().State, wantStates[i])
		}
	}

	if tr.Reply().RowCount != 2 {
		t.Errorf("row count = %d, want 2 (cumulative across result sets)", tr.Reply().RowCount)
	}
}

// Scenario 3: Prepared statement, stmt_id=42, 1 column, 1 param.
func TestTracker_PreparedStatement(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComStmtPrepare)

	ok := []byte{
		protocol.HeaderOK,
		42, 0, 0, 0, // stmt id
		1, 0, // num columns
		1, 0, // num params
		0,    // filler
		0, 0, // warning count
	}
	if err := tr.Consume(uint32(len(ok)), ok); err != nil {
		t.Fatalf("OK packet: %v", err)
	}
	if tr.Reply().State != StatePrepare {
		t.Fatalf("state = %s, want PREPARE", tr.Reply().State)
	}

	// 1 param definition + 1 EOF (params) + 1 column definition + 1 EOF (columns) = 4 more packets.
	rest := [][]byte{
		{0x01, 'p'},
		eofPacket(0, 0),
		{0x01, 'c'},
		eofPacket(0, 0),
	}
	for i, pkt := range rest {
		if err := tr.Consume(uint32(len(pkt)), pkt); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}

	r := tr.Reply()
	if r.GeneratedID != 42 {
		t.Errorf("generated id = %d, want 42", r.GeneratedID)
	}
	if r.ParamCount != 1 {
		t.Errorf("param count = %d, want 1", r.ParamCount)
	}
	if r.State != StateDone {
		t.Errorf("state = %s, want DONE", r.State)
	}
}

func TestTracker_PreparedStatement_NoColumnsNoParams(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComStmtPrepare)

	ok := []byte{protocol.HeaderOK, 7, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if err := tr.Consume(uint32(len(ok)), ok); err != nil {
		t.Fatalf("OK packet: %v", err)
	}
	if tr.Reply().State != StateDone {
		t.Fatalf("state = %s, want DONE immediately", tr.Reply().State)
	}
}

// Scenario 6: a 16,777,215-byte row followed by a continuation.
func TestTracker_LargeRow_SkipsContinuation(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)

	// Get into RSET_ROWS directly for this test.
	_ = tr.Consume(1, lenc(1))
	_ = tr.Consume(4, []byte{0x03, 'd', 'e', 'f'})
	_ = tr.Consume(5, eofPacket(0, 0))
	if tr.Reply().State != StateRows {
		t.Fatalf("precondition: state = %s, want RSET_ROWS", tr.Reply().State)
	}

	bigRow := make([]byte, protocol.MaxPayloadLen)
	if err := tr.Consume(protocol.MaxPayloadLen, bigRow); err != nil {
		t.Fatalf("large row: %v", err)
	}
	if tr.Reply().RowCount != 1 {
		t.Fatalf("row count = %d, want 1", tr.Reply().RowCount)
	}

	continuation := []byte{0xde, 0xad, 0xbe, 0xef, 0xff}
	if err := tr.Consume(uint32(len(continuation)), continuation); err != nil {
		t.Fatalf("continuation: %v", err)
	}
	// The continuation must not be classified: row count stays 1.
	if tr.Reply().RowCount != 1 {
		t.Fatalf("row count after continuation = %d, want still 1", tr.Reply().RowCount)
	}

	// Next real packet classifies normally.
	if err := tr.Consume(uint32(len(eofPacket(0, 0))), eofPacket(0, 0)); err != nil {
		t.Fatalf("terminating EOF: %v", err)
	}
	if tr.Reply().State != StateDone {
		t.Fatalf("state = %s, want DONE", tr.Reply().State)
	}
}

func TestTracker_ErrorAtStart(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)

	errPkt := append([]byte{protocol.HeaderErr, 0x84, 0x04, '#'}, []byte("42S0242S02Table doesn't exist")...)
	if err := tr.Consume(uint32(len(errPkt)), errPkt); err != nil {
		t.Fatalf("unexpected desync: %v", err)
	}
	if tr.Reply().State != StateDone {
		t.Fatalf("state = %s, want DONE", tr.Reply().State)
	}
	if tr.Reply().Error == nil {
		t.Fatal("expected an error descriptor")
	}
}

func TestTracker_DoneStateDesyncOnNonErr(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)
	_ = tr.Consume(1, lenc(0)) // a lone 0x00 classifies as an OK packet -> DONE
	if tr.Reply().State != StateDone {
		t.Fatalf("precondition: state = %s, want DONE", tr.Reply().State)
	}

	err := tr.Consume(1, []byte{0x01})
	if err == nil {
		t.Fatal("expected desync error for unexpected packet in DONE")
	}
	var desync *DesyncError
	if !asDesync(err, &desync) {
		t.Fatalf("expected *DesyncError, got %T", err)
	}
}

func TestTracker_LateErrInDoneIsTolerated(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)
	_ = tr.Consume(1, lenc(0))
	if tr.Reply().State != StateDone {
		t.Fatalf("precondition failed")
	}

	errPkt := append([]byte{protocol.HeaderErr, 0x01, 0x00, '#'}, []byte("HY000late error")...)
	if err := tr.Consume(uint32(len(errPkt)), errPkt); err != nil {
		t.Fatalf("late ERR in DONE should be tolerated: %v", err)
	}
	if tr.Reply().State != StateDone {
		t.Fatalf("state should remain DONE")
	}
	if tr.Reply().Error == nil {
		t.Fatal("expected error to be recorded")
	}
}

func TestTracker_ComFieldList_StartsInRows(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComFieldList)
	if tr.Reply().State != StateRows {
		t.Fatalf("state = %s, want RSET_ROWS immediately", tr.Reply().State)
	}
}

func TestTracker_ComStatistics_OnePacketDone(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComStatistics)
	if err := tr.Consume(10, []byte("Uptime: 1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Reply().State != StateDone {
		t.Fatalf("state = %s, want DONE", tr.Reply().State)
	}
}

func TestTracker_ComBinlogDump_NeverCompletes(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComBinlogDump)
	for i := 0; i < 5; i++ {
		if err := tr.Consume(4, []byte{0, 1, 2, 3}); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if tr.Reply().State != StateStart {
			t.Fatalf("row %d: state = %s, want START (never completes)", i, tr.Reply().State)
		}
	}
}

func TestTracker_CursorOpen_JumpsToDoneAfterColdefEOF(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComStmtExecute)
	tr.SetOpeningCursor(true)

	_ = tr.Consume(1, lenc(1))
	if tr.Reply().State != StateColdef {
		t.Fatalf("state = %s, want RSET_COLDEF", tr.Reply().State)
	}
	_ = tr.Consume(4, []byte{0x03, 'd', 'e', 'f'})
	if tr.Reply().State != StateColdefEOF {
		t.Fatalf("state = %s, want RSET_COLDEF_EOF", tr.Reply().State)
	}
	if err := tr.Consume(5, eofPacket(0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Reply().State != StateDone {
		t.Fatalf("state = %s, want DONE (cursor open skips row phase)", tr.Reply().State)
	}
}

// RowCountMonotone is the property from §8: row_count is monotone
// non-decreasing within one reply.
func TestTracker_RowCountMonotoneWithinReply(t *testing.T) {
	tr := NewTracker(Options{}, 8)
	tr.BeginCommand(protocol.ComQuery)
	_ = tr.Consume(1, lenc(1))
	_ = tr.Consume(4, []byte{0x03, 'd', 'e', 'f'})
	_ = tr.Consume(5, eofPacket(0, 0))

	last := tr.Reply().RowCount
	for i := 0; i < 10; i++ {
		_ = tr.Consume(1, []byte{byte(i)})
		if tr.Reply().RowCount < last {
			t.Fatalf("row count decreased: %d -> %d", last, tr.Reply().RowCount)
		}
		last = tr.Reply().RowCount
	}
}

func asDesync(err error, out **DesyncError) bool {
	d, ok := err.(*DesyncError)
	if ok {
		*out = d
	}
	return ok
}
