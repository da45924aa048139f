package reply

import (
	"log"

	"github.com/mevdschee/mxbackend/protocol"
)

// parseOKPacket implements the algorithm in §4.3: affected rows, last
// insert id, status flags, warnings, and (when session tracking is
// negotiated and the state-changed bit is set) the state-info block of
// tracked session variables.
func parseOKPacket(r *Reply, payload []byte, capabilities uint32, trackState bool) {
	pos := 1 // skip the 0x00 header byte
	affectedRows, _, n := protocol.ReadLengthEncodedInt(payload[pos:])
	pos += n
	lastInsertID, _, n := protocol.ReadLengthEncodedInt(payload[pos:])
	pos += n

	r.AffectedRows = affectedRows
	r.LastInsertID = lastInsertID
	r.IsOK = true

	if len(payload) < pos+4 {
		return
	}
	status := uint16(payload[pos]) | uint16(payload[pos+1])<<8
	pos += 2
	warnings := uint16(payload[pos]) | uint16(payload[pos+1])<<8
	pos += 2

	r.StatusFlags = status
	r.Warnings = warnings

	if capabilities&protocol.CapSessionTrack == 0 {
		return
	}
	if status&protocol.StatusSessionStateChange == 0 {
		return
	}
	if !trackState {
		return
	}
	if pos >= len(payload) {
		return
	}

	// info (lestr), then total_size_of_state_info (leint), then entities.
	_, n, ok := protocol.ReadLengthEncodedString(payload[pos:])
	if !ok {
		return
	}
	pos += n

	total, _, n := protocol.ReadLengthEncodedInt(payload[pos:])
	pos += n
	end := pos + int(total)
	if end > len(payload) {
		end = len(payload)
	}

	if r.SessionVars == nil {
		r.SessionVars = make(map[string]string)
	}

	for pos < end {
		typ := payload[pos]
		pos++
		entityLen, _, n := protocol.ReadLengthEncodedInt(payload[pos:])
		pos += n
		entEnd := pos + int(entityLen)
		if entEnd > len(payload) {
			break
		}
		entity := payload[pos:entEnd]

		switch typ {
		case protocol.SessionTrackStateChange:
			// Opaque; skip.
		case protocol.SessionTrackSchema:
			// Skip the leint-prefixed schema name.
		case protocol.SessionTrackGTIDs:
			// entity is: 1-byte encoding, then lestr gtid.
			if len(entity) > 0 {
				gtid, _, ok := protocol.ReadLengthEncodedString(entity[1:])
				if ok {
					r.SessionVars[SessionVarLastGTID] = string(gtid)
				}
			}
		case protocol.SessionTrackTransactionCharacteristics:
			s, _, ok := protocol.ReadLengthEncodedString(entity)
			if ok {
				r.SessionVars[SessionVarTrxCharacteristics] = string(s)
			}
		case protocol.SessionTrackSystemVariables:
			name, n, ok := protocol.ReadLengthEncodedString(entity)
			if ok {
				value, _, ok2 := protocol.ReadLengthEncodedString(entity[n:])
				if ok2 {
					r.SessionVars[string(name)] = string(value)
				}
			}
		case protocol.SessionTrackTransactionState:
			s, _, ok := protocol.ReadLengthEncodedString(entity)
			if ok {
				r.TrxState = parseTrxStateString(string(s))
				r.TrxStateSet = true
			}
		default:
			log.Printf("[reply] unknown session-track entity type 0x%02x, skipping %d bytes", typ, entityLen)
		}

		pos = entEnd
	}
}

// parseTrxStateString decodes the 8-character transaction-state string
// of a TRX_STATE entry into a TrxState bitmask, one bit per place per
// §4.3: explicit/implicit trx, {non-,}transactional read/write, unsafe
// statement, result-set present, LOCK TABLES active.
//
// Character positions follow the MariaDB manual's transaction state
// string: T (explicit trx), t (implicit trx), r (read unsafe),
// R (read trx), w (write unsafe), W (write trx), s (result set), L
// (locked tables). A '_' at a position means that bit is not set.
func parseTrxStateString(s string) TrxState {
	var st TrxState
	for _, c := range s {
		switch c {
		case 'T':
			st |= TrxExplicit
		case 't':
			st |= TrxImplicit
		case 'r':
			st |= TrxReadUnsafe
		case 'R':
			st |= TrxReadTrx
		case 'w':
			st |= TrxWriteUnsafe
		case 'W':
			st |= TrxWriteTrx
		case 's':
			st |= TrxResultSet
		case 'L':
			st |= TrxLocked
		}
	}
	return st
}
