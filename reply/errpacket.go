package reply

// parseErrPacket extracts the (code, sql_state, message) triple from an
// ERR payload per §4.3: `u16 code`, `'#'`, `[5] sql_state`,
// `[...] message`.
func parseErrPacket(payload []byte) *ErrorDescriptor {
	if len(payload) < 3 {
		return &ErrorDescriptor{Message: "malformed error packet"}
	}
	code := uint16(payload[1]) | uint16(payload[2])<<8
	pos := 3
	sqlState := ""
	if len(payload) >= pos+6 && payload[pos] == '#' {
		sqlState = string(payload[pos+1 : pos+6])
		pos += 6
	}
	message := string(payload[pos:])
	return &ErrorDescriptor{Code: code, SQLState: sqlState, Message: message}
}
