package protocol

// Header is a parsed 4-byte MariaDB/MySQL packet header: a 3-byte
// little-endian payload length followed by a 1-byte sequence number.
type Header struct {
	Length   uint32
	Sequence byte
}

// Packet is one physical packet split out of a byte stream by Split; a
// logical packet larger than MaxPayloadLen arrives as several. Payload
// aliases the input buffer; callers must not retain it past the next
// mutation of that buffer.
type Packet struct {
	Header  Header
	Payload []byte
}

// Continues reports whether this packet's payload is exactly
// MaxPayloadLen bytes, meaning the logical payload continues in the next
// physical packet on the wire.
func (p Packet) Continues() bool {
	return p.Header.Length == MaxPayloadLen
}

// Command returns the first byte of the payload, which for a
// client-issued packet is the COM_* command byte. Callers must check
// len(Payload) > 0 first; Command panics on an empty payload since a
// command packet is never legitimately empty.
func (p Packet) Command() byte {
	return p.Payload[0]
}

// Split repeatedly parses complete 4-byte-header-prefixed packets out of
// buf, in order, returning them alongside the unconsumed remainder of
// buf. A partial header (<4 bytes) or a header whose declared payload
// isn't fully present yet stops the scan and folds the remaining bytes
// into leftover without modification.
//
// Split does not copy: every Packet.Payload is a slice into buf. Callers
// that need to retain a packet past further use of buf (e.g. appending
// more bytes to the same read buffer) must copy it out first.
//
// Split does not validate or track sequence numbers across calls; that
// is the caller's responsibility (the auth driver and reply tracker both
// intentionally ignore sequence numbers per §4.1).
func Split(buf []byte) (packets []Packet, leftover []byte) {
	pos := 0
	for {
		remaining := buf[pos:]
		if len(remaining) < 4 {
			break
		}
		length := uint32(remaining[0]) | uint32(remaining[1])<<8 | uint32(remaining[2])<<16
		seq := remaining[3]
		total := 4 + int(length)
		if len(remaining) < total {
			break
		}
		packets = append(packets, Packet{
			Header:  Header{Length: length, Sequence: seq},
			Payload: remaining[4:total],
		})
		pos += total
	}
	return packets, buf[pos:]
}

// EncodeHeader writes a 4-byte packet header for a payload of the given
// length and sequence number. Callers building a packet append this
// before the payload bytes.
func EncodeHeader(payloadLen int, seq byte) []byte {
	return []byte{
		byte(payloadLen),
		byte(payloadLen >> 8),
		byte(payloadLen >> 16),
		seq,
	}
}

// FramePacket returns a complete on-wire packet (header + payload) for a
// payload no larger than MaxPayloadLen. Payloads that must be split
// across multiple physical packets are the caller's responsibility (rare
// in this module: only oversized COM_CHANGE_USER connection-attribute
// blobs could in principle exceed the limit, and none of the packets
// this module constructs do).
func FramePacket(payload []byte, seq byte) []byte {
	out := make([]byte, 0, 4+len(payload))
	out = append(out, EncodeHeader(len(payload), seq)...)
	out = append(out, payload...)
	return out
}
