// Package protocol implements the wire-level pieces of the MariaDB/MySQL
// client/server protocol (version 10) that every other package in this
// module builds on: packet framing, length-encoded integers and strings,
// and the shared constant tables for commands, capabilities, and status
// flags.
package protocol

// Command bytes, first byte of a client-issued command packet.
const (
	ComSleep            = 0x00
	ComQuit             = 0x01
	ComInitDB           = 0x02
	ComQuery            = 0x03
	ComFieldList        = 0x04
	ComCreateDB         = 0x05
	ComDropDB           = 0x06
	ComRefresh          = 0x07
	ComShutdown         = 0x08
	ComStatistics       = 0x09
	ComProcessInfo      = 0x0a
	ComConnect          = 0x0b
	ComProcessKill      = 0x0c
	ComDebug            = 0x0d
	ComPing             = 0x0e
	ComTime             = 0x0f
	ComDelayedInsert    = 0x10
	ComChangeUser       = 0x11
	ComBinlogDump       = 0x12
	ComTableDump        = 0x13
	ComConnectOut       = 0x14
	ComRegisterSlave    = 0x15
	ComStmtPrepare      = 0x16
	ComStmtExecute      = 0x17
	ComStmtSendLongData = 0x18
	ComStmtClose        = 0x19
	ComStmtReset        = 0x1a
	ComSetOption        = 0x1b
	ComStmtFetch        = 0x1c
	ComDaemon           = 0x1d
	ComResetConnection  = 0x1f
)

// Header bytes identifying a server reply packet's kind. EOF and the
// length-encoded-int sentinel 0xfe collide; reply.ClassifyFirstPacket
// and the reply tracker read a leading 0xfe as EOF without checking the
// packet length.
const (
	HeaderOK          = 0x00
	HeaderEOF         = 0xfe
	HeaderErr         = 0xff
	HeaderLocalInfile = 0xfb
)

// Client/server capability flags (CLIENT_* in the MySQL/MariaDB manual).
const (
	CapLongPassword               = 0x00000001
	CapFoundRows                  = 0x00000002
	CapLongFlag                   = 0x00000004
	CapConnectWithDB              = 0x00000008
	CapNoSchema                   = 0x00000010
	CapCompress                   = 0x00000020
	CapODBC                       = 0x00000040
	CapLocalFiles                 = 0x00000080
	CapIgnoreSpace                = 0x00000100
	CapProtocol41                 = 0x00000200
	CapInteractive                = 0x00000400
	CapSSL                        = 0x00000800
	CapIgnoreSigpipe              = 0x00001000
	CapTransactions               = 0x00002000
	CapReserved                   = 0x00004000
	CapSecureConnection           = 0x00008000
	CapMultiStatements            = 0x00010000
	CapMultiResults                = 0x00020000
	CapPSMultiResults             = 0x00040000
	CapPluginAuth                 = 0x00080000
	CapConnectAttrs               = 0x00100000
	CapPluginAuthLenencClientData = 0x00200000
	CapCanHandleExpiredPasswords  = 0x00400000
	CapSessionTrack               = 0x00800000
	CapDeprecateEOF               = 0x01000000

	// CapDefaultClient is the capability set this module requests when
	// negotiating with a backend server: CLIENT_SSL is added dynamically
	// only when the backend is configured for TLS (see auth.Driver).
	CapDefaultClient = CapLongPassword | CapFoundRows | CapLongFlag |
		CapConnectWithDB | CapProtocol41 | CapTransactions |
		CapSecureConnection | CapMultiStatements | CapMultiResults |
		CapPSMultiResults | CapPluginAuth | CapConnectAttrs |
		CapPluginAuthLenencClientData | CapSessionTrack
)

// Server status flags (SERVER_STATUS_* / SERVER_* in the manual).
const (
	StatusInTrans            = 0x0001
	StatusAutocommit         = 0x0002
	StatusMoreResultsExist   = 0x0008
	StatusNoGoodIndexUsed    = 0x0010
	StatusNoIndexUsed        = 0x0020
	StatusCursorExists       = 0x0040
	StatusLastRowSent        = 0x0080
	StatusDBDropped          = 0x0100
	StatusNoBackslashEscapes = 0x0200
	StatusMetadataChanged    = 0x0400
	StatusQueryWasSlow       = 0x0800
	StatusPSOutParams        = 0x1000
	StatusInTransReadonly    = 0x2000
	StatusSessionStateChange = 0x4000
)

// Session-tracking entity types carried in an OK packet's state-info
// block when CapSessionTrack was negotiated and the state-changed bit is
// set. Values per the MariaDB/MySQL manual's SESSION_TRACK_* constants.
const (
	SessionTrackSystemVariables = 0x00
	SessionTrackSchema          = 0x01
	SessionTrackStateChange     = 0x02
	SessionTrackGTIDs           = 0x03
	SessionTrackTransactionCharacteristics = 0x04
	SessionTrackTransactionState           = 0x05
)

// MaxPayloadLen is the largest payload a single physical packet may
// carry (2^24 - 1). A payload of exactly this length signals that the
// logical packet continues in the next physical packet.
const MaxPayloadLen = 1<<24 - 1

// ErrHostIsBlocked is the MySQL/MariaDB error code returned when a host
// has been blocked after too many connection errors (see auth policy).
const ErrHostIsBlocked = 1129

// ErrLostConnection is the generic code synthesized by do_handle_error
// style propagation when a fatal error tears down the connection.
const ErrLostConnection = 2003
