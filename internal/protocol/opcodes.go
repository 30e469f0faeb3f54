// Package protocol implements the SOE wire codec used between GalaxyGate
// and game clients. All packets begin with a 2-byte opcode and use
// little-endian byte order throughout; every packet after the session
// handshake carries a 2-byte CRC footer.
package protocol

// Opcode identifies an SOE packet type.
type Opcode uint16

const (
	// Session control
	OpSessionRequest  Opcode = 0x01 // Client hello with connection ID and UDP size
	OpSessionResponse Opcode = 0x02 // Server reply with CRC seed and packet size
	OpMultiPacket     Opcode = 0x03 // Several sub-packets coalesced into one datagram
	OpDisconnect      Opcode = 0x05 // Session teardown with reason code
	OpPing            Opcode = 0x06 // Keepalive probe, echoed verbatim
	OpNetStatusReq    Opcode = 0x07 // Client-side traffic counters
	OpNetStatusResp   Opcode = 0x08 // Server echo with its own counters

	// Reliable data, one opcode per channel
	OpDataA Opcode = 0x09
	OpDataB Opcode = 0x0A
	OpDataC Opcode = 0x0B
	OpDataD Opcode = 0x0C

	// Fragmented reliable data
	OpFragmentA Opcode = 0x0D
	OpFragmentB Opcode = 0x0E
	OpFragmentC Opcode = 0x0F
	OpFragmentD Opcode = 0x10

	// Acknowledgements
	OpAckA Opcode = 0x11
	OpAckB Opcode = 0x12
	OpAckC Opcode = 0x13
	OpAckD Opcode = 0x14

	// Out-of-order reports
	OpOutOfOrderA Opcode = 0x15
	OpOutOfOrderB Opcode = 0x16
	OpOutOfOrderC Opcode = 0x17
	OpOutOfOrderD Opcode = 0x18
)

// opcodeStrings maps opcodes to their names for logging.
var opcodeStrings = map[Opcode]string{
	OpSessionRequest:  "session_request",
	OpSessionResponse: "session_response",
	OpMultiPacket:     "multi_packet",
	OpDisconnect:      "disconnect",
	OpPing:            "ping",
	OpNetStatusReq:    "net_status_request",
	OpNetStatusResp:   "net_status_response",
	OpDataA:           "data_a",
	OpDataB:           "data_b",
	OpDataC:           "data_c",
	OpDataD:           "data_d",
	OpFragmentA:       "fragment_a",
	OpFragmentB:       "fragment_b",
	OpFragmentC:       "fragment_c",
	OpFragmentD:       "fragment_d",
	OpAckA:            "ack_a",
	OpAckB:            "ack_b",
	OpAckC:            "ack_c",
	OpAckD:            "ack_d",
	OpOutOfOrderA:     "out_of_order_a",
	OpOutOfOrderB:     "out_of_order_b",
	OpOutOfOrderC:     "out_of_order_c",
	OpOutOfOrderD:     "out_of_order_d",
}

// String returns the opcode name, or "unknown" for unrecognized values.
func (op Opcode) String() string {
	if s, ok := opcodeStrings[op]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether the opcode is in the protocol tables.
func (op Opcode) Valid() bool {
	_, ok := opcodeStrings[op]
	return ok
}

// IsData reports whether op is a whole reliable data packet.
func (op Opcode) IsData() bool {
	return op >= OpDataA && op <= OpDataD
}

// IsFragment reports whether op is a reliable data fragment.
func (op Opcode) IsFragment() bool {
	return op >= OpFragmentA && op <= OpFragmentD
}

// IsAck reports whether op is a channel acknowledgement.
func (op Opcode) IsAck() bool {
	return op >= OpAckA && op <= OpAckD
}

// IsOutOfOrder reports whether op is an out-of-order report.
func (op Opcode) IsOutOfOrder() bool {
	return op >= OpOutOfOrderA && op <= OpOutOfOrderD
}

// HasSequence reports whether the packet body begins with a 2-byte sequence number.
func (op Opcode) HasSequence() bool {
	return op >= OpDataA && op <= OpOutOfOrderD
}

// Checksummed reports whether packets of this type carry a CRC footer.
// Only the session handshake travels unprotected, since the CRC seed is
// not agreed until the handshake completes.
func (op Opcode) Checksummed() bool {
	return op != OpSessionRequest && op != OpSessionResponse
}

// Channel returns the reliable channel an opcode belongs to.
// Valid only for data, fragment, ack and out-of-order opcodes.
func (op Opcode) Channel() Channel {
	switch {
	case op.IsData():
		return Channel(op - OpDataA)
	case op.IsFragment():
		return Channel(op - OpFragmentA)
	case op.IsAck():
		return Channel(op - OpAckA)
	case op.IsOutOfOrder():
		return Channel(op - OpOutOfOrderA)
	default:
		return ChannelA
	}
}

// Channel identifies one of the four independent reliable data channels.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
	ChannelC
	ChannelD
)

// ChannelCount is the number of reliable channels per session.
const ChannelCount = 4

// String returns the channel letter.
func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	case ChannelC:
		return "C"
	case ChannelD:
		return "D"
	default:
		return "?"
	}
}

// DataOpcode returns the whole-data opcode for a channel.
func (c Channel) DataOpcode() Opcode { return OpDataA + Opcode(c) }

// FragmentOpcode returns the fragment opcode for a channel.
func (c Channel) FragmentOpcode() Opcode { return OpFragmentA + Opcode(c) }

// AckOpcode returns the acknowledgement opcode for a channel.
func (c Channel) AckOpcode() Opcode { return OpAckA + Opcode(c) }

// OutOfOrderOpcode returns the out-of-order report opcode for a channel.
func (c Channel) OutOfOrderOpcode() Opcode { return OpOutOfOrderA + Opcode(c) }

// Wire layout sizes in bytes.
const (
	OpcodeSize   = 2
	SequenceSize = 2
	CRCSize      = 2
)

// DefaultCRCSeed is the checksum seed offered to clients at session setup.
const DefaultCRCSeed uint32 = 0xDEAD

// DefaultMaxPacketSize is the negotiated datagram ceiling when the
// client does not request a smaller one.
const DefaultMaxPacketSize = 496

// MaxStringLength bounds length-prefixed strings as a corruption guard.
const MaxStringLength = 1000

// DisconnectReason codes carried in disconnect packets.
type DisconnectReason uint16

const (
	DisconnectReasonNone        DisconnectReason = 0
	DisconnectReasonICMPError   DisconnectReason = 1
	DisconnectReasonTimeout     DisconnectReason = 2
	DisconnectReasonOtherSide   DisconnectReason = 3
	DisconnectReasonApplication DisconnectReason = 6
)
