package protocol

import "errors"

// Sentinel errors for wire-level decode failures. Callers match these
// with errors.Is to decide whether to drop a datagram or tear down a
// session.
var (
	// ErrMalformedPacket indicates a packet too short or structurally
	// invalid for its opcode.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrChecksumMismatch indicates a CRC footer that does not match the
	// packet contents.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnknownOpcode indicates an opcode outside the protocol tables.
	ErrUnknownOpcode = errors.New("unknown opcode")
)
