package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildMultiPacket bundles complete sub-packets into one multi-packet (0x03).
// Each sub-packet is a full unchecksummed packet; the bundle as a whole
// receives the CRC footer when sent.
// Format: [op:2] then repeated [len:2][sub-packet bytes...]
func BuildMultiPacket(packets [][]byte) []byte {
	b := NewPacket(OpMultiPacket)
	for _, p := range packets {
		b.WriteUint16(uint16(len(p)))
		b.WriteBytes(p)
	}
	return b.Build()
}

// ParseMultiPacket splits a multi-packet body into its sub-packets.
// Decoding stops at the first malformed length, but sub-packets decoded
// before the corruption are still returned alongside the error so the
// caller can process them.
func ParseMultiPacket(body []byte) ([][]byte, error) {
	var packets [][]byte
	offset := 0

	for offset < len(body) {
		if len(body)-offset < 2 {
			return packets, fmt.Errorf("%w: truncated sub-packet length at offset %d",
				ErrMalformedPacket, offset)
		}
		length := int(binary.LittleEndian.Uint16(body[offset : offset+2]))
		offset += 2

		if length < OpcodeSize {
			return packets, fmt.Errorf("%w: sub-packet length %d below opcode size",
				ErrMalformedPacket, length)
		}
		if length > len(body)-offset {
			return packets, fmt.Errorf("%w: sub-packet length %d exceeds remaining %d",
				ErrMalformedPacket, length, len(body)-offset)
		}

		sub := make([]byte, length)
		copy(sub, body[offset:offset+length])
		packets = append(packets, sub)
		offset += length
	}

	return packets, nil
}
