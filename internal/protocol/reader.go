package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PacketReader decodes little-endian fields from a packet body. Every
// failure wraps ErrMalformedPacket: a truncated field means the packet
// cannot be trusted, so decoding never substitutes defaults.
type PacketReader struct {
	r *bytes.Reader
}

// NewPacketReader creates a reader over a packet body.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{r: bytes.NewReader(data)}
}

// ReadUint8 reads a single byte.
func (p *PacketReader) ReadUint8() (uint8, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: truncated uint8", ErrMalformedPacket)
	}
	return b, nil
}

// ReadUint16 reads a little-endian uint16.
func (p *PacketReader) ReadUint16() (uint16, error) {
	var v uint16
	if err := binary.Read(p.r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: truncated uint16", ErrMalformedPacket)
	}
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (p *PacketReader) ReadUint32() (uint32, error) {
	var v uint32
	if err := binary.Read(p.r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: truncated uint32", ErrMalformedPacket)
	}
	return v, nil
}

// ReadUint64 reads a little-endian uint64.
func (p *PacketReader) ReadUint64() (uint64, error) {
	var v uint64
	if err := binary.Read(p.r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: truncated uint64", ErrMalformedPacket)
	}
	return v, nil
}

// ReadString reads a string with a 2-byte little-endian length prefix.
// Lengths above MaxStringLength are rejected as corruption.
func (p *PacketReader) ReadString() (string, error) {
	length, err := p.ReadUint16()
	if err != nil {
		return "", fmt.Errorf("%w: truncated string length", ErrMalformedPacket)
	}

	if length > MaxStringLength {
		return "", fmt.Errorf("%w: string length %d exceeds bound %d",
			ErrMalformedPacket, length, MaxStringLength)
	}

	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated string body (%d bytes)", ErrMalformedPacket, length)
	}
	return string(buf), nil
}

// ReadBytes reads exactly n bytes.
func (p *PacketReader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated field (%d bytes)", ErrMalformedPacket, n)
	}
	return buf, nil
}

// ReadRemaining returns all unread bytes.
func (p *PacketReader) ReadRemaining() []byte {
	buf := make([]byte, p.r.Len())
	io.ReadFull(p.r, buf)
	return buf
}

// Remaining returns the number of unread bytes.
func (p *PacketReader) Remaining() int {
	return p.r.Len()
}

// SplitOpcode separates the leading 2-byte opcode from the packet body.
func SplitOpcode(data []byte) (Opcode, []byte, error) {
	if len(data) < OpcodeSize {
		return 0, nil, fmt.Errorf("%w: packet shorter than opcode", ErrMalformedPacket)
	}
	op := Opcode(binary.LittleEndian.Uint16(data[:OpcodeSize]))
	return op, data[OpcodeSize:], nil
}

// SplitSequence separates the leading 2-byte sequence number from a
// data, fragment, ack or out-of-order packet body.
func SplitSequence(body []byte) (uint16, []byte, error) {
	if len(body) < SequenceSize {
		return 0, nil, fmt.Errorf("%w: packet shorter than sequence", ErrMalformedPacket)
	}
	seq := binary.LittleEndian.Uint16(body[:SequenceSize])
	return seq, body[SequenceSize:], nil
}
