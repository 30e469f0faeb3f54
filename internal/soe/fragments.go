package soe

import (
	"encoding/binary"
	"fmt"
	"time"
)

// fragmentHeaderSize is the u32 total-length prefix carried by the first
// fragment of a payload.
const fragmentHeaderSize = 4

// maxReassembledSize bounds the declared total of a fragmented payload
// as a guard against hostile length prefixes.
const maxReassembledSize = 1 << 20

// splitPayload slices an oversized payload into fragment chunks sized to
// fit the usable packet body. The first chunk begins with the total
// payload length so the receiver knows when reassembly is done.
func splitPayload(payload []byte, usable int) [][]byte {
	var chunks [][]byte

	first := make([]byte, fragmentHeaderSize, usable)
	binary.LittleEndian.PutUint32(first, uint32(len(payload)))
	n := usable - fragmentHeaderSize
	if n > len(payload) {
		n = len(payload)
	}
	first = append(first, payload[:n]...)
	chunks = append(chunks, first)

	for off := n; off < len(payload); off += usable {
		end := off + usable
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, end-off)
		copy(chunk, payload[off:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// reassemblyBuffer accumulates the chunks of one fragmented payload.
type reassemblyBuffer struct {
	start      uint16 // sequence of the first fragment
	total      int    // payload bytes expected
	received   int
	parts      [][]byte
	lastUpdate time.Time
}

// newReassemblyBuffer starts reassembly from a first fragment, which
// must carry the total-length prefix.
func newReassemblyBuffer(start uint16, chunk []byte, now time.Time) (*reassemblyBuffer, error) {
	if len(chunk) < fragmentHeaderSize {
		return nil, fmt.Errorf("%w: first fragment shorter than length prefix", ErrMalformedPacket)
	}
	total := int(binary.LittleEndian.Uint32(chunk[:fragmentHeaderSize]))
	if total == 0 || total > maxReassembledSize {
		return nil, fmt.Errorf("%w: fragment total length %d out of range", ErrMalformedPacket, total)
	}

	b := &reassemblyBuffer{start: start, total: total}
	b.add(chunk[fragmentHeaderSize:], now)
	return b, nil
}

// add appends a chunk in arrival order.
func (b *reassemblyBuffer) add(data []byte, now time.Time) {
	part := make([]byte, len(data))
	copy(part, data)
	b.parts = append(b.parts, part)
	b.received += len(part)
	b.lastUpdate = now
}

// complete reports whether every expected byte has arrived.
func (b *reassemblyBuffer) complete() bool {
	return b.received >= b.total
}

// assemble joins the chunks into the original payload. A size mismatch
// means the sender lied about the total; the payload is not delivered.
func (b *reassemblyBuffer) assemble() ([]byte, error) {
	out := make([]byte, 0, b.received)
	for _, p := range b.parts {
		out = append(out, p...)
	}
	if len(out) != b.total {
		return nil, fmt.Errorf("%w: reassembled %d bytes, expected %d",
			ErrMalformedPacket, len(out), b.total)
	}
	return out, nil
}

// stale reports whether the buffer has been idle past the timeout.
func (b *reassemblyBuffer) stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(b.lastUpdate) > timeout
}

// feedFragment routes an in-order fragment chunk into the channel's
// reassembly state and returns the whole payload once the final chunk
// lands. Partial payloads are never returned.
func (cs *channelState) feedFragment(seq uint16, chunk []byte, now time.Time) ([]byte, error) {
	// Fragments ride the ordered stream, so chunks of one payload arrive
	// consecutively; any buffer in flight is the one this chunk belongs to.
	if buf := cs.activeReassembly(); buf != nil {
		buf.add(chunk, now)
		if !buf.complete() {
			return nil, nil
		}
		delete(cs.frags, buf.start)
		return buf.assemble()
	}

	buf, err := newReassemblyBuffer(seq, chunk, now)
	if err != nil {
		return nil, err
	}
	if buf.complete() {
		return buf.assemble()
	}
	cs.frags[seq] = buf
	return nil, nil
}

// activeReassembly returns the in-flight buffer, if any.
func (cs *channelState) activeReassembly() *reassemblyBuffer {
	for _, b := range cs.frags {
		return b
	}
	return nil
}

// sweepFragments drops reassembly buffers idle past the timeout and
// returns their starting sequences for logging.
func (cs *channelState) sweepFragments(now time.Time, timeout time.Duration) []uint16 {
	var dropped []uint16
	for start, b := range cs.frags {
		if b.stale(now, timeout) {
			delete(cs.frags, start)
			dropped = append(dropped, start)
		}
	}
	return dropped
}
