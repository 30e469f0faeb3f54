package soe

import "time"

// Sequence comparisons are modulo 65536: a sequence is "before" another
// when the signed distance between them is negative. This keeps ordering
// and ack pruning correct across wraparound.

// seqLT reports whether sequence a precedes b.
func seqLT(a, b uint16) bool { return int16(a-b) < 0 }

// seqLTE reports whether sequence a equals or precedes b.
func seqLTE(a, b uint16) bool { return a == b || seqLT(a, b) }

// seqDistance returns how far seq runs ahead of next.
func seqDistance(next, seq uint16) int { return int(seq - next) }

// pendingPacket is an outbound reliable packet awaiting acknowledgement.
type pendingPacket struct {
	packet   []byte // complete unchecksummed wire packet
	sentAt   time.Time
	attempts int // retransmissions so far
}

// bufferedPacket is an inbound payload parked until the sequence gap
// before it fills.
type bufferedPacket struct {
	payload  []byte
	fragment bool
}

// inboundPacket is a sequenced payload released from the buffer.
type inboundPacket struct {
	seq      uint16
	payload  []byte
	fragment bool
}

// inboundKind classifies an arriving sequence number.
type inboundKind int

const (
	inboundNext         inboundKind = iota // the expected sequence
	inboundDuplicate                       // behind the contiguous edge, already delivered
	inboundAhead                           // within the window, buffer it
	inboundBeyondWindow                    // too far ahead, drop
)

// channelState tracks one reliable ordered sub-stream of a session.
// All access happens under the engine lock.
type channelState struct {
	// Outbound
	nextOutSeq uint16
	pending    map[uint16]*pendingPacket
	lastAcked  uint16
	acked      bool // lastAcked is meaningful only after the first ack

	// Inbound
	nextInSeq uint16
	buffered  map[uint16]bufferedPacket

	// Reassembly buffers keyed by starting sequence
	frags map[uint16]*reassemblyBuffer
}

func newChannelState() *channelState {
	return &channelState{
		pending:  make(map[uint16]*pendingPacket),
		buffered: make(map[uint16]bufferedPacket),
		frags:    make(map[uint16]*reassemblyBuffer),
	}
}

// nextSequence hands out the next outbound sequence number.
func (cs *channelState) nextSequence() uint16 {
	seq := cs.nextOutSeq
	cs.nextOutSeq++
	return seq
}

// recordPending stores an outbound packet until it is acknowledged.
func (cs *channelState) recordPending(seq uint16, packet []byte, now time.Time) {
	cs.pending[seq] = &pendingPacket{packet: packet, sentAt: now}
}

// classify decides what to do with an inbound sequence number.
func (cs *channelState) classify(seq uint16, window int) inboundKind {
	switch {
	case seq == cs.nextInSeq:
		return inboundNext
	case seqLT(seq, cs.nextInSeq):
		return inboundDuplicate
	case seqDistance(cs.nextInSeq, seq) < window:
		return inboundAhead
	default:
		return inboundBeyondWindow
	}
}

// accept advances the contiguous edge past the expected sequence.
func (cs *channelState) accept() {
	cs.nextInSeq++
}

// park buffers an ahead-of-order packet until the gap before it fills.
// The payload is copied; the caller's buffer may be reused.
func (cs *channelState) park(seq uint16, payload []byte, fragment bool) {
	owned := make([]byte, len(payload))
	copy(owned, payload)
	cs.buffered[seq] = bufferedPacket{payload: owned, fragment: fragment}
}

// drain pops consecutively buffered packets now reachable from the
// contiguous edge, advancing it past each one.
func (cs *channelState) drain() []inboundPacket {
	var out []inboundPacket
	for {
		entry, ok := cs.buffered[cs.nextInSeq]
		if !ok {
			return out
		}
		delete(cs.buffered, cs.nextInSeq)
		out = append(out, inboundPacket{
			seq:      cs.nextInSeq,
			payload:  entry.payload,
			fragment: entry.fragment,
		})
		cs.nextInSeq++
	}
}

// highestContiguous returns the newest sequence accepted in order, the
// value carried by outgoing acks. Only meaningful after at least one
// packet has been accepted.
func (cs *channelState) highestContiguous() uint16 {
	return cs.nextInSeq - 1
}

// ackThrough removes every pending packet at or before seq and records
// the ack. Returns how many packets were confirmed.
func (cs *channelState) ackThrough(seq uint16) int {
	pruned := 0
	for pendingSeq := range cs.pending {
		if seqLTE(pendingSeq, seq) {
			delete(cs.pending, pendingSeq)
			pruned++
		}
	}
	cs.lastAcked = seq
	cs.acked = true
	return pruned
}

// due returns the sequences of pending packets unacknowledged past the
// retransmit delay.
func (cs *channelState) due(now time.Time, delay time.Duration) []uint16 {
	var out []uint16
	for seq, p := range cs.pending {
		if now.Sub(p.sentAt) >= delay {
			out = append(out, seq)
		}
	}
	return out
}
