package soe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceComparisonWrapsAround(t *testing.T) {
	assert.True(t, seqLT(0, 1))
	assert.True(t, seqLT(100, 200))
	assert.False(t, seqLT(1, 0))
	assert.False(t, seqLT(5, 5))

	// 65535 precedes 0 across the wrap point.
	assert.True(t, seqLT(65535, 0))
	assert.True(t, seqLT(65530, 3))
	assert.False(t, seqLT(3, 65530))

	assert.True(t, seqLTE(5, 5))
	assert.True(t, seqLTE(65535, 0))
	assert.False(t, seqLTE(0, 65535))
}

func TestClassifyInbound(t *testing.T) {
	cs := newChannelState()
	window := 128

	assert.Equal(t, inboundNext, cs.classify(0, window))
	assert.Equal(t, inboundAhead, cs.classify(1, window))
	assert.Equal(t, inboundAhead, cs.classify(127, window))
	assert.Equal(t, inboundBeyondWindow, cs.classify(128, window))
	assert.Equal(t, inboundBeyondWindow, cs.classify(30000, window))

	// Behind the contiguous edge reads as a duplicate, including values
	// that wrapped.
	cs.nextInSeq = 10
	assert.Equal(t, inboundDuplicate, cs.classify(9, window))
	assert.Equal(t, inboundDuplicate, cs.classify(0, window))
	assert.Equal(t, inboundDuplicate, cs.classify(65535, window))
}

func TestClassifyAcrossWrapPoint(t *testing.T) {
	cs := newChannelState()
	cs.nextInSeq = 65535

	assert.Equal(t, inboundNext, cs.classify(65535, 128))
	assert.Equal(t, inboundAhead, cs.classify(0, 128))
	assert.Equal(t, inboundAhead, cs.classify(126, 128))
	assert.Equal(t, inboundDuplicate, cs.classify(65534, 128))

	cs.accept()
	assert.Equal(t, uint16(0), cs.nextInSeq)
	assert.Equal(t, inboundNext, cs.classify(0, 128))
}

func TestDrainReleasesContiguousRun(t *testing.T) {
	cs := newChannelState()

	cs.park(2, []byte("two"), false)
	cs.park(1, []byte("one"), false)

	// Nothing drains while the edge packet is missing.
	require.Empty(t, cs.drain())

	cs.accept() // sequence 0 arrived
	released := cs.drain()
	require.Len(t, released, 2)

	assert.Equal(t, uint16(1), released[0].seq)
	assert.Equal(t, []byte("one"), released[0].payload)
	assert.Equal(t, uint16(2), released[1].seq)
	assert.Equal(t, []byte("two"), released[1].payload)

	assert.Equal(t, uint16(3), cs.nextInSeq)
	assert.Empty(t, cs.buffered)
}

func TestParkCopiesPayload(t *testing.T) {
	cs := newChannelState()

	buf := []byte("original")
	cs.park(1, buf, false)
	copy(buf, "clobbered")

	cs.accept()
	released := cs.drain()
	require.Len(t, released, 1)
	assert.Equal(t, []byte("original"), released[0].payload)
}

func TestHighestContiguous(t *testing.T) {
	cs := newChannelState()
	assert.Equal(t, uint16(65535), cs.highestContiguous())

	cs.accept()
	assert.Equal(t, uint16(0), cs.highestContiguous())

	cs.accept()
	cs.accept()
	assert.Equal(t, uint16(2), cs.highestContiguous())
}

func TestAckThroughPrunesPending(t *testing.T) {
	cs := newChannelState()
	now := time.Now()

	for i := 0; i < 4; i++ {
		seq := cs.nextSequence()
		cs.recordPending(seq, []byte{byte(i)}, now)
	}
	require.Len(t, cs.pending, 4)

	assert.Equal(t, 2, cs.ackThrough(1))
	require.Len(t, cs.pending, 2)
	assert.Contains(t, cs.pending, uint16(2))
	assert.Contains(t, cs.pending, uint16(3))

	// Re-acking the same point prunes nothing further.
	assert.Equal(t, 0, cs.ackThrough(1))

	assert.Equal(t, 2, cs.ackThrough(3))
	assert.Empty(t, cs.pending)
}

func TestAckThroughAcrossWrapPoint(t *testing.T) {
	cs := newChannelState()
	cs.nextOutSeq = 65534
	now := time.Now()

	for _, want := range []uint16{65534, 65535, 0, 1} {
		seq := cs.nextSequence()
		require.Equal(t, want, seq)
		cs.recordPending(seq, []byte("x"), now)
	}

	// Acking through 0 confirms 65534, 65535 and 0 but not 1.
	assert.Equal(t, 3, cs.ackThrough(0))
	require.Len(t, cs.pending, 1)
	assert.Contains(t, cs.pending, uint16(1))
}

func TestDueRespectsRetransmitDelay(t *testing.T) {
	cs := newChannelState()
	start := time.Now()

	seq := cs.nextSequence()
	cs.recordPending(seq, []byte("payload"), start)

	assert.Empty(t, cs.due(start.Add(100*time.Millisecond), 500*time.Millisecond))

	due := cs.due(start.Add(600*time.Millisecond), 500*time.Millisecond)
	require.Len(t, due, 1)
	assert.Equal(t, seq, due[0])
}
