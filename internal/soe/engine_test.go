package soe

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/protocol"
)

type sentPacket struct {
	data []byte
	addr *net.UDPAddr
}

// fakeTransport records outbound datagrams instead of sending them.
type fakeTransport struct {
	sent []sentPacket
}

func (f *fakeTransport) Send(data []byte, addr *net.UDPAddr) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, sentPacket{data: cp, addr: addr})
	return nil
}

func (f *fakeTransport) reset() { f.sent = nil }

func (f *fakeTransport) byOpcode(op protocol.Opcode) [][]byte {
	var out [][]byte
	for _, p := range f.sent {
		if len(p.data) >= protocol.OpcodeSize && binary.LittleEndian.Uint16(p.data) == uint16(op) {
			out = append(out, p.data)
		}
	}
	return out
}

type receivedMessage struct {
	sessionID uint32
	channel   protocol.Channel
	payload   []byte
}

type closedSession struct {
	sessionID uint32
	reason    CloseReason
}

// recordingHandler captures every upper-layer callback.
type recordingHandler struct {
	established []uint32
	messages    []receivedMessage
	closed      []closedSession
}

func (h *recordingHandler) OnSessionEstablished(id uint32) {
	h.established = append(h.established, id)
}

func (h *recordingHandler) OnMessage(id uint32, ch protocol.Channel, payload []byte) {
	h.messages = append(h.messages, receivedMessage{sessionID: id, channel: ch, payload: payload})
}

func (h *recordingHandler) OnSessionClosed(id uint32, reason CloseReason) {
	h.closed = append(h.closed, closedSession{sessionID: id, reason: reason})
}

// testClock replaces the engine's wall clock.
type testClock struct{ current time.Time }

func (c *testClock) Now() time.Time          { return c.current }
func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestEngine(cfg Config) (*Engine, *fakeTransport, *recordingHandler, *testClock) {
	tr := &fakeTransport{}
	h := &recordingHandler{}
	clock := &testClock{current: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	e := NewEngine(cfg, tr, h, nil)
	e.now = clock.Now
	e.startTime = clock.current
	return e, tr, h, clock
}

// seal appends the CRC footer a client would compute.
func seal(packet []byte) []byte {
	return protocol.AppendCRC(packet, protocol.DefaultCRCSeed)
}

// unseal verifies and strips the CRC footer of a server packet and
// splits off its opcode.
func unseal(t *testing.T, packet []byte) (protocol.Opcode, []byte) {
	t.Helper()
	stripped, err := protocol.StripCRC(packet, protocol.DefaultCRCSeed)
	require.NoError(t, err)
	op, body, err := protocol.SplitOpcode(stripped)
	require.NoError(t, err)
	return op, body
}

func establish(t *testing.T, e *Engine, h *recordingHandler, addr *net.UDPAddr) uint32 {
	t.Helper()
	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 0xAABBCCDD, ClientUDPSize: 496}).Encode()
	require.NoError(t, e.ProcessDatagram(req, addr))
	require.NotEmpty(t, h.established)
	return h.established[len(h.established)-1]
}

func TestSessionHandshake(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)

	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 0xAABBCCDD, ClientUDPSize: 496}).Encode()
	require.NoError(t, e.ProcessDatagram(req, addr))

	require.Len(t, tr.sent, 1)
	resp := tr.sent[0].data

	// The response opcode is 0x0002 little-endian and the connection ID
	// is echoed verbatim.
	assert.Equal(t, []byte{0x02, 0x00}, resp[:2])
	assert.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA}, resp[2:6])

	msg, err := protocol.ParseSessionResponse(resp[2:])
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAABBCCDD), msg.ConnectionID)
	assert.Equal(t, protocol.DefaultCRCSeed, msg.CRCSeed)
	assert.Equal(t, uint8(2), msg.CRCLength)
	assert.Equal(t, uint32(496), msg.MaxPacketSize)

	require.Len(t, h.established, 1)
	snap, ok := e.SessionSnapshotByID(h.established[0])
	require.True(t, ok)
	assert.Equal(t, StateConnected, snap.State)
	assert.Equal(t, "127.0.0.1:12345", snap.Endpoint)
	assert.Equal(t, 1, e.Count())
}

func TestHandshakeNegotiatesPacketSize(t *testing.T) {
	cases := []struct {
		name       string
		clientSize uint32
		want       uint32
	}{
		{"client smaller wins", 128, 128},
		{"below floor falls back to server size", 32, 496},
		{"client larger clamped to server size", 4096, 496},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, tr, _, _ := newTestEngine(DefaultConfig())
			addr := udpAddr("127.0.0.1", 20000)

			req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 1, ClientUDPSize: tc.clientSize}).Encode()
			require.NoError(t, e.ProcessDatagram(req, addr))

			require.Len(t, tr.sent, 1)
			msg, err := protocol.ParseSessionResponse(tr.sent[0].data[2:])
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg.MaxPacketSize)
		})
	}
}

func TestDataDeliveredAndAcked(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)
	tr.reset()

	packet := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("hello world")))
	require.NoError(t, e.ProcessDatagram(packet, addr))

	require.Len(t, h.messages, 1)
	assert.Equal(t, id, h.messages[0].sessionID)
	assert.Equal(t, protocol.ChannelA, h.messages[0].channel)
	assert.Equal(t, []byte("hello world"), h.messages[0].payload)

	acks := tr.byOpcode(protocol.OpAckA)
	require.Len(t, acks, 1)
	op, body := unseal(t, acks[0])
	assert.Equal(t, protocol.OpAckA, op)
	seq, rest, err := protocol.SplitSequence(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), seq)
	assert.Empty(t, rest)
}

func TestDuplicateDataReAcked(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)
	tr.reset()

	packet := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("once")))
	require.NoError(t, e.ProcessDatagram(packet, addr))
	require.NoError(t, e.ProcessDatagram(packet, addr))

	// Delivered once, acked twice.
	assert.Len(t, h.messages, 1)
	assert.Len(t, tr.byOpcode(protocol.OpAckA), 2)
}

func TestOutOfOrderDataBufferedUntilGapFills(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)
	tr.reset()

	second := seal(protocol.BuildData(protocol.ChannelA, 1, []byte("second")))
	require.NoError(t, e.ProcessDatagram(second, addr))

	// Nothing delivered yet; the peer is told its packet jumped the queue.
	assert.Empty(t, h.messages)
	reports := tr.byOpcode(protocol.OpOutOfOrderA)
	require.Len(t, reports, 1)
	_, body := unseal(t, reports[0])
	seq, _, err := protocol.SplitSequence(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), seq)

	first := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("first")))
	require.NoError(t, e.ProcessDatagram(first, addr))

	require.Len(t, h.messages, 2)
	assert.Equal(t, []byte("first"), h.messages[0].payload)
	assert.Equal(t, []byte("second"), h.messages[1].payload)

	// The ack after the gap fills covers both packets.
	acks := tr.byOpcode(protocol.OpAckA)
	require.Len(t, acks, 1)
	_, body = unseal(t, acks[len(acks)-1])
	seq, _, err = protocol.SplitSequence(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), seq)
}

func TestChecksumFailureDropsPacket(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)
	tr.reset()

	packet := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("garbled")))
	packet[len(packet)-1] ^= 0xFF

	err := e.ProcessDatagram(packet, addr)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	assert.Empty(t, h.messages)
	assert.Empty(t, tr.sent)
	assert.Equal(t, uint64(1), e.Stats().ChecksumFailures)
}

func TestUnknownEndpointDropped(t *testing.T) {
	e, tr, _, _ := newTestEngine(DefaultConfig())

	packet := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("stray")))
	err := e.ProcessDatagram(packet, udpAddr("10.9.9.9", 4444))

	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, tr.sent)
	assert.Equal(t, uint64(1), e.Stats().UnknownSessions)
}

func TestInvalidOpcodeRejected(t *testing.T) {
	e, _, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)

	// 0x04 sits in the opcode gap and is not a packet type.
	err := e.ProcessDatagram([]byte{0x04, 0x00, 0x01, 0x02}, addr)
	require.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestPingEchoed(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)
	tr.reset()

	require.NoError(t, e.ProcessDatagram(seal(protocol.BuildPing()), addr))

	pongs := tr.byOpcode(protocol.OpPing)
	require.Len(t, pongs, 1)
	op, body := unseal(t, pongs[0])
	assert.Equal(t, protocol.OpPing, op)
	assert.Empty(t, body)
}

func TestNetStatusEchoesCounters(t *testing.T) {
	e, tr, h, clock := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)
	tr.reset()
	clock.Advance(1500 * time.Millisecond)

	req := (&protocol.NetStatusRequest{ClientTick: 7, PacketsSent: 10, PacketsReceived: 3}).Encode()
	require.NoError(t, e.ProcessDatagram(seal(req), addr))

	resps := tr.byOpcode(protocol.OpNetStatusResp)
	require.Len(t, resps, 1)
	_, body := unseal(t, resps[0])

	msg, err := protocol.ParseNetStatusResponse(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), msg.ClientTick)
	assert.Equal(t, uint32(1500), msg.ServerTick)
	assert.Equal(t, uint64(10), msg.ClientPacketsSent)
	assert.Equal(t, uint64(3), msg.ClientPacketsReceived)
	assert.Equal(t, uint64(1), msg.ServerPacketsSent)     // the session response
	assert.Equal(t, uint64(1), msg.ServerPacketsReceived) // this request
}

func TestClientDisconnectRemovesSessionOnTick(t *testing.T) {
	e, _, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)

	bye := seal(protocol.BuildDisconnect(0xAABBCCDD, protocol.DisconnectReasonOtherSide))
	require.NoError(t, e.ProcessDatagram(bye, addr))

	snap, ok := e.SessionSnapshotByID(id)
	require.True(t, ok)
	assert.Equal(t, StateDisconnecting, snap.State)

	e.Tick()

	assert.Zero(t, e.Count())
	require.Len(t, h.closed, 1)
	assert.Equal(t, id, h.closed[0].sessionID)
	assert.Equal(t, CloseReasonDisconnect, h.closed[0].reason)
}

func TestIdleSessionReaped(t *testing.T) {
	e, tr, h, clock := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)
	tr.reset()

	clock.Advance(4 * time.Minute)
	e.Tick()
	assert.Equal(t, 1, e.Count())

	clock.Advance(2 * time.Minute)
	e.Tick()

	assert.Zero(t, e.Count())
	require.Len(t, h.closed, 1)
	assert.Equal(t, id, h.closed[0].sessionID)
	assert.Equal(t, CloseReasonIdle, h.closed[0].reason)

	// The client is told before the session is dropped.
	assert.Len(t, tr.byOpcode(protocol.OpDisconnect), 1)
}

func TestRetransmitExhaustionClosesSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetransmitDelay = 100 * time.Millisecond
	cfg.MaxRetransmits = 2

	e, tr, h, clock := newTestEngine(cfg)
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)

	require.NoError(t, e.SendReliable(id, protocol.ChannelA, []byte("important")))
	tr.reset()

	clock.Advance(150 * time.Millisecond)
	e.Tick()
	assert.Len(t, tr.byOpcode(protocol.OpDataA), 1)
	assert.Equal(t, uint64(1), e.Stats().Retransmits)
	assert.Equal(t, 1, e.Count())

	clock.Advance(150 * time.Millisecond)
	e.Tick()
	assert.Len(t, tr.byOpcode(protocol.OpDataA), 2)

	// Attempts are exhausted; the next scan gives up on the session.
	clock.Advance(150 * time.Millisecond)
	e.Tick()

	assert.Zero(t, e.Count())
	require.Len(t, h.closed, 1)
	assert.Equal(t, CloseReasonTimeout, h.closed[0].reason)
	assert.Len(t, tr.byOpcode(protocol.OpDisconnect), 1)
}

func TestSendReliableSinglePacket(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)
	tr.reset()

	require.NoError(t, e.SendReliable(id, protocol.ChannelB, []byte("hello")))

	packets := tr.byOpcode(protocol.OpDataB)
	require.Len(t, packets, 1)
	_, body := unseal(t, packets[0])
	seq, payload, err := protocol.SplitSequence(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), seq)
	assert.Equal(t, []byte("hello"), payload)

	snap, ok := e.SessionSnapshotByID(id)
	require.True(t, ok)
	assert.Equal(t, 1, snap.PendingAcks)

	require.NoError(t, e.ProcessDatagram(seal(protocol.BuildAck(protocol.ChannelB, 0)), addr))
	snap, _ = e.SessionSnapshotByID(id)
	assert.Zero(t, snap.PendingAcks)
}

func TestSendReliableFragmentsLargePayload(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)

	// Negotiate a tiny packet size so a modest payload must fragment.
	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 9, ClientUDPSize: 64}).Encode()
	require.NoError(t, e.ProcessDatagram(req, addr))
	id := h.established[len(h.established)-1]
	tr.reset()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, e.SendReliable(id, protocol.ChannelA, payload))

	frags := tr.byOpcode(protocol.OpFragmentA)
	require.Len(t, frags, 4)

	var assembled []byte
	for i, frag := range frags {
		_, body := unseal(t, frag)
		seq, chunk, err := protocol.SplitSequence(body)
		require.NoError(t, err)
		require.Equal(t, uint16(i), seq)

		if i == 0 {
			require.True(t, len(chunk) >= 4)
			assert.Equal(t, uint32(200), binary.LittleEndian.Uint32(chunk[:4]))
			chunk = chunk[4:]
		}
		assembled = append(assembled, chunk...)
	}
	assert.Equal(t, payload, assembled)

	// One ack for the highest fragment confirms the whole run.
	require.NoError(t, e.ProcessDatagram(seal(protocol.BuildAck(protocol.ChannelA, 3)), addr))
	snap, ok := e.SessionSnapshotByID(id)
	require.True(t, ok)
	assert.Zero(t, snap.PendingAcks)
}

func TestInboundFragmentsReassembled(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)
	tr.reset()

	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte(255 - i)
	}

	chunks := splitPayload(payload, 50)
	for i, chunk := range chunks[:len(chunks)-1] {
		packet := seal(protocol.BuildFragment(protocol.ChannelA, uint16(i), chunk))
		require.NoError(t, e.ProcessDatagram(packet, addr))
		assert.Empty(t, h.messages, "partial payload must not be delivered")
	}

	last := seal(protocol.BuildFragment(protocol.ChannelA, uint16(len(chunks)-1), chunks[len(chunks)-1]))
	require.NoError(t, e.ProcessDatagram(last, addr))

	require.Len(t, h.messages, 1)
	assert.Equal(t, id, h.messages[0].sessionID)
	assert.Equal(t, payload, h.messages[0].payload)

	// Every fragment advanced the reliable stream and was acked.
	assert.Len(t, tr.byOpcode(protocol.OpAckA), len(chunks))
}

func TestStaleFragmentBufferSweptOnTick(t *testing.T) {
	e, _, h, clock := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)

	chunks := splitPayload(make([]byte, 300), 50)
	packet := seal(protocol.BuildFragment(protocol.ChannelA, 0, chunks[0]))
	require.NoError(t, e.ProcessDatagram(packet, addr))

	s := e.table.GetSession(id)
	require.NotNil(t, s)
	require.Len(t, s.channel(protocol.ChannelA).frags, 1)

	clock.Advance(11 * time.Second)
	e.Tick()

	assert.Empty(t, s.channel(protocol.ChannelA).frags)
	assert.Empty(t, h.messages)
	// The session itself outlives the abandoned payload.
	assert.Equal(t, 1, e.Count())
}

func TestReconnectReplacesSession(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	first := establish(t, e, h, addr)
	tr.reset()

	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 0x11223344, ClientUDPSize: 496}).Encode()
	require.NoError(t, e.ProcessDatagram(req, addr))

	require.Len(t, h.closed, 1)
	assert.Equal(t, first, h.closed[0].sessionID)
	assert.Equal(t, CloseReasonReplaced, h.closed[0].reason)

	require.Len(t, h.established, 2)
	second := h.established[1]
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, e.Count())

	require.Len(t, tr.sent, 1)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, tr.sent[0].data[2:6])
}

func TestMultiPacketBundleDispatched(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	id := establish(t, e, h, addr)
	tr.reset()

	bundle := protocol.BuildMultiPacket([][]byte{
		protocol.BuildPing(),
		protocol.BuildData(protocol.ChannelA, 0, []byte("bundled")),
	})
	require.NoError(t, e.ProcessDatagram(seal(bundle), addr))

	require.Len(t, h.messages, 1)
	assert.Equal(t, id, h.messages[0].sessionID)
	assert.Equal(t, []byte("bundled"), h.messages[0].payload)

	assert.Len(t, tr.byOpcode(protocol.OpPing), 1)
	assert.Len(t, tr.byOpcode(protocol.OpAckA), 1)
}

func TestMultiPacketCorruptTailSalvagesLeading(t *testing.T) {
	e, _, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)

	sub := protocol.BuildData(protocol.ChannelA, 0, []byte("kept"))
	bundle := protocol.NewPacket(protocol.OpMultiPacket).
		WriteUint16(uint16(len(sub))).
		WriteBytes(sub).
		WriteUint16(200). // declares more bytes than remain
		WriteBytes([]byte{0x09, 0x00}).
		Build()

	err := e.ProcessDatagram(seal(bundle), addr)
	require.ErrorIs(t, err, ErrMalformedPacket)

	// The sub-packet before the corruption still went through.
	require.Len(t, h.messages, 1)
	assert.Equal(t, []byte("kept"), h.messages[0].payload)
}

func TestShutdownClosesAllSessions(t *testing.T) {
	e, tr, h, _ := newTestEngine(DefaultConfig())
	establish(t, e, h, udpAddr("127.0.0.1", 12345))
	establish(t, e, h, udpAddr("127.0.0.1", 12346))
	tr.reset()

	e.Shutdown()

	assert.Zero(t, e.Count())
	require.Len(t, h.closed, 2)
	for _, closed := range h.closed {
		assert.Equal(t, CloseReasonShutdown, closed.reason)
	}
	assert.Len(t, tr.byOpcode(protocol.OpDisconnect), 2)
}

func TestSessionLimitDropsHandshake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1

	e, tr, h, _ := newTestEngine(cfg)
	establish(t, e, h, udpAddr("127.0.0.1", 12345))
	tr.reset()

	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 2, ClientUDPSize: 496}).Encode()
	err := e.ProcessDatagram(req, udpAddr("127.0.0.1", 12346))

	require.ErrorIs(t, err, ErrSessionLimit)
	assert.Equal(t, 1, e.Count())
	assert.Empty(t, tr.sent)
}

// echoHandler sends every payload straight back, which only works if
// callbacks run outside the engine lock.
type echoHandler struct {
	engine *Engine
}

func (h *echoHandler) OnSessionEstablished(uint32) {}

func (h *echoHandler) OnMessage(id uint32, ch protocol.Channel, payload []byte) {
	_ = h.engine.SendReliable(id, ch, payload)
}

func (h *echoHandler) OnSessionClosed(uint32, CloseReason) {}

func TestHandlerMaySendFromCallback(t *testing.T) {
	tr := &fakeTransport{}
	h := &echoHandler{}
	e := NewEngine(DefaultConfig(), tr, h, nil)
	h.engine = e

	addr := udpAddr("127.0.0.1", 12345)
	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 1, ClientUDPSize: 496}).Encode()
	require.NoError(t, e.ProcessDatagram(req, addr))
	tr.reset()

	packet := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("marco")))
	require.NoError(t, e.ProcessDatagram(packet, addr))

	echoes := tr.byOpcode(protocol.OpDataA)
	require.Len(t, echoes, 1)
	_, body := unseal(t, echoes[0])
	_, payload, err := protocol.SplitSequence(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("marco"), payload)
}

func TestSendReliableErrors(t *testing.T) {
	e, _, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)

	err := e.SendReliable(99, protocol.ChannelA, []byte("nobody home"))
	require.ErrorIs(t, err, ErrSessionNotFound)

	id := establish(t, e, h, addr)
	bye := seal(protocol.BuildDisconnect(0xAABBCCDD, protocol.DisconnectReasonOtherSide))
	require.NoError(t, e.ProcessDatagram(bye, addr))

	err = e.SendReliable(id, protocol.ChannelA, []byte("too late"))
	require.ErrorIs(t, err, ErrSessionNotConnected)
}

func TestEngineEmitsSessionEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventSessionEstablished, "test", func(ctx context.Context, ev events.Event) error {
		got <- ev
		return nil
	})

	tr := &fakeTransport{}
	h := &recordingHandler{}
	e := NewEngine(DefaultConfig(), tr, h, bus)

	addr := udpAddr("127.0.0.1", 12345)
	req := (&protocol.SessionRequest{CRCLength: 2, ConnectionID: 1, ClientUDPSize: 496}).Encode()
	require.NoError(t, e.ProcessDatagram(req, addr))

	select {
	case ev := <-got:
		assert.Equal(t, events.EventSessionEstablished, ev.Type)
		assert.Equal(t, "soe", ev.Source)
		payload, ok := ev.Payload.(events.SessionEstablishedPayload)
		require.True(t, ok)
		assert.Equal(t, "127.0.0.1:12345", payload.Endpoint)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
}

func TestStatsTracking(t *testing.T) {
	e, _, h, _ := newTestEngine(DefaultConfig())
	addr := udpAddr("127.0.0.1", 12345)
	establish(t, e, h, addr)

	good := seal(protocol.BuildData(protocol.ChannelA, 0, []byte("data")))
	require.NoError(t, e.ProcessDatagram(good, addr))
	require.NoError(t, e.ProcessDatagram(good, addr)) // duplicate

	bad := seal(protocol.BuildData(protocol.ChannelA, 1, []byte("data")))
	bad[len(bad)-1] ^= 0xFF
	require.Error(t, e.ProcessDatagram(bad, addr))

	stats := e.Stats()
	assert.Equal(t, uint64(4), stats.DatagramsIn)
	assert.Equal(t, uint64(1), stats.SessionsCreated)
	assert.Equal(t, uint64(1), stats.PayloadsDelivered)
	assert.Equal(t, uint64(1), stats.ChecksumFailures)
	// Session response plus two acks.
	assert.Equal(t, uint64(3), stats.DatagramsOut)
}
