package soe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/protocol"
)

// minPacketSize is the smallest negotiable datagram ceiling. Clients
// advertising less are clamped up to keep headers and CRC representable.
const minPacketSize = 64

// Transport sends datagrams to remote endpoints. Receiving is owned by
// the UDP listener, which feeds ProcessDatagram.
type Transport interface {
	Send(data []byte, addr *net.UDPAddr) error
}

// Handler receives session lifecycle callbacks and in-order application
// payloads. Callbacks run outside the engine lock, in processing order,
// so implementations may call back into the engine.
type Handler interface {
	OnSessionEstablished(sessionID uint32)
	OnMessage(sessionID uint32, channel protocol.Channel, payload []byte)
	OnSessionClosed(sessionID uint32, reason CloseReason)
}

// Config holds the session layer tunables.
type Config struct {
	CRCSeed          uint32
	MaxPacketSize    int
	RetransmitDelay  time.Duration
	MaxRetransmits   int
	IdleTimeout      time.Duration
	FragmentTimeout  time.Duration
	OutOfOrderWindow int
	MaxSessions      int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		CRCSeed:          protocol.DefaultCRCSeed,
		MaxPacketSize:    protocol.DefaultMaxPacketSize,
		RetransmitDelay:  500 * time.Millisecond,
		MaxRetransmits:   5,
		IdleTimeout:      5 * time.Minute,
		FragmentTimeout:  10 * time.Second,
		OutOfOrderWindow: 128,
		MaxSessions:      1000,
	}
}

// Stats are cumulative engine counters.
type Stats struct {
	DatagramsIn       uint64 `json:"datagrams_in"`
	DatagramsOut      uint64 `json:"datagrams_out"`
	Malformed         uint64 `json:"malformed"`
	ChecksumFailures  uint64 `json:"checksum_failures"`
	UnknownOpcodes    uint64 `json:"unknown_opcodes"`
	UnknownSessions   uint64 `json:"unknown_sessions"`
	Retransmits       uint64 `json:"retransmits"`
	SessionsCreated   uint64 `json:"sessions_created"`
	SessionsClosed    uint64 `json:"sessions_closed"`
	PayloadsDelivered uint64 `json:"payloads_delivered"`
}

// Engine is the SOE session layer. One mutex serializes datagram
// processing and the maintenance tick, so sessions are never mutated by
// two goroutines at once. Handler callbacks are queued under the lock
// and invoked after it is released.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	table     *SessionTable
	transport Transport
	handler   Handler
	bus       *events.EventBus
	logger    zerolog.Logger

	startTime time.Time
	stats     Stats
	callbacks []func()

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewEngine creates a session engine. Zero-valued config fields fall
// back to protocol defaults. The event bus may be nil. The transport
// may also be nil at construction and attached later with SetTransport,
// which breaks the cycle when the transport itself is built around the
// engine as its datagram handler.
func NewEngine(cfg Config, transport Transport, handler Handler, bus *events.EventBus) *Engine {
	def := DefaultConfig()
	if cfg.CRCSeed == 0 {
		cfg.CRCSeed = def.CRCSeed
	}
	if cfg.MaxPacketSize < minPacketSize {
		cfg.MaxPacketSize = def.MaxPacketSize
	}
	if cfg.RetransmitDelay <= 0 {
		cfg.RetransmitDelay = def.RetransmitDelay
	}
	if cfg.MaxRetransmits <= 0 {
		cfg.MaxRetransmits = def.MaxRetransmits
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.FragmentTimeout <= 0 {
		cfg.FragmentTimeout = def.FragmentTimeout
	}
	if cfg.OutOfOrderWindow <= 0 {
		cfg.OutOfOrderWindow = def.OutOfOrderWindow
	}

	return &Engine{
		cfg:       cfg,
		table:     NewSessionTable(cfg.MaxSessions),
		transport: transport,
		handler:   handler,
		bus:       bus,
		logger:    log.With().Str("component", "soe").Logger(),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// SetTransport attaches the outbound datagram sink. Must be called
// before the first datagram is processed when the engine was built
// without one.
func (e *Engine) SetTransport(transport Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport = transport
}

// ProcessDatagram runs one inbound datagram through the session layer.
// The returned error classifies why a datagram was dropped; every error
// is non-fatal and the caller only logs it.
func (e *Engine) ProcessDatagram(data []byte, addr *net.UDPAddr) error {
	e.mu.Lock()
	err := e.processDatagram(data, addr)
	calls := e.takeCallbacks()
	e.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
	return err
}

func (e *Engine) processDatagram(data []byte, addr *net.UDPAddr) error {
	e.stats.DatagramsIn++

	op, _, err := protocol.SplitOpcode(data)
	if err != nil {
		e.stats.Malformed++
		return err
	}

	if op == protocol.OpSessionRequest {
		return e.handleSessionRequest(data[protocol.OpcodeSize:], addr)
	}
	if !op.Valid() {
		e.stats.UnknownOpcodes++
		return fmt.Errorf("%w: 0x%04X", ErrUnknownOpcode, uint16(op))
	}

	s := e.table.GetSessionByEndpoint(addr)
	if s == nil {
		// No reply: unknown endpoints must not be able to provoke traffic.
		e.stats.UnknownSessions++
		return ErrSessionNotFound
	}

	packet := data
	if op.Checksummed() {
		stripped, err := protocol.StripCRC(data, s.CRCSeed)
		if err != nil {
			if errors.Is(err, protocol.ErrChecksumMismatch) {
				e.stats.ChecksumFailures++
			} else {
				e.stats.Malformed++
			}
			e.logger.Debug().
				Err(err).
				Uint32("session", s.ID).
				Str("opcode", op.String()).
				Msg("dropping packet")
			return err
		}
		packet = stripped
	}

	op, body, err := protocol.SplitOpcode(packet)
	if err != nil {
		e.stats.Malformed++
		return err
	}

	now := e.now()
	s.touch(now)
	s.packetsReceived++

	return e.dispatch(s, op, body, now)
}

// dispatch routes a verified packet body. Sub-packets from a bundle come
// through here as well, already stripped of the outer CRC.
func (e *Engine) dispatch(s *Session, op protocol.Opcode, body []byte, now time.Time) error {
	switch {
	case op == protocol.OpMultiPacket:
		return e.handleMultiPacket(s, body, now)

	case op == protocol.OpDisconnect:
		return e.handleDisconnect(s, body)

	case op == protocol.OpPing:
		e.sendPacket(s, protocol.BuildPing())
		return nil

	case op == protocol.OpNetStatusReq:
		return e.handleNetStatus(s, body, now)

	case op.IsData():
		seq, payload, err := protocol.SplitSequence(body)
		if err != nil {
			e.stats.Malformed++
			return err
		}
		e.handleReliable(s, op.Channel(), seq, payload, false, now)
		return nil

	case op.IsFragment():
		seq, chunk, err := protocol.SplitSequence(body)
		if err != nil {
			e.stats.Malformed++
			return err
		}
		e.handleReliable(s, op.Channel(), seq, chunk, true, now)
		return nil

	case op.IsAck():
		seq, _, err := protocol.SplitSequence(body)
		if err != nil {
			e.stats.Malformed++
			return err
		}
		e.handleAck(s, op.Channel(), seq)
		return nil

	case op.IsOutOfOrder():
		seq, _, err := protocol.SplitSequence(body)
		if err != nil {
			e.stats.Malformed++
			return err
		}
		// A hint that our packets arrived reordered; retransmission is
		// already driven by the ack timeout.
		e.logger.Debug().
			Uint32("session", s.ID).
			Str("channel", op.Channel().String()).
			Uint16("sequence", seq).
			Msg("peer reported out-of-order delivery")
		return nil

	case op == protocol.OpSessionResponse:
		// Client-side packet; nothing for a server to do with it.
		e.logger.Debug().Uint32("session", s.ID).Msg("ignoring session response from client")
		return nil

	default:
		e.stats.UnknownOpcodes++
		return fmt.Errorf("%w: 0x%04X", ErrUnknownOpcode, uint16(op))
	}
}

// handleSessionRequest runs the handshake. A request from an endpoint
// that already has a session replaces the stale session.
func (e *Engine) handleSessionRequest(body []byte, addr *net.UDPAddr) error {
	msg, err := protocol.ParseSessionRequest(body)
	if err != nil {
		e.stats.Malformed++
		return err
	}

	now := e.now()
	if existing := e.table.GetSessionByEndpoint(addr); existing != nil {
		e.logger.Info().
			Uint32("stale_session", existing.ID).
			Str("endpoint", addr.String()).
			Msg("endpoint reconnecting, replacing stale session")
		e.closeSession(existing, CloseReasonReplaced)
	}

	s, err := e.table.CreateSession(addr, now)
	if err != nil {
		e.logger.Warn().
			Str("endpoint", addr.String()).
			Int("active", e.table.Count()).
			Msg("session limit reached, dropping session request")
		return err
	}
	e.stats.SessionsCreated++

	s.ConnectionID = msg.ConnectionID
	s.CRCSeed = e.cfg.CRCSeed
	s.maxPacketSize = e.cfg.MaxPacketSize
	if size := int(msg.ClientUDPSize); size >= minPacketSize && size < s.maxPacketSize {
		s.maxPacketSize = size
	}

	e.sendPacket(s, protocol.BuildSessionResponse(s.ConnectionID, s.CRCSeed, uint32(s.maxPacketSize)))
	s.State = StateConnected

	e.logger.Info().
		Uint32("session", s.ID).
		Str("endpoint", addr.String()).
		Uint32("connection_id", s.ConnectionID).
		Int("max_packet_size", s.maxPacketSize).
		Msg("session established")

	id := s.ID
	e.notify(func() { e.handler.OnSessionEstablished(id) })
	e.emit(events.EventSessionEstablished, events.SessionEstablishedPayload{
		SessionID: id,
		Endpoint:  addr.String(),
	})
	return nil
}

// handleReliable processes a sequenced data or fragment packet through
// the channel's ordering rules.
func (e *Engine) handleReliable(s *Session, ch protocol.Channel, seq uint16, payload []byte, fragment bool, now time.Time) {
	cs := s.channel(ch)

	switch cs.classify(seq, e.cfg.OutOfOrderWindow) {
	case inboundNext:
		cs.accept()
		e.deliver(s, ch, seq, payload, fragment, now)
		for _, released := range cs.drain() {
			e.deliver(s, ch, released.seq, released.payload, released.fragment, now)
		}
		e.sendPacket(s, protocol.BuildAck(ch, cs.highestContiguous()))

	case inboundDuplicate:
		// Already delivered; our ack may have been lost, so repeat it.
		e.logger.Trace().
			Uint32("session", s.ID).
			Str("channel", ch.String()).
			Uint16("sequence", seq).
			Msg("duplicate packet, re-acking")
		e.sendPacket(s, protocol.BuildAck(ch, cs.highestContiguous()))

	case inboundAhead:
		cs.park(seq, payload, fragment)
		e.sendPacket(s, protocol.BuildOutOfOrder(ch, seq))

	case inboundBeyondWindow:
		e.logger.Debug().
			Uint32("session", s.ID).
			Str("channel", ch.String()).
			Uint16("sequence", seq).
			Uint16("expected", cs.nextInSeq).
			Msg("sequence beyond window, dropping")
	}
}

// deliver hands an in-order payload upward, routing fragments through
// reassembly first. The handler receives memory it owns.
func (e *Engine) deliver(s *Session, ch protocol.Channel, seq uint16, payload []byte, fragment bool, now time.Time) {
	data := payload
	if fragment {
		complete, err := s.channel(ch).feedFragment(seq, payload, now)
		if err != nil {
			e.stats.Malformed++
			e.logger.Debug().
				Err(err).
				Uint32("session", s.ID).
				Str("channel", ch.String()).
				Msg("discarding fragment")
			return
		}
		if complete == nil {
			return
		}
		data = complete
	} else {
		data = make([]byte, len(payload))
		copy(data, payload)
	}

	e.stats.PayloadsDelivered++
	id, channel := s.ID, ch
	e.notify(func() { e.handler.OnMessage(id, channel, data) })
}

// handleAck prunes acknowledged outbound packets.
func (e *Engine) handleAck(s *Session, ch protocol.Channel, seq uint16) {
	pruned := s.channel(ch).ackThrough(seq)
	if pruned > 0 {
		e.logger.Trace().
			Uint32("session", s.ID).
			Str("channel", ch.String()).
			Uint16("through", seq).
			Int("confirmed", pruned).
			Msg("ack received")
	}
}

// handleDisconnect marks the session for removal on the next tick.
func (e *Engine) handleDisconnect(s *Session, body []byte) error {
	msg, err := protocol.ParseDisconnect(body)
	if err != nil {
		e.stats.Malformed++
		return err
	}

	e.logger.Info().
		Uint32("session", s.ID).
		Uint16("reason", uint16(msg.Reason)).
		Msg("client disconnect")

	s.State = StateDisconnecting
	s.closeReason = CloseReasonDisconnect
	return nil
}

// handleNetStatus echoes the client's counters with ours attached.
func (e *Engine) handleNetStatus(s *Session, body []byte, now time.Time) error {
	msg, err := protocol.ParseNetStatusRequest(body)
	if err != nil {
		e.stats.Malformed++
		return err
	}

	e.sendPacket(s, protocol.BuildNetStatusResponse(&protocol.NetStatusResponse{
		ClientTick:            msg.ClientTick,
		ServerTick:            uint32(now.Sub(e.startTime).Milliseconds()),
		ClientPacketsSent:     msg.PacketsSent,
		ClientPacketsReceived: msg.PacketsReceived,
		ServerPacketsSent:     s.packetsSent,
		ServerPacketsReceived: s.packetsReceived,
	}))
	return nil
}

// handleMultiPacket unpacks a bundle and dispatches each sub-packet.
// A corrupt tail does not discard the sub-packets before it.
func (e *Engine) handleMultiPacket(s *Session, body []byte, now time.Time) error {
	subs, err := protocol.ParseMultiPacket(body)
	if err != nil {
		e.stats.Malformed++
		e.logger.Debug().
			Err(err).
			Uint32("session", s.ID).
			Int("salvaged", len(subs)).
			Msg("multi-packet tail corrupt, processing leading sub-packets")
	}

	for _, sub := range subs {
		op, subBody, serr := protocol.SplitOpcode(sub)
		if serr != nil {
			continue
		}
		// Handshake packets never arrive bundled and bundles do not nest.
		if op == protocol.OpSessionRequest || op == protocol.OpSessionResponse || op == protocol.OpMultiPacket {
			e.logger.Debug().
				Uint32("session", s.ID).
				Str("opcode", op.String()).
				Msg("ignoring sub-packet type not allowed in bundle")
			continue
		}
		if derr := e.dispatch(s, op, subBody, now); derr != nil {
			e.logger.Debug().
				Err(derr).
				Uint32("session", s.ID).
				Str("opcode", op.String()).
				Msg("sub-packet dropped")
		}
	}
	return err
}

// SendReliable queues payload for ordered reliable delivery on a
// channel, fragmenting when it exceeds the session's usable packet body.
func (e *Engine) SendReliable(sessionID uint32, ch protocol.Channel, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.table.GetSession(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	if s.State != StateConnected {
		return ErrSessionNotConnected
	}

	now := e.now()
	cs := s.channel(ch)
	usable := s.maxPacketSize - protocol.OpcodeSize - protocol.SequenceSize - protocol.CRCSize

	if len(payload) <= usable {
		seq := cs.nextSequence()
		packet := protocol.BuildData(ch, seq, payload)
		cs.recordPending(seq, packet, now)
		e.sendPacket(s, packet)
		return nil
	}

	for _, chunk := range splitPayload(payload, usable) {
		seq := cs.nextSequence()
		packet := protocol.BuildFragment(ch, seq, chunk)
		cs.recordPending(seq, packet, now)
		e.sendPacket(s, packet)
	}
	return nil
}

// Disconnect tears a session down server-side: the client is notified
// and the session removed immediately.
func (e *Engine) Disconnect(sessionID uint32, reason CloseReason) error {
	e.mu.Lock()
	s := e.table.GetSession(sessionID)
	if s == nil {
		e.mu.Unlock()
		return ErrSessionNotFound
	}
	e.sendPacket(s, protocol.BuildDisconnect(s.ConnectionID, protocol.DisconnectReasonApplication))
	e.closeSession(s, reason)
	calls := e.takeCallbacks()
	e.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
	return nil
}

// Tick runs periodic maintenance: retransmits, fragment expiry, and the
// session reaper. The host scheduler drives it.
func (e *Engine) Tick() {
	e.mu.Lock()
	now := e.now()

	var toClose []*Session
	for _, s := range e.table.All() {
		if s.State == StateDisconnecting {
			toClose = append(toClose, s)
			continue
		}

		if s.idleFor(now) > e.cfg.IdleTimeout {
			s.closeReason = CloseReasonIdle
			e.sendPacket(s, protocol.BuildDisconnect(s.ConnectionID, protocol.DisconnectReasonTimeout))
			toClose = append(toClose, s)
			continue
		}

		if e.retransmitScan(s, now) {
			s.closeReason = CloseReasonTimeout
			e.sendPacket(s, protocol.BuildDisconnect(s.ConnectionID, protocol.DisconnectReasonTimeout))
			toClose = append(toClose, s)
			continue
		}

		e.sweepFragments(s, now)
	}

	for _, s := range toClose {
		e.closeSession(s, s.closeReason)
	}

	calls := e.takeCallbacks()
	e.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
}

// retransmitScan re-sends unacknowledged packets past the retransmit
// delay. It reports true when a packet has exhausted its attempts,
// which is fatal for the session.
func (e *Engine) retransmitScan(s *Session, now time.Time) bool {
	for chIdx, cs := range s.channels {
		for _, seq := range cs.due(now, e.cfg.RetransmitDelay) {
			p := cs.pending[seq]
			if p.attempts >= e.cfg.MaxRetransmits {
				e.logger.Warn().
					Uint32("session", s.ID).
					Str("channel", protocol.Channel(chIdx).String()).
					Uint16("sequence", seq).
					Int("attempts", p.attempts).
					Msg("retransmissions exhausted")
				return true
			}
			p.attempts++
			p.sentAt = now
			e.stats.Retransmits++
			e.sendPacket(s, p.packet)
		}
	}
	return false
}

// sweepFragments discards reassembly buffers that stopped growing.
func (e *Engine) sweepFragments(s *Session, now time.Time) {
	for chIdx, cs := range s.channels {
		for _, start := range cs.sweepFragments(now, e.cfg.FragmentTimeout) {
			e.logger.Debug().
				Uint32("session", s.ID).
				Str("channel", protocol.Channel(chIdx).String()).
				Uint16("start_sequence", start).
				Msg("discarded stale fragment buffer")
		}
	}
}

// closeSession removes a session and queues the upper-layer callback.
// Caller must hold the engine lock.
func (e *Engine) closeSession(s *Session, reason CloseReason) {
	if !e.table.DestroySession(s.ID) {
		return
	}
	s.State = StateDisconnected
	e.stats.SessionsClosed++

	e.logger.Info().
		Uint32("session", s.ID).
		Str("endpoint", s.Addr.String()).
		Str("reason", reason.String()).
		Msg("session closed")

	id := s.ID
	e.notify(func() { e.handler.OnSessionClosed(id, reason) })
	e.emit(events.EventSessionClosed, events.SessionClosedPayload{
		SessionID: id,
		Endpoint:  s.Addr.String(),
		Reason:    reason.String(),
		Duration:  e.now().Sub(s.createdAt).Seconds(),
	})
}

// Shutdown notifies every client and removes all sessions.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, s := range e.table.All() {
		e.sendPacket(s, protocol.BuildDisconnect(s.ConnectionID, protocol.DisconnectReasonApplication))
		e.closeSession(s, CloseReasonShutdown)
	}
	calls := e.takeCallbacks()
	e.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
	e.logger.Info().Msg("session engine shut down")
}

// sendPacket seals a packet with the session CRC when required and
// hands it to the transport.
func (e *Engine) sendPacket(s *Session, packet []byte) {
	if e.transport == nil {
		e.logger.Warn().Uint32("session", s.ID).Msg("no transport attached, dropping outbound packet")
		return
	}
	out := packet
	if op, _, err := protocol.SplitOpcode(packet); err == nil && op.Checksummed() {
		out = protocol.AppendCRC(packet, s.CRCSeed)
	}

	if err := e.transport.Send(out, s.Addr); err != nil {
		e.logger.Warn().
			Err(err).
			Uint32("session", s.ID).
			Msg("transport send failed")
		return
	}
	s.packetsSent++
	e.stats.DatagramsOut++
}

// notify queues a handler callback to run after the lock is released.
func (e *Engine) notify(fn func()) {
	if e.handler == nil {
		return
	}
	e.callbacks = append(e.callbacks, fn)
}

// takeCallbacks detaches the queued callbacks. Caller must hold the lock.
func (e *Engine) takeCallbacks() []func() {
	calls := e.callbacks
	e.callbacks = nil
	return calls
}

// emit publishes an event when a bus is attached.
func (e *Engine) emit(t events.EventType, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "soe",
		Payload: payload,
	})
}

// Count returns the number of active sessions.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Count()
}

// Snapshot copies the observable state of every session.
func (e *Engine) Snapshot() []SessionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Snapshot()
}

// SessionSnapshotByID copies one session's observable state.
func (e *Engine) SessionSnapshotByID(id uint32) (SessionSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.table.GetSession(id)
	if s == nil {
		return SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// Stats returns a copy of the cumulative counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Uptime reports how long the engine has been running.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.startTime)
}
