// Package soe implements the session layer of the SOE protocol: session
// lifecycle, ordered reliable delivery over four channels, fragmentation
// and reassembly, and the periodic maintenance tick.
package soe

import (
	"net"
	"time"

	"github.com/galaxygate-project/galaxygate/internal/protocol"
)

// SessionState represents where a session is in its lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// sessionStateStrings maps SessionState values to their lowercase JSON string representation.
var sessionStateStrings = map[SessionState]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
}

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	if str, ok := sessionStateStrings[s]; ok {
		return str
	}
	return "disconnected"
}

// MarshalJSON serializes SessionState as a JSON string (e.g. "connected").
func (s SessionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CloseReason records why a session was removed.
type CloseReason int

const (
	// CloseReasonDisconnect means the client sent a disconnect packet.
	CloseReasonDisconnect CloseReason = iota
	// CloseReasonTimeout means retransmissions were exhausted.
	CloseReasonTimeout
	// CloseReasonIdle means no traffic arrived within the idle timeout.
	CloseReasonIdle
	// CloseReasonReplaced means the endpoint opened a fresh session.
	CloseReasonReplaced
	// CloseReasonShutdown means the server is stopping.
	CloseReasonShutdown
)

// closeReasonStrings maps CloseReason values to their lowercase JSON string representation.
var closeReasonStrings = map[CloseReason]string{
	CloseReasonDisconnect: "disconnect",
	CloseReasonTimeout:    "timeout",
	CloseReasonIdle:       "idle",
	CloseReasonReplaced:   "replaced",
	CloseReasonShutdown:   "shutdown",
}

// String returns the string representation of CloseReason.
func (r CloseReason) String() string {
	if str, ok := closeReasonStrings[r]; ok {
		return str
	}
	return "disconnect"
}

// MarshalJSON serializes CloseReason as a JSON string (e.g. "idle").
func (r CloseReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Session holds all per-client state. Sessions are owned by the engine
// and mutated only under its lock; outside callers observe them through
// snapshots.
type Session struct {
	ID           uint32
	Addr         *net.UDPAddr
	ConnectionID uint32
	CRCSeed      uint32
	State        SessionState

	closeReason CloseReason
	channels    [protocol.ChannelCount]*channelState

	createdAt    time.Time
	lastActivity time.Time

	// Negotiated outbound datagram ceiling for this session.
	maxPacketSize int

	packetsSent     uint64
	packetsReceived uint64
}

func newSession(id uint32, addr *net.UDPAddr, now time.Time) *Session {
	s := &Session{
		ID:           id,
		Addr:         addr,
		State:        StateConnecting,
		createdAt:    now,
		lastActivity: now,
	}
	for i := range s.channels {
		s.channels[i] = newChannelState()
	}
	return s
}

// touch refreshes the idle clock.
func (s *Session) touch(now time.Time) {
	s.lastActivity = now
}

// idleFor reports how long the session has been without inbound traffic.
func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.lastActivity)
}

// channel returns the state for one reliable channel.
func (s *Session) channel(ch protocol.Channel) *channelState {
	return s.channels[ch]
}

// pendingCount sums unacknowledged outbound packets across channels.
func (s *Session) pendingCount() int {
	total := 0
	for _, cs := range s.channels {
		total += len(cs.pending)
	}
	return total
}

// SessionSnapshot is a point-in-time copy of session state safe to hand
// outside the engine lock.
type SessionSnapshot struct {
	ID              uint32       `json:"id"`
	Endpoint        string       `json:"endpoint"`
	State           SessionState `json:"state"`
	ConnectionID    uint32       `json:"connection_id"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActivity    time.Time    `json:"last_activity"`
	PacketsSent     uint64       `json:"packets_sent"`
	PacketsReceived uint64       `json:"packets_received"`
	PendingAcks     int          `json:"pending_acks"`
}

// snapshot copies the observable fields. Caller must hold the engine lock.
func (s *Session) snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:              s.ID,
		Endpoint:        s.Addr.String(),
		State:           s.State,
		ConnectionID:    s.ConnectionID,
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
		PacketsSent:     s.packetsSent,
		PacketsReceived: s.packetsReceived,
		PendingAcks:     s.pendingCount(),
	}
}
