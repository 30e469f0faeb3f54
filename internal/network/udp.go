// Package network owns the UDP socket: binding with SO_REUSEADDR,
// the blocking read loop that feeds datagrams to the session layer,
// and outbound sends with traffic counters.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// readBufferSize is generously above the largest negotiable SOE packet
// so oversized datagrams surface as protocol errors, not silent splits.
const readBufferSize = 2048

// DatagramHandler consumes inbound datagrams. Errors classify why a
// datagram was dropped; they are logged here and never escalate.
type DatagramHandler interface {
	ProcessDatagram(data []byte, addr *net.UDPAddr) error
}

// TransportStats are cumulative socket counters.
type TransportStats struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsSent     uint64 `json:"packets_sent"`
	BytesReceived   uint64 `json:"bytes_received"`
	BytesSent       uint64 `json:"bytes_sent"`
	Dropped         uint64 `json:"dropped"`
	ReadErrors      uint64 `json:"read_errors"`
	SendErrors      uint64 `json:"send_errors"`
}

// UDPTransport is the gateway's UDP endpoint. Start binds and runs the
// read loop until the context is cancelled; Send may be called from any
// goroutine once the socket is bound.
type UDPTransport struct {
	bindAddress string
	port        int
	handler     DatagramHandler
	logger      zerolog.Logger

	mu   sync.RWMutex
	conn *net.UDPConn

	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
	sendErrors atomic.Uint64
}

// NewUDPTransport creates a transport bound to bindAddress:port once
// Start is called.
func NewUDPTransport(bindAddress string, port int, handler DatagramHandler) *UDPTransport {
	return &UDPTransport{
		bindAddress: bindAddress,
		port:        port,
		handler:     handler,
		logger:      log.With().Str("component", "network").Logger(),
	}
}

// Start binds the socket and blocks in the read loop until the context
// is cancelled. Callers run it in its own goroutine.
func (t *UDPTransport) Start(ctx context.Context) error {
	addr := net.JoinHostPort(t.bindAddress, fmt.Sprintf("%d", t.port))

	// SO_REUSEADDR lets the gateway rebind immediately after a restart
	// while the old socket lingers in TIME_WAIT.
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", addr, err)
	}

	conn := pc.(*net.UDPConn)
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info().Str("address", addr).Msg("UDP transport listening")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				t.logger.Info().Msg("UDP transport stopping")
				return nil
			default:
				t.readErrors.Add(1)
				t.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
		}
		if n == 0 {
			continue
		}

		t.packetsIn.Add(1)
		t.bytesIn.Add(uint64(n))

		// The session layer copies anything it keeps, so the read
		// buffer is reused across iterations.
		if err := t.handler.ProcessDatagram(buf[:n], remoteAddr); err != nil {
			t.dropped.Add(1)
			t.logger.Debug().
				Err(err).
				Str("remote", remoteAddr.String()).
				Int("size", n).
				Msg("datagram dropped")
		}
	}
}

// Send writes one datagram to a remote endpoint.
func (t *UDPTransport) Send(data []byte, addr *net.UDPAddr) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("udp transport is not started")
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		t.sendErrors.Add(1)
		return fmt.Errorf("failed to send %d bytes to %s: %w", len(data), addr, err)
	}

	t.packetsOut.Add(1)
	t.bytesOut.Add(uint64(n))
	return nil
}

// Stop closes the socket, unblocking the read loop.
func (t *UDPTransport) Stop() error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// LocalAddr returns the bound address, or nil before Start.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Stats returns a snapshot of the traffic counters.
func (t *UDPTransport) Stats() TransportStats {
	return TransportStats{
		PacketsReceived: t.packetsIn.Load(),
		PacketsSent:     t.packetsOut.Load(),
		BytesReceived:   t.bytesIn.Load(),
		BytesSent:       t.bytesOut.Load(),
		Dropped:         t.dropped.Load(),
		ReadErrors:      t.readErrors.Load(),
		SendErrors:      t.sendErrors.Load(),
	}
}
