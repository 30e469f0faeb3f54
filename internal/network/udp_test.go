package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler copies every datagram and sends it straight back.
type echoHandler struct {
	transport *UDPTransport

	mu  sync.Mutex
	got [][]byte
}

func (h *echoHandler) ProcessDatagram(data []byte, addr *net.UDPAddr) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	h.mu.Lock()
	h.got = append(h.got, cp)
	h.mu.Unlock()

	return h.transport.Send(cp, addr)
}

func (h *echoHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func TestUDPTransportRoundTrip(t *testing.T) {
	handler := &echoHandler{}
	tr := NewUDPTransport("127.0.0.1", 0, handler)
	handler.transport = tr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()

	require.Eventually(t, func() bool { return tr.LocalAddr() != nil },
		2*time.Second, 10*time.Millisecond, "transport never bound")

	client, err := net.DialUDP("udp4", nil, tr.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	payload := []byte{0x06, 0x00, 0xA4, 0x74}
	_, err = client.Write(payload)
	require.NoError(t, err)

	// The handler sees the datagram and echoes it back.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	require.Equal(t, 1, handler.count())
	handler.mu.Lock()
	assert.Equal(t, payload, handler.got[0])
	handler.mu.Unlock()

	stats := tr.Stats()
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.PacketsSent)
	assert.Equal(t, uint64(len(payload)), stats.BytesReceived)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop on context cancel")
	}
}

func TestUDPTransportSendBeforeStart(t *testing.T) {
	tr := NewUDPTransport("127.0.0.1", 0, &echoHandler{})

	err := tr.Send([]byte{0x01}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}
