package health

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxygate-project/galaxygate/internal/events"
)

type stubCounter struct{ count int }

func (s *stubCounter) Count() int { return s.count }

type stubListener struct{ addr net.Addr }

func (s *stubListener) LocalAddr() net.Addr { return s.addr }

func boundAddr(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:44453")
	require.NoError(t, err)
	return addr
}

func newTestManager(t *testing.T, count, max int, addr net.Addr) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	return NewManager(&stubCounter{count: count}, &stubListener{addr: addr}, dbPath, max, nil)
}

func find(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("check %q not found in %v", name, results)
	return CheckResult{}
}

func TestRunChecksAllHealthy(t *testing.T) {
	m := newTestManager(t, 10, 1000, boundAddr(t))

	m.RunChecks(context.Background())

	results := m.Results()
	require.Len(t, results, 3)
	assert.True(t, m.Healthy())

	occupancy := find(t, results, "session_occupancy")
	assert.True(t, occupancy.Healthy)
	assert.Equal(t, LevelOK, occupancy.Level)
	assert.Contains(t, occupancy.Detail, "10 of 1000")

	transport := find(t, results, "transport")
	assert.True(t, transport.Healthy)
	assert.Contains(t, transport.Detail, "127.0.0.1:44453")
}

func TestSessionOccupancyLevels(t *testing.T) {
	cases := []struct {
		name    string
		count   int
		max     int
		level   string
		healthy bool
	}{
		{"idle", 0, 100, LevelOK, true},
		{"three quarters", 75, 100, LevelInfo, true},
		{"near ceiling", 90, 100, LevelWarning, true},
		{"at ceiling", 100, 100, LevelCritical, false},
		{"no ceiling", 500, 0, LevelOK, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, tc.count, tc.max, boundAddr(t))
			r := m.checkSessionOccupancy()
			assert.Equal(t, tc.level, r.Level)
			assert.Equal(t, tc.healthy, r.Healthy)
		})
	}
}

func TestTransportNotListening(t *testing.T) {
	m := newTestManager(t, 0, 100, nil)

	m.RunChecks(context.Background())

	r := find(t, m.Results(), "transport")
	assert.False(t, r.Healthy)
	assert.Equal(t, LevelCritical, r.Level)
	assert.False(t, m.Healthy())
}

func TestUnwiredDependenciesReportError(t *testing.T) {
	m := NewManager(nil, nil, filepath.Join(t.TempDir(), "accounts.db"), 100, nil)

	m.RunChecks(context.Background())

	occupancy := find(t, m.Results(), "session_occupancy")
	assert.False(t, occupancy.Healthy)
	assert.Equal(t, LevelError, occupancy.Level)

	transport := find(t, m.Results(), "transport")
	assert.False(t, transport.Healthy)
	assert.Equal(t, LevelError, transport.Level)
}

func TestDegradedCheckEmitsNotify(t *testing.T) {
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	notifications := make(chan events.NotifyMQTTPayload, 8)
	bus.Subscribe(events.EventNotifyMQTT, "test", func(ctx context.Context, ev events.Event) error {
		notifications <- ev.Payload.(events.NotifyMQTTPayload)
		return nil
	})

	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	m := NewManager(&stubCounter{count: 100}, &stubListener{addr: boundAddr(t)}, dbPath, 100, bus)

	m.RunChecks(context.Background())

	// The disk check may also notify on a full test host; scan for the
	// occupancy result.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-notifications:
			assert.Equal(t, "health", n.Topic)
			result, ok := n.Data.(CheckResult)
			require.True(t, ok)
			if result.Name != "session_occupancy" {
				continue
			}
			assert.Equal(t, LevelCritical, result.Level)
			return
		case <-deadline:
			t.Fatal("timed out waiting for occupancy notification")
		}
	}
}

func TestHealthyBeforeFirstRun(t *testing.T) {
	m := newTestManager(t, 0, 100, boundAddr(t))
	assert.True(t, m.Healthy())
	assert.Empty(t, m.Results())
}
