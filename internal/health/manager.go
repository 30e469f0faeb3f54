// Package health implements the gateway's periodic self-checks: disk
// headroom on the account database volume, session table occupancy, and
// transport liveness. Results are held for the REST API and degraded
// checks are pushed onto the event bus for telemetry.
package health

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/util"
)

// Check levels, ordered by severity.
const (
	LevelOK       = "ok"
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

// SessionCounter reports live session occupancy. Satisfied by the
// session engine.
type SessionCounter interface {
	Count() int
}

// Listener reports the transport's bound address, nil when not
// listening. Satisfied by the UDP transport.
type Listener interface {
	LocalAddr() net.Addr
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Level     string    `json:"level"`
	Detail    string    `json:"detail"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager runs the named health checks and keeps their latest results.
type Manager struct {
	counter     SessionCounter
	listener    Listener
	dbPath      string
	maxSessions int
	bus         *events.EventBus
	logger      zerolog.Logger

	mu      sync.Mutex
	results map[string]CheckResult
}

// NewManager creates a health manager. The event bus may be nil.
func NewManager(counter SessionCounter, listener Listener, dbPath string, maxSessions int, bus *events.EventBus) *Manager {
	return &Manager{
		counter:     counter,
		listener:    listener,
		dbPath:      dbPath,
		maxSessions: maxSessions,
		bus:         bus,
		logger:      log.With().Str("component", "health").Logger(),
		results:     make(map[string]CheckResult),
	}
}

// RunChecks executes every check once. The scheduler calls this on its
// health interval.
func (m *Manager) RunChecks(ctx context.Context) {
	m.record(ctx, m.checkDiskUtilization())
	m.record(ctx, m.checkSessionOccupancy())
	m.record(ctx, m.checkTransport())
}

// Results snapshots the latest check results, ordered by name.
func (m *Manager) Results() []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CheckResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every check passed on its last run. True when
// no checks have run yet.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// record stores a result, logs transitions, and pushes degraded checks
// onto the bus so telemetry can forward them.
func (m *Manager) record(ctx context.Context, r CheckResult) {
	m.mu.Lock()
	prev, seen := m.results[r.Name]
	m.results[r.Name] = r
	m.mu.Unlock()

	if !seen || prev.Healthy != r.Healthy || prev.Level != r.Level {
		event := m.logger.Info()
		if !r.Healthy {
			event = m.logger.Warn()
		}
		event.
			Str("check", r.Name).
			Str("level", r.Level).
			Str("detail", r.Detail).
			Msg("health check")
	}

	if r.Level == LevelOK || m.bus == nil {
		return
	}
	m.bus.Emit(ctx, events.Event{
		Type:    events.EventNotifyMQTT,
		Source:  "health",
		Payload: events.NotifyMQTTPayload{Topic: "health", Data: r},
	})
}

// checkDiskUtilization watches the volume holding the account database.
// Thresholds follow the usual 80/90/95 ladder.
func (m *Manager) checkDiskUtilization() CheckResult {
	r := CheckResult{Name: "disk_utilization", CheckedAt: time.Now()}

	path := filepath.Dir(m.dbPath)
	if path == "" || path == "." {
		path = "/"
	}
	usage, err := util.GetDiskUsage(path)
	if err != nil {
		r.Healthy = false
		r.Level = LevelError
		r.Detail = fmt.Sprintf("disk usage lookup failed: %v", err)
		return r
	}

	r.Detail = fmt.Sprintf("%.1f%% used, %d GB free of %d GB", usage.UsedPercent, usage.Free, usage.Total)
	switch {
	case usage.UsedPercent >= 95:
		r.Level = LevelCritical
	case usage.UsedPercent >= 90:
		r.Level = LevelError
	case usage.UsedPercent >= 80:
		r.Level = LevelWarning
	default:
		r.Level = LevelOK
	}
	r.Healthy = usage.UsedPercent < 90
	return r
}

// checkSessionOccupancy compares the live session count against the
// configured ceiling.
func (m *Manager) checkSessionOccupancy() CheckResult {
	r := CheckResult{Name: "session_occupancy", CheckedAt: time.Now()}
	if m.counter == nil {
		r.Level = LevelError
		r.Detail = "session engine not wired"
		return r
	}

	count := m.counter.Count()
	if m.maxSessions <= 0 {
		r.Healthy = true
		r.Level = LevelOK
		r.Detail = fmt.Sprintf("%d sessions, no ceiling", count)
		return r
	}

	pct := float64(count) / float64(m.maxSessions) * 100
	r.Detail = fmt.Sprintf("%d of %d sessions (%.1f%%)", count, m.maxSessions, pct)
	switch {
	case count >= m.maxSessions:
		r.Level = LevelCritical
	case pct >= 90:
		r.Level = LevelWarning
	case pct >= 75:
		r.Level = LevelInfo
	default:
		r.Level = LevelOK
	}
	r.Healthy = count < m.maxSessions
	return r
}

// checkTransport verifies the UDP socket is bound.
func (m *Manager) checkTransport() CheckResult {
	r := CheckResult{Name: "transport", CheckedAt: time.Now()}
	if m.listener == nil {
		r.Level = LevelError
		r.Detail = "transport not wired"
		return r
	}

	addr := m.listener.LocalAddr()
	if addr == nil {
		r.Level = LevelCritical
		r.Detail = "udp socket not listening"
		return r
	}
	r.Healthy = true
	r.Level = LevelOK
	r.Detail = fmt.Sprintf("listening on %s", addr)
	return r
}
