package soe

import (
	"net"
	"time"
)

// SessionTable owns every active session and keeps two indexes over
// them: by session ID and by remote endpoint. At most one active session
// exists per endpoint. The table does no locking of its own; the engine
// serializes all access.
type SessionTable struct {
	sessions   map[uint32]*Session
	byEndpoint map[string]*Session
	nextID     uint32
	maxEntries int
}

// NewSessionTable creates an empty table. maxEntries of zero or less
// means unlimited.
func NewSessionTable(maxEntries int) *SessionTable {
	return &SessionTable{
		sessions:   make(map[uint32]*Session),
		byEndpoint: make(map[string]*Session),
		nextID:     1,
		maxEntries: maxEntries,
	}
}

// CreateSession registers a new session for an endpoint in the
// Connecting state and assigns it a table-unique ID. The caller must
// ensure no active session exists for the endpoint.
func (t *SessionTable) CreateSession(addr *net.UDPAddr, now time.Time) (*Session, error) {
	if t.maxEntries > 0 && len(t.sessions) >= t.maxEntries {
		return nil, ErrSessionLimit
	}

	s := newSession(t.nextID, addr, now)
	t.nextID++

	t.sessions[s.ID] = s
	t.byEndpoint[addr.String()] = s
	return s, nil
}

// GetSession looks a session up by ID.
func (t *SessionTable) GetSession(id uint32) *Session {
	return t.sessions[id]
}

// GetSessionByEndpoint looks a session up by remote address.
func (t *SessionTable) GetSessionByEndpoint(addr *net.UDPAddr) *Session {
	return t.byEndpoint[addr.String()]
}

// DestroySession removes a session from both indexes. It reports whether
// the session existed.
func (t *SessionTable) DestroySession(id uint32) bool {
	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	delete(t.sessions, id)
	delete(t.byEndpoint, s.Addr.String())
	return true
}

// Count returns the number of active sessions.
func (t *SessionTable) Count() int {
	return len(t.sessions)
}

// All returns the live sessions in no particular order. The slice is
// fresh but the sessions are the table's own; callers must hold the
// engine lock for the duration of use.
func (t *SessionTable) All() []*Session {
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot copies the observable state of every session.
func (t *SessionTable) Snapshot() []SessionSnapshot {
	out := make([]SessionSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.snapshot())
	}
	return out
}
