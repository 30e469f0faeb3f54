package login

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/config"
	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/protocol"
	"github.com/galaxygate-project/galaxygate/internal/soe"
)

// sessionKeyBytes is the length of the random key minted for the zone
// handoff. It is sent to the client hex-encoded.
const sessionKeyBytes = 16

// Gateway is the slice of the session engine the login server uses to
// reply. It is attached after construction because the engine takes its
// handler as a constructor argument.
type Gateway interface {
	SendReliable(sessionID uint32, channel protocol.Channel, payload []byte) error
}

// ClientSession describes one authenticated client for the API and CLI.
type ClientSession struct {
	SessionID uint32    `json:"session_id"`
	AccountID uint32    `json:"account_id"`
	Username  string    `json:"username"`
	LoginTime time.Time `json:"login_time"`
}

type clientState struct {
	accountID uint32
	username  string
	loginAt   time.Time
}

// Server is the game-level login handler. It authenticates clients against
// the account store, advertises the galaxy cluster list, and tracks which
// sessions have logged in. It implements the session engine's Handler
// interface.
type Server struct {
	accounts *account.Manager
	bus      *events.EventBus
	logger   zerolog.Logger

	mu       sync.Mutex
	gateway  Gateway
	clusters []config.ClusterConfig
	online   bool
	players  map[uint32]*clientState
	peak     uint32
}

// NewServer creates a login server over the given account manager and
// galaxy configuration. The event bus may be nil. Attach must be called
// with the session engine before traffic arrives.
func NewServer(accounts *account.Manager, galaxy config.GalaxyConfig, bus *events.EventBus) *Server {
	clusters := make([]config.ClusterConfig, len(galaxy.Clusters))
	copy(clusters, galaxy.Clusters)
	return &Server{
		accounts: accounts,
		bus:      bus,
		logger:   log.With().Str("component", "login").Logger(),
		clusters: clusters,
		online:   true,
		players:  make(map[uint32]*clientState),
	}
}

// Attach wires the session engine in. Until attached, inbound messages are
// processed but replies are dropped with a warning.
func (s *Server) Attach(gw Gateway) {
	s.mu.Lock()
	s.gateway = gw
	s.mu.Unlock()
}

// OnSessionEstablished is called when a transport session finishes its
// handshake. Login state is created lazily on the first credential message.
func (s *Server) OnSessionEstablished(sessionID uint32) {
	s.logger.Debug().Uint32("session_id", sessionID).Msg("session ready for login")
}

// OnMessage dispatches one reliable game message.
func (s *Server) OnMessage(sessionID uint32, channel protocol.Channel, payload []byte) {
	opcode, operands, r, err := SplitGameMessage(payload)
	if err != nil {
		s.logger.Warn().Err(err).
			Uint32("session_id", sessionID).
			Int("bytes", len(payload)).
			Msg("unreadable game message")
		return
	}
	s.logger.Debug().
		Uint32("session_id", sessionID).
		Str("opcode", opcode.String()).
		Str("channel", channel.String()).
		Uint16("operands", operands).
		Msg("game message")

	switch opcode {
	case OpClientID:
		s.handleClientID(sessionID, r)
	case OpEnumCluster, OpClusterStatus:
		s.handleClusterList(sessionID, opcode)
	default:
		s.logger.Warn().
			Uint32("session_id", sessionID).
			Str("opcode", opcode.String()).
			Msg("unhandled game opcode")
	}
}

// OnSessionClosed drops any login state held for the session.
func (s *Server) OnSessionClosed(sessionID uint32, reason soe.CloseReason) {
	s.mu.Lock()
	state, authed := s.players[sessionID]
	delete(s.players, sessionID)
	current := uint32(len(s.players))
	peak := s.peak
	s.mu.Unlock()

	if !authed {
		s.logger.Debug().Uint32("session_id", sessionID).Str("reason", reason.String()).Msg("session closed before login")
		return
	}
	s.logger.Info().
		Uint32("session_id", sessionID).
		Str("username", state.username).
		Str("reason", reason.String()).
		Msg("player disconnected")
	s.emit(events.EventPlayerCount, events.PlayerCountPayload{Current: current, Peak: peak})
}

func (s *Server) handleClientID(sessionID uint32, r *protocol.PacketReader) {
	req, err := ParseClientIDRequest(r)
	if err != nil {
		s.logger.Warn().Err(err).Uint32("session_id", sessionID).Msg("malformed login request")
		s.send(sessionID, BuildLoginError(account.LoginInvalidCredentials, "malformed login request"))
		return
	}

	s.emit(events.EventLoginAttempt, events.LoginAttemptPayload{
		SessionID:     sessionID,
		Username:      req.Username,
		ClientVersion: req.ClientVersion,
	})

	result, acc := s.screen(req)
	if result != account.LoginSuccess {
		var accountID uint32
		if acc != nil {
			accountID = uint32(acc.ID)
		}
		s.logger.Warn().
			Uint32("session_id", sessionID).
			Str("username", req.Username).
			Str("result", result.String()).
			Msg("login rejected")
		s.send(sessionID, BuildLoginError(result, loginFailureReason(result)))
		s.emit(events.EventLoginFailure, events.LoginResultPayload{
			SessionID: sessionID,
			Username:  req.Username,
			AccountID: accountID,
			Result:    result.String(),
		})
		return
	}

	key, err := newSessionKey()
	if err != nil {
		s.logger.Error().Err(err).Uint32("session_id", sessionID).Msg("failed to mint session key")
		s.send(sessionID, BuildLoginError(account.LoginInvalidCredentials, "login failed"))
		return
	}

	s.mu.Lock()
	s.players[sessionID] = &clientState{
		accountID: uint32(acc.ID),
		username:  acc.Username,
		loginAt:   time.Now(),
	}
	current := uint32(len(s.players))
	if current > s.peak {
		s.peak = current
	}
	peak := s.peak
	s.mu.Unlock()

	s.logger.Info().
		Uint32("session_id", sessionID).
		Str("username", acc.Username).
		Int64("account_id", acc.ID).
		Str("client_version", req.ClientVersion).
		Msg("login accepted")
	s.send(sessionID, BuildClientToken(uint32(acc.ID), key, acc.Username))
	s.emit(events.EventLoginSuccess, events.LoginResultPayload{
		SessionID: sessionID,
		Username:  acc.Username,
		AccountID: uint32(acc.ID),
		Result:    result.String(),
	})
	s.emit(events.EventPlayerCount, events.PlayerCountPayload{Current: current, Peak: peak})
}

// screen applies the galaxy-wide gates before touching the account store:
// a galaxy marked offline rejects everyone with a maintenance result, and a
// galaxy at its advertised capacity rejects with server-full.
func (s *Server) screen(req *ClientIDRequest) (account.LoginResult, *account.Account) {
	s.mu.Lock()
	online := s.online
	capacity := 0
	for _, c := range s.clusters {
		capacity += c.MaxPlayers
	}
	full := capacity > 0 && len(s.players) >= capacity
	s.mu.Unlock()

	if !online {
		return account.LoginMaintenance, nil
	}
	if full {
		return account.LoginServerFull, nil
	}
	return s.accounts.Authenticate(req.Username, req.Password)
}

func (s *Server) handleClusterList(sessionID uint32, opcode GameOpcode) {
	entries := s.ClusterList()
	s.send(sessionID, BuildClusterStatus(entries))
	s.logger.Debug().
		Uint32("session_id", sessionID).
		Str("opcode", opcode.String()).
		Int("clusters", len(entries)).
		Msg("cluster list sent")
}

// ClusterList snapshots the advertised galaxy clusters with live player
// counts and population levels.
func (s *Server) ClusterList() []ClusterEntry {
	maxChars := uint32(s.accounts.MaxCharacters())

	s.mu.Lock()
	defer s.mu.Unlock()
	current := uint32(len(s.players))
	entries := make([]ClusterEntry, 0, len(s.clusters))
	for _, c := range s.clusters {
		entries = append(entries, ClusterEntry{
			ID:             c.ID,
			Name:           c.Name,
			CurrentPlayers: current,
			MaxPlayers:     uint32(c.MaxPlayers),
			Online:         s.online && c.Online,
			Recommended:    c.Recommended,
			ZoneAddress:    c.ZoneAddress,
			ZonePort:       uint16(c.ZonePort),
			Population:     populationFor(int(current), c.MaxPlayers),
			MaxCharacters:  maxChars,
			Distance:       0,
		})
	}
	return entries
}

// SetOnline toggles whether the galaxy is advertised as open. Turning it
// off rejects new logins with a maintenance result; existing sessions are
// left alone.
func (s *Server) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()
	if !changed {
		return
	}
	s.logger.Info().Bool("online", online).Msg("galaxy advertisement changed")
	for _, e := range s.ClusterList() {
		s.emit(events.EventClusterStatus, events.ClusterStatusPayload{
			ClusterID:      e.ID,
			Name:           e.Name,
			CurrentPlayers: e.CurrentPlayers,
			MaxPlayers:     e.MaxPlayers,
			Population:     e.Population,
		})
	}
}

// Online reports whether the galaxy is advertised as open.
func (s *Server) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Players returns the number of authenticated sessions.
func (s *Server) Players() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// PeakPlayers returns the highest authenticated session count seen.
func (s *Server) PeakPlayers() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Sessions snapshots the authenticated clients, ordered by session ID.
func (s *Server) Sessions() []ClientSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClientSession, 0, len(s.players))
	for id, state := range s.players {
		out = append(out, ClientSession{
			SessionID: id,
			AccountID: state.accountID,
			Username:  state.username,
			LoginTime: state.loginAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Session returns the login state for one session, if it authenticated.
func (s *Server) Session(sessionID uint32) (ClientSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.players[sessionID]
	if !ok {
		return ClientSession{}, false
	}
	return ClientSession{
		SessionID: sessionID,
		AccountID: state.accountID,
		Username:  state.username,
		LoginTime: state.loginAt,
	}, true
}

func (s *Server) send(sessionID uint32, payload []byte) {
	s.mu.Lock()
	gw := s.gateway
	s.mu.Unlock()
	if gw == nil {
		s.logger.Warn().Uint32("session_id", sessionID).Msg("no gateway attached, reply dropped")
		return
	}
	if err := gw.SendReliable(sessionID, protocol.ChannelA, payload); err != nil {
		s.logger.Warn().Err(err).Uint32("session_id", sessionID).Msg("failed to send login reply")
	}
}

func (s *Server) emit(t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "login",
		Payload: payload,
	})
}

// loginFailureReason maps a login result to the text shown to the client.
func loginFailureReason(result account.LoginResult) string {
	switch result {
	case account.LoginAccountDisabled:
		return "account is disabled"
	case account.LoginServerFull:
		return "galaxy is full, try again later"
	case account.LoginMaintenance:
		return "galaxy is down for maintenance"
	default:
		return "invalid username or password"
	}
}

// populationFor maps a player count against capacity to the population
// level advertised in the cluster list.
func populationFor(current, max int) events.PopulationLevel {
	if max <= 0 || current <= 0 {
		return events.PopulationVeryLight
	}
	if current >= max {
		return events.PopulationFull
	}
	switch ratio := float64(current) / float64(max); {
	case ratio >= 0.9:
		return events.PopulationExtremelyHeavy
	case ratio >= 0.75:
		return events.PopulationVeryHeavy
	case ratio >= 0.5:
		return events.PopulationHeavy
	case ratio >= 0.25:
		return events.PopulationMedium
	case ratio >= 0.1:
		return events.PopulationLight
	default:
		return events.PopulationVeryLight
	}
}

// newSessionKey mints the random key handed to a client for the zone
// server handoff.
func newSessionKey() (string, error) {
	key := make([]byte, sessionKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate session key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
