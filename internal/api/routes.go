package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/soe"
	"github.com/galaxygate-project/galaxygate/internal/util"
)

// sessionView joins a transport session snapshot with its login state.
type sessionView struct {
	soe.SessionSnapshot
	Username  string `json:"username,omitempty"`
	AccountID uint32 `json:"account_id,omitempty"`
}

// handlePing is a bare liveness probe.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// handleStatus returns the gateway-wide status snapshot.
func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"server":  s.name,
		"version": s.version,
	}
	if s.deps.Engine != nil {
		resp["uptime_seconds"] = int64(s.deps.Engine.Uptime().Seconds())
		resp["sessions"] = s.deps.Engine.Count()
		resp["engine"] = s.deps.Engine.Stats()
	}
	if s.deps.Login != nil {
		resp["players"] = s.deps.Login.Players()
		resp["peak_players"] = s.deps.Login.PeakPlayers()
		resp["galaxy_online"] = s.deps.Login.Online()
	}
	if s.deps.Transport != nil {
		resp["transport"] = s.deps.Transport.Stats()
	}
	if s.deps.Health != nil {
		resp["healthy"] = s.deps.Health.Healthy()
	}
	c.JSON(http.StatusOK, resp)
}

// handleHealth reports the named health checks. Returns 503 when any
// check is failing so load balancers can probe this endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks not wired"})
		return
	}
	status := http.StatusOK
	if !s.deps.Health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": s.deps.Health.Healthy(),
		"checks":  s.deps.Health.Results(),
	})
}

// handleSystem returns host-level metrics.
func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{"host": util.GetSystemInfo()}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if disk, err := util.GetDiskUsage("/"); err == nil {
		resp["disk"] = disk
	}
	c.JSON(http.StatusOK, resp)
}

// handleSessions lists every transport session with login state merged in.
func (s *Server) handleSessions(c *gin.Context) {
	snapshots := s.deps.Engine.Snapshot()
	sessions := make([]sessionView, 0, len(snapshots))
	for _, snap := range snapshots {
		view := sessionView{SessionSnapshot: snap}
		if s.deps.Login != nil {
			if cs, ok := s.deps.Login.Session(snap.ID); ok {
				view.Username = cs.Username
				view.AccountID = cs.AccountID
			}
		}
		sessions = append(sessions, view)
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleSession returns one session by ID.
func (s *Server) handleSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	snap, found := s.deps.Engine.SessionSnapshotByID(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	view := sessionView{SessionSnapshot: snap}
	if s.deps.Login != nil {
		if cs, ok := s.deps.Login.Session(id); ok {
			view.Username = cs.Username
			view.AccountID = cs.AccountID
		}
	}
	c.JSON(http.StatusOK, view)
}

// handleDisconnectSession force-closes a session.
func (s *Server) handleDisconnectSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := s.deps.Engine.Disconnect(id, soe.CloseReasonDisconnect); err != nil {
		if errors.Is(err, soe.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Uint32("session_id", id).Str("client_ip", c.ClientIP()).Msg("session disconnected via API")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected", "session_id": id})
}

// handleAccounts lists registered accounts.
func (s *Server) handleAccounts(c *gin.Context) {
	accounts, err := s.deps.Accounts.ListAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// handleSetAccountActive enables or disables an account.
func (s *Server) handleSetAccountActive(c *gin.Context) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"active\": true|false}"})
		return
	}

	username := c.Param("username")
	if err := s.deps.Accounts.SetEnabled(username, *body.Active); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Str("username", username).Bool("active", *body.Active).Msg("account toggled via API")
	c.JSON(http.StatusOK, gin.H{"username": username, "active": *body.Active})
}

// handleGalaxy returns the advertised cluster list with live population.
func (s *Server) handleGalaxy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online":   s.deps.Login.Online(),
		"players":  s.deps.Login.Players(),
		"clusters": s.deps.Login.ClusterList(),
	})
}

// handleSetGalaxyOnline toggles whether new logins are accepted.
func (s *Server) handleSetGalaxyOnline(c *gin.Context) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Online == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"online\": true|false}"})
		return
	}
	s.deps.Login.SetOnline(*body.Online)
	s.logger.Info().Bool("online", *body.Online).Str("client_ip", c.ClientIP()).Msg("galaxy toggled via API")
	c.JSON(http.StatusOK, gin.H{"online": *body.Online})
}

// sessionIDParam parses the :id path parameter, writing the error
// response itself on failure.
func sessionIDParam(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return uint32(id), true
}
