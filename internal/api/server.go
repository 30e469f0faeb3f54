package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/dashboard"
	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/config"
	"github.com/galaxygate-project/galaxygate/internal/health"
	"github.com/galaxygate-project/galaxygate/internal/login"
	intnet "github.com/galaxygate-project/galaxygate/internal/network"
	"github.com/galaxygate-project/galaxygate/internal/soe"
	"github.com/galaxygate-project/galaxygate/internal/util"
)

// Deps bundles the gateway components the API serves views of.
type Deps struct {
	Engine    *soe.Engine
	Login     *login.Server
	Accounts  *account.Manager
	Health    *health.Manager
	Transport *intnet.UDPTransport
}

// Server is the REST API server.
type Server struct {
	cfg     config.APIConfig
	name    string
	version string
	deps    Deps
	logger  zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. Start opens the listener.
func NewServer(cfg config.APIConfig, serverName, version string, deps Deps) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     cfg,
		name:    serverName,
		version: version,
		deps:    deps,
		logger:  log.With().Str("component", "api").Logger(),
	}
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.cfg.TLSEnabled {
		if err := s.ensureCertificate(); err != nil {
			return err
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	// SO_REUSEADDR lets the API reclaim its port right after a restart.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind API listener: %w", err)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.cfg.TLSEnabled).Msg("REST API listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.cfg.TLSEnabled {
		err = s.httpServer.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// ensureCertificate generates a self-signed certificate when TLS is on
// but no certificate exists yet.
func (s *Server) ensureCertificate() error {
	if util.FileExists(s.cfg.TLSCertFile) && util.FileExists(s.cfg.TLSKeyFile) {
		return nil
	}
	if dir := filepath.Dir(s.cfg.TLSCertFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create certificate directory: %w", err)
		}
	}
	return util.GenerateSelfSignedCert(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", s.handlePing)
		v1.GET("/status", s.handleStatus)
		v1.GET("/health", s.handleHealth)
		v1.GET("/system", s.handleSystem)

		v1.GET("/sessions", s.handleSessions)
		v1.GET("/sessions/:id", s.handleSession)
		v1.POST("/sessions/:id/disconnect", s.handleDisconnectSession)

		v1.GET("/accounts", s.handleAccounts)
		v1.POST("/accounts/:username/active", s.handleSetAccountActive)

		v1.GET("/galaxy", s.handleGalaxy)
		v1.POST("/galaxy/online", s.handleSetGalaxyOnline)
	}

	// Any non-API route gets the embedded status page, so the gateway
	// serves both API and UI on one port.
	indexHTML, err := dashboard.DistFS.ReadFile("dist/index.html")
	if err != nil {
		s.logger.Warn().Err(err).Msg("status page missing from embedded assets")
	}
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") || indexHTML == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})

	return router
}
