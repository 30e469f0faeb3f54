// GalaxyGate - SOE Session Gateway & Galaxy Login Service
//
// GalaxyGate terminates the SOE reliable-UDP protocol for game clients,
// authenticates accounts against a local SQLite store, advertises the
// galaxy cluster list, exposes a REST API for remote management, and
// publishes real-time telemetry via MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/api"
	"github.com/galaxygate-project/galaxygate/internal/cli"
	"github.com/galaxygate-project/galaxygate/internal/config"
	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/health"
	"github.com/galaxygate-project/galaxygate/internal/login"
	"github.com/galaxygate-project/galaxygate/internal/network"
	"github.com/galaxygate-project/galaxygate/internal/scheduler"
	"github.com/galaxygate-project/galaxygate/internal/soe"
	"github.com/galaxygate-project/galaxygate/internal/telemetry"
	"github.com/galaxygate-project/galaxygate/internal/util"
)

const (
	AppName    = "GalaxyGate"
	AppVersion = "1.0.0"
	Banner     = `
   ______      __                  ______      __
  / ____/___ _/ /___ __  ____  __ / ____/___ _/ /____
 / / __/ __ '/ / __ '/ |/_/ / / // / __/ __ '/ __/ _ \
/ /_/ / /_/ / / /_/ />  </ /_/ // /_/ / /_/ / /_/  __/
\____/\__,_/_/\__,_/_/|_|\__, / \____/\__,_/\__/\___/
                        /____/  v%s
 SOE Session Gateway & Galaxy Login Service
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	logLevel := flag.String("log-level", "", "override the configured log level (trace|debug|info|warn|error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}

	// Print banner
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting GalaxyGate")

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logging := cfg.GetLogging()
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}
	if *logLevel != "" {
		logCfg.Level = *logLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Validate configuration
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	// Log system info
	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()

	// Account store and manager
	accountsCfg := cfg.GetAccounts()
	store, err := account.NewStore(accountsCfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open account database")
	}
	accounts := account.NewManager(store, accountsCfg.AutoCreate, accountsCfg.MaxCharacters, eventBus)
	if accountsCfg.AutoCreate {
		if err := accounts.EnsureTestAccounts(); err != nil {
			log.Warn().Err(err).Msg("failed to seed test accounts")
		}
	}

	// Login server (game-level protocol on top of the session layer)
	loginServer := login.NewServer(accounts, cfg.GetGalaxy(), eventBus)

	// SOE session engine. The login server is built first because the
	// engine takes its handler at construction; the reverse edge is
	// attached just below.
	serverCfg := cfg.GetServer()
	protoCfg := cfg.GetProtocol()
	engine := soe.NewEngine(soe.Config{
		CRCSeed:          protoCfg.CRCSeed,
		MaxPacketSize:    protoCfg.MaxPacketSize,
		RetransmitDelay:  time.Duration(protoCfg.RetransmitDelayMs) * time.Millisecond,
		MaxRetransmits:   protoCfg.MaxRetransmits,
		IdleTimeout:      time.Duration(protoCfg.IdleTimeoutSec) * time.Second,
		FragmentTimeout:  time.Duration(protoCfg.FragmentTimeoutSec) * time.Second,
		OutOfOrderWindow: protoCfg.OutOfOrderWindow,
		MaxSessions:      serverCfg.MaxSessions,
	}, nil, loginServer, eventBus)
	loginServer.Attach(engine)

	// UDP transport feeding the engine
	transport := network.NewUDPTransport(serverCfg.BindAddress, serverCfg.LoginPort, engine)
	engine.SetTransport(transport)

	// Health check manager
	healthMgr := health.NewManager(engine, transport, accountsCfg.DatabasePath, serverCfg.MaxSessions, eventBus)

	// REST API
	apiCfg := cfg.GetAPI()
	apiServer := api.NewServer(apiCfg, serverCfg.Name, AppVersion, api.Deps{
		Engine:    engine,
		Login:     loginServer,
		Accounts:  accounts,
		Health:    healthMgr,
		Transport: transport,
	})

	// MQTT telemetry
	publisher, err := telemetry.NewPublisher(cfg.GetMQTT(), serverCfg.Name, AppVersion, eventBus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure MQTT telemetry")
	}

	// Scheduler drives the protocol tick and the periodic jobs
	sched := scheduler.NewScheduler()
	sched.AddTask("engine_tick", time.Duration(protoCfg.TickIntervalMs)*time.Millisecond, func(ctx context.Context) {
		engine.Tick()
	})
	sched.AddTask("health_checks", 30*time.Second, func(ctx context.Context) {
		healthMgr.RunChecks(ctx)
	})
	sched.AddTask("telemetry_status", 60*time.Second, func(ctx context.Context) {
		publisher.PublishStatus(statusSnapshot(engine, transport, loginServer))
	})

	// Interactive CLI
	cliHandler := cli.NewCLI(engine, loginServer, accounts, eventBus)

	// The CLI quit command requests shutdown through the event bus.
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, ev events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: UDP transport (the gateway's reason to exist, bind failure is fatal)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", serverCfg.LoginPort).Msg("starting UDP transport")
		if err := startWithRetry(ctx, "UDP transport", transport.Start, 15); err != nil {
			log.Error().Err(err).Msg("UDP transport failed after retries")
			errCh <- fmt.Errorf("udp transport: %w", err)
		}
	}()

	// Task 2: REST API server (non-fatal: the gateway serves clients without it)
	if apiCfg.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", apiCfg.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry (non-fatal: broker may come up later, auto-reconnect covers it)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := publisher.Start(); err != nil {
			log.Warn().Err(err).Msg("MQTT telemetry failed to start (non-fatal)")
		}
	}()

	// Task 4: Scheduler (returns after launching its task loops)
	log.Info().Msg("starting task scheduler")
	sched.Start(ctx)

	// Task 5: Interactive CLI. Not tracked by the WaitGroup because the
	// stdin read cannot be interrupted on shutdown.
	go func() {
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested via CLI")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Stop periodic work first, then notify clients while the socket is
	// still open, then tear the socket down.
	sched.Stop()
	engine.Shutdown()
	cancel()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	// Announce shutdown and disconnect from the broker
	publisher.Stop()

	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close account database")
	}

	// Stop the event bus last so shutdown events still reach subscribers
	eventBus.Stop()

	log.Info().Msg("GalaxyGate stopped")
}

// statusSnapshot builds the periodic telemetry heartbeat payload.
func statusSnapshot(engine *soe.Engine, transport *network.UDPTransport, loginServer *login.Server) interface{} {
	return map[string]interface{}{
		"uptime_seconds": int64(engine.Uptime().Seconds()),
		"sessions":       engine.Count(),
		"players":        loginServer.Players(),
		"peak_players":   loginServer.PeakPlayers(),
		"galaxy_online":  loginServer.Online(),
		"engine":         engine.Stats(),
		"transport":      transport.Stats(),
	}
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Uses a fixed 3-second interval between retries, long enough
// for the OS to release sockets after a force-killed predecessor.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
