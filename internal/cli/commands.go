// Package cli implements the interactive operator console for GalaxyGate.
// It exposes the same management surface as the REST API for operators
// working directly on the gateway host: session inspection, account
// toggles, and galaxy availability.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/galaxygate-project/galaxygate/internal/account"
	"github.com/galaxygate-project/galaxygate/internal/events"
	"github.com/galaxygate-project/galaxygate/internal/login"
	"github.com/galaxygate-project/galaxygate/internal/soe"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	engine   *soe.Engine
	login    *login.Server
	accounts *account.Manager
	eventBus *events.EventBus
}

// NewCLI creates a new CLI handler.
func NewCLI(engine *soe.Engine, loginSrv *login.Server, accounts *account.Manager, eventBus *events.EventBus) *CLI {
	return &CLI{
		engine:   engine,
		login:    loginSrv,
		accounts: accounts,
		eventBus: eventBus,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nGalaxyGate CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("galaxygate> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		return c.cmdSessions(args)
	case "disconnect", "kick":
		return c.cmdDisconnect(args)
	case "accounts":
		return c.cmdAccounts()
	case "enable":
		return c.cmdSetAccount(args, true)
	case "disable":
		return c.cmdSetAccount(args, false)
	case "galaxy", "g":
		c.printGalaxy()
	case "online":
		c.login.SetOnline(true)
		fmt.Println("Galaxy is now accepting logins")
	case "offline":
		c.login.SetOnline(false)
		fmt.Println("Galaxy is now refusing logins")
	case "quit", "exit", "q":
		fmt.Println("Shutting down GalaxyGate...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                   GalaxyGate CLI Commands                     ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show gateway status summary               ║")
	fmt.Println("║  sessions [id]      List sessions or show one in detail       ║")
	fmt.Println("║  disconnect <id>    Force-close a session                     ║")
	fmt.Println("║  accounts           List registered accounts                  ║")
	fmt.Println("║  enable <user>      Enable an account                         ║")
	fmt.Println("║  disable <user>     Disable an account                        ║")
	fmt.Println("║  galaxy             Show the advertised cluster list          ║")
	fmt.Println("║  online             Accept new logins                         ║")
	fmt.Println("║  offline            Refuse new logins (maintenance)           ║")
	fmt.Println("║  quit               Shutdown GalaxyGate                       ║")
	fmt.Println("║  help               Show this help message                    ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays the gateway summary.
func (c *CLI) printStatus() {
	stats := c.engine.Stats()
	state := "ONLINE"
	if !c.login.Online() {
		state = "OFFLINE"
	}

	fmt.Printf("\n  Galaxy:         %s\n", state)
	fmt.Printf("  Uptime:         %s\n", c.engine.Uptime().Truncate(time.Second))
	fmt.Printf("  Sessions:       %d\n", c.engine.Count())
	fmt.Printf("  Players:        %d (peak %d)\n", c.login.Players(), c.login.PeakPlayers())
	fmt.Printf("  Datagrams:      %d in / %d out\n", stats.DatagramsIn, stats.DatagramsOut)
	fmt.Printf("  Delivered:      %d payloads\n", stats.PayloadsDelivered)
	fmt.Printf("  Retransmits:    %d\n", stats.Retransmits)
	fmt.Printf("  Malformed:      %d (%d bad checksums)\n", stats.Malformed, stats.ChecksumFailures)
	fmt.Println()
}

// cmdSessions lists all sessions or prints one in detail.
func (c *CLI) cmdSessions(args []string) error {
	if len(args) > 0 {
		id, err := parseIDArg(args)
		if err != nil {
			return err
		}
		snap, ok := c.engine.SessionSnapshotByID(id)
		if !ok {
			return fmt.Errorf("session %d not found", id)
		}
		c.printSessionDetail(snap)
		return nil
	}

	snapshots := c.engine.Snapshot()
	if len(snapshots) == 0 {
		fmt.Println("No active sessions")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Endpoint", "State", "Username", "In", "Out", "Pending", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, snap := range snapshots {
		username := "-"
		if cs, ok := c.login.Session(snap.ID); ok {
			username = cs.Username
		}
		tw.Append([]string{
			fmt.Sprintf("%d", snap.ID),
			snap.Endpoint,
			snap.State.String(),
			username,
			fmt.Sprintf("%d", snap.PacketsReceived),
			fmt.Sprintf("%d", snap.PacketsSent),
			fmt.Sprintf("%d", snap.PendingAcks),
			time.Since(snap.CreatedAt).Truncate(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

// printSessionDetail prints detailed info for a single session.
func (c *CLI) printSessionDetail(snap soe.SessionSnapshot) {
	fmt.Printf("\n  Session ID:    %d\n", snap.ID)
	fmt.Printf("  Endpoint:      %s\n", snap.Endpoint)
	fmt.Printf("  State:         %s\n", snap.State)
	fmt.Printf("  Connection ID: 0x%08X\n", snap.ConnectionID)
	fmt.Printf("  Created:       %s\n", snap.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Last Activity: %s\n", snap.LastActivity.Format(time.RFC3339))
	fmt.Printf("  Packets:       %d in / %d out\n", snap.PacketsReceived, snap.PacketsSent)
	fmt.Printf("  Pending Acks:  %d\n", snap.PendingAcks)

	if cs, ok := c.login.Session(snap.ID); ok {
		fmt.Printf("  Username:      %s\n", cs.Username)
		fmt.Printf("  Account ID:    %d\n", cs.AccountID)
		fmt.Printf("  Logged In:     %s\n", cs.LoginTime.Format(time.RFC3339))
	}
	fmt.Println()
}

func (c *CLI) cmdDisconnect(args []string) error {
	id, err := parseIDArg(args)
	if err != nil {
		return err
	}

	if err := c.engine.Disconnect(id, soe.CloseReasonDisconnect); err != nil {
		if errors.Is(err, soe.ErrSessionNotFound) {
			return fmt.Errorf("session %d not found", id)
		}
		return err
	}
	fmt.Printf("Session %d disconnected\n", id)
	return nil
}

// cmdAccounts lists registered accounts in a formatted table.
func (c *CLI) cmdAccounts() error {
	accounts, err := c.accounts.ListAccounts()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No registered accounts")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Username", "Enabled", "Logins", "Last Login", "Created"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, acct := range accounts {
		lastLogin := "-"
		if acct.LastLogin != nil {
			lastLogin = acct.LastLogin.Format("2006-01-02 15:04")
		}
		tw.Append([]string{
			fmt.Sprintf("%d", acct.ID),
			acct.Username,
			fmt.Sprintf("%v", acct.Enabled),
			fmt.Sprintf("%d", acct.LoginCount),
			lastLogin,
			acct.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdSetAccount(args []string, enabled bool) error {
	if len(args) < 1 {
		return fmt.Errorf("username required")
	}

	username := args[0]
	if err := c.accounts.SetEnabled(username, enabled); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return fmt.Errorf("account '%s' not found", username)
		}
		return err
	}

	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}
	log.Info().Str("component", "cli").Str("username", username).Bool("enabled", enabled).Msg("account toggled")
	fmt.Printf("Account '%s' %s\n", username, verb)
	return nil
}

// printGalaxy displays the advertised cluster list.
func (c *CLI) printGalaxy() {
	clusters := c.login.ClusterList()
	if len(clusters) == 0 {
		fmt.Println("No clusters configured")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Name", "Players", "Max", "Population", "Online", "Recommended", "Zone"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, cl := range clusters {
		tw.Append([]string{
			fmt.Sprintf("%d", cl.ID),
			cl.Name,
			fmt.Sprintf("%d", cl.CurrentPlayers),
			fmt.Sprintf("%d", cl.MaxPlayers),
			cl.Population.String(),
			fmt.Sprintf("%v", cl.Online),
			fmt.Sprintf("%v", cl.Recommended),
			fmt.Sprintf("%s:%d", cl.ZoneAddress, cl.ZonePort),
		})
	}

	tw.Render()
	fmt.Println()
}

func parseIDArg(args []string) (uint32, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("session ID required")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid session ID: %s", args[0])
	}
	return uint32(id), nil
}

// lineReader wraps stdin so multi-word commands survive intact.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}

func (lr *lineReader) Close() error { return nil }
