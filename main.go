// Package main provides the entry point for VPN Guard, a WireGuard
// and OpenVPN connection manager with a firewall kill switch.
//
// Features:
//   - Profile management for WireGuard and OpenVPN configurations
//   - Connection lifecycle with tunnel liveness scanning
//   - Kill switch with Off, Auto, and Always-On modes
//   - Secure credential storage using the system keyring
//   - Connection history and network telemetry
//   - Interactive terminal interface and scripting-friendly CLI
//
// Usage:
//
//	vpn-guard [options]
//
// Environment:
//
//	WireGuard profiles need wg-quick and wg; OpenVPN profiles need
//	openvpn. Connecting and enforcing the kill switch require root.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/vpn-guard/cli"
	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/config"
	"github.com/yllada/vpn-guard/ui"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// One-shot command flags
	listProfiles   = flag.Bool("list", false, "List all VPN profiles")
	showStatus     = flag.Bool("status", false, "Show tunnel and kill-switch status")
	connectProfile = flag.String("connect", "", "Connect to a profile by name or ID")
	disconnectVPN  = flag.Bool("disconnect", false, "Disconnect the active tunnel")
	importSrc      = flag.String("import", "", "Import a WireGuard or OpenVPN config (path or URL)")
	removeProfile  = flag.String("remove", "", "Remove a profile and its saved credentials")
	updateProfile  = flag.String("update", "", "Store credentials for an OpenVPN profile")
	historyCount   = flag.Int("history", 0, "Show the last N history entries")
	killSwitchArg  = flag.String("killswitch", "", "Set kill-switch mode (off|auto|always-on|cycle)")
	releaseKS      = flag.Bool("release-kill-switch", false, "Force the kill switch off and unblock traffic")
	runDoctor      = flag.Bool("doctor", false, "Print an environment report")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	// Initialize logger with structured logging and file output
	logLevel := common.LevelInfo
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if cliMode() {
		runCLI(ctx, cfg)
		return
	}

	// Interactive terminal interface
	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	app, err := ui.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		common.LogError("Interface exited: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliMode reports whether any one-shot command flag was given.
func cliMode() bool {
	return *listProfiles || *showStatus || *connectProfile != "" || *disconnectVPN ||
		*importSrc != "" || *removeProfile != "" || *updateProfile != "" ||
		*historyCount > 0 || *killSwitchArg != "" || *releaseKS || *runDoctor
}

// runCLI dispatches one-shot command-line operations.
func runCLI(ctx context.Context, cfg *config.Config) {
	app := cli.New(cfg)

	// Check if the context was cancelled before proceeding
	select {
	case <-ctx.Done():
		common.LogInfo("Operation cancelled before execution")
		return
	default:
	}

	var err error
	switch {
	case *runDoctor:
		err = app.Doctor()
	case *listProfiles:
		err = app.ListProfiles()
	case *showStatus:
		err = app.Status()
	case *importSrc != "":
		err = app.ImportProfile(*importSrc)
	case *removeProfile != "":
		err = app.RemoveProfile(*removeProfile)
	case *updateProfile != "":
		err = app.UpdateCredentials(*updateProfile)
	case *historyCount > 0:
		err = app.History(*historyCount)
	case *killSwitchArg != "":
		err = app.KillSwitch(*killSwitchArg)
	case *releaseKS:
		err = app.ReleaseKillSwitch()
	case *connectProfile != "":
		err = app.Connect(ctx, *connectProfile)
	case *disconnectVPN:
		err = app.Disconnect(ctx)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
