// Package cli implements the one-shot command surface. Each command
// builds only the pieces it needs: read-only commands never touch the
// firewall and never need root, and nothing here assumes the tunnel it
// operates on was started by this process.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/config"
	"github.com/yllada/vpn-guard/history"
	"github.com/yllada/vpn-guard/keyring"
	"github.com/yllada/vpn-guard/killswitch"
	"github.com/yllada/vpn-guard/vpn"
)

// CLI drives the command-line operations.
type CLI struct {
	cfg *config.Config
}

// New creates a CLI bound to the loaded configuration.
func New(cfg *config.Config) *CLI {
	return &CLI{cfg: cfg}
}

// ListProfiles prints all profiles with their live status.
func (c *CLI) ListProfiles() error {
	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}

	profiles := pm.List()
	if len(profiles) == 0 {
		fmt.Println("No profiles found. Import one with --import <path|url>.")
		return nil
	}

	active, _ := vpn.ActiveProfile(pm)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROTO\tLOCATION\tSTATUS\tLAST USED")
	for _, p := range profiles {
		id := p.ID
		if len(id) > 8 {
			id = id[:8]
		}
		status := "-"
		if active != nil && active.ID == p.ID {
			status = "up"
		}
		lastUsed := "never"
		if !p.LastUsed.IsZero() {
			lastUsed = p.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, p.Name, p.Protocol, p.Location, status, lastUsed)
	}
	return w.Flush()
}

// Status prints the live tunnel state and the persisted kill-switch
// record.
func (c *CLI) Status() error {
	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}

	profile, snap := vpn.ActiveProfile(pm)
	if profile == nil {
		fmt.Println("Not connected.")
	} else {
		d := snap.Details
		handshake := "-"
		if !d.LastHandshake.IsZero() {
			handshake = formatDuration(time.Since(d.LastHandshake)) + " ago"
		}
		ip := d.InternalIP
		if ip == "" {
			ip = "-"
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tINTERFACE\tINTERNAL IP\tHANDSHAKE\tTRANSFER")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			profile.Name, d.Interface, ip, handshake,
			fmt.Sprintf("%s rx / %s tx", common.FormatBytes(d.RxBytes), common.FormatBytes(d.TxBytes)))
		w.Flush()
	}

	// Read the record directly; building the engine here would
	// trigger startup enforcement.
	dir, err := common.GetConfigDir()
	if err != nil {
		return err
	}
	store, err := killswitch.NewFileStore(dir)
	if err != nil {
		return err
	}
	record, err := store.Load()
	if err != nil {
		return common.WrapError(err, "kill-switch record unreadable")
	}
	if record == nil {
		fmt.Printf("Kill switch: %s (%s)\n", killswitch.ModeOff, killswitch.StateDisabled)
	} else {
		fmt.Printf("Kill switch: %s (%s)\n", record.Mode, record.State)
	}
	return nil
}

// Connect brings up the tunnel for the named profile and waits until
// the connection settles. For OpenVPN the process stays in the
// foreground supervising the tunnel until ctx is cancelled.
func (c *CLI) Connect(ctx context.Context, nameOrID string) error {
	if err := requireRoot("connect"); err != nil {
		return err
	}

	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}
	profile := findProfile(pm, nameOrID)
	if profile == nil {
		return common.WrapError(common.ErrProfileNotFound, nameOrID)
	}

	creds, err := c.credentialsFor(profile)
	if err != nil {
		return err
	}

	m, err := c.buildManager(pm)
	if err != nil {
		return err
	}
	m.Start()
	defer m.Stop()

	fmt.Printf("Connecting to %s...\n", profile.Name)
	if err := m.Connect(profile.ID, creds); err != nil {
		return err
	}

	st, err := c.waitForState(ctx, m, common.StateConnected)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Connected to %s", profile.Name)
	if st.Details != nil && st.Details.InternalIP != "" {
		fmt.Printf(" (%s on %s)", st.Details.InternalIP, st.Details.Interface)
	}
	fmt.Println()

	if profile.Protocol == vpn.ProtocolOpenVPN {
		// The openvpn process is a child of this one and dies with
		// it, so supervision cannot be handed off.
		fmt.Println("Tunnel is supervised by this process. Press Ctrl-C to disconnect.")
		<-ctx.Done()
		if err := m.Disconnect(); err != nil {
			return err
		}
		if _, err := c.waitForState(context.Background(), m, common.StateDisconnected); err != nil {
			return err
		}
		fmt.Println("✓ Disconnected")
	}
	return nil
}

// Disconnect tears down the active tunnel, adopting it first when it
// was started by an earlier invocation.
func (c *CLI) Disconnect(ctx context.Context) error {
	if err := requireRoot("disconnect"); err != nil {
		return err
	}

	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}
	profile, _ := vpn.ActiveProfile(pm)
	if profile == nil {
		fmt.Println("No active tunnel.")
		return nil
	}
	if profile.Protocol == vpn.ProtocolOpenVPN {
		return errors.New("the openvpn tunnel is supervised by the process that started it; disconnect from there")
	}

	m, err := c.buildManager(pm)
	if err != nil {
		return err
	}
	m.Start()
	defer m.Stop()

	if err := m.Adopt(profile.ID); err != nil {
		return err
	}
	if err := m.Disconnect(); err != nil {
		return err
	}
	if _, err := c.waitForState(ctx, m, common.StateDisconnected); err != nil {
		return err
	}
	fmt.Printf("✓ Disconnected from %s\n", profile.Name)
	return nil
}

// ImportProfile imports a configuration file or URL as a new profile.
func (c *CLI) ImportProfile(src string) error {
	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}

	var profile *vpn.Profile
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		profile, err = pm.ImportURL(src)
	} else {
		profile, err = pm.Import(src)
	}
	if err != nil {
		return err
	}

	fmt.Printf("✓ Imported %s (%s, %s)\n", profile.Name, profile.Protocol, profile.Location)
	if profile.Protocol == vpn.ProtocolOpenVPN {
		fmt.Printf("Store credentials with --update %q if the server requires them.\n", profile.Name)
	}
	return nil
}

// RemoveProfile deletes a profile, its stored config copy, and any
// saved credentials.
func (c *CLI) RemoveProfile(nameOrID string) error {
	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}
	profile := findProfile(pm, nameOrID)
	if profile == nil {
		return common.WrapError(common.ErrProfileNotFound, nameOrID)
	}

	if snap := vpn.ProbeProfile(profile); snap.TunnelUp {
		return fmt.Errorf("%s is connected; run --disconnect first", profile.Name)
	}

	if err := pm.Remove(profile.ID); err != nil {
		return err
	}
	if err := keyring.Delete(profile.ID); err != nil {
		common.LogWarn("Stored credentials for %s not removed: %v", profile.Name, err)
	}
	fmt.Printf("✓ Removed %s\n", profile.Name)
	return nil
}

// UpdateCredentials prompts for and stores credentials for a profile.
func (c *CLI) UpdateCredentials(nameOrID string) error {
	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}
	profile := findProfile(pm, nameOrID)
	if profile == nil {
		return common.WrapError(common.ErrProfileNotFound, nameOrID)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("credential update needs an interactive terminal")
	}
	if keyring.Exists(profile.ID) {
		fmt.Printf("Replacing stored credentials for %s.\n", profile.Name)
	}

	creds, err := promptCredentials(profile.Username)
	if err != nil {
		return err
	}
	if creds.Username == "" {
		return errors.New("username cannot be empty")
	}

	if err := keyring.Store(profile.ID, creds.Password); err != nil {
		return err
	}
	profile.Username = creds.Username
	profile.SavePassword = true
	if err := pm.Update(profile); err != nil {
		return err
	}
	fmt.Printf("✓ Credentials stored for %s\n", profile.Name)
	return nil
}

// History prints the most recent connection and kill-switch events.
func (c *CLI) History(limit int) error {
	store, err := history.OpenDefault()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No history yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tKIND\tCHANGE\tPROFILE\tDETAIL")
	for _, e := range entries {
		profile := e.Profile
		if profile == "" {
			profile = "-"
		}
		detail := e.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s -> %s\t%s\t%s\n",
			e.At.Format("2006-01-02 15:04:05"), e.Kind, e.From, e.To, profile, detail)
	}
	return w.Flush()
}

// KillSwitch sets the kill-switch mode, or advances it when arg is
// "cycle". The connection state fed to the engine comes from a system
// probe because no manager runs in a one-shot invocation.
func (c *CLI) KillSwitch(arg string) error {
	if err := requireRoot("kill-switch changes"); err != nil {
		return err
	}

	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}
	eng, err := c.buildEngine(pm)
	if err != nil {
		return err
	}

	conn := common.StateDisconnected
	if active, _ := vpn.ActiveProfile(pm); active != nil {
		conn = common.StateConnected
	}

	if strings.EqualFold(arg, "cycle") {
		if _, err := eng.CycleMode(conn); err != nil {
			return err
		}
	} else {
		mode, err := killswitch.ParseMode(arg)
		if err != nil {
			return err
		}
		if err := eng.SetMode(mode, conn); err != nil {
			return err
		}
	}

	fmt.Printf("✓ Kill switch: %s (%s)\n", eng.Mode(), eng.State())
	return nil
}

// ReleaseKillSwitch forces the kill switch to Off and removes any
// firewall block. It deliberately skips engine construction: startup
// reconciliation would re-apply the very block being removed.
func (c *CLI) ReleaseKillSwitch() error {
	if err := requireRoot("kill-switch release"); err != nil {
		return err
	}

	pm, err := vpn.NewProfileManager()
	if err != nil {
		return err
	}
	store, backend, err := c.buildFirewall(pm)
	if err != nil {
		return err
	}
	if err := killswitch.EmergencyRelease(store, backend); err != nil {
		return err
	}
	fmt.Println("✓ Kill switch released. Mode is now Off and traffic is unblocked.")
	return nil
}

// Doctor prints an environment report for bug reports and setup
// checks.
func (c *CLI) Doctor() error {
	fmt.Printf("%s environment report\n\n", common.AppName)

	fmt.Println("Tools:")
	for _, tool := range doctorTools() {
		if path, err := exec.LookPath(tool); err == nil {
			fmt.Printf("  ✓ %s (%s)\n", tool, path)
		} else {
			fmt.Printf("  ✗ %s not found\n", tool)
		}
	}

	fmt.Println("\nPrivileges:")
	if os.Geteuid() == 0 {
		fmt.Println("  ✓ running as root")
	} else {
		fmt.Println("  ✗ not root; connect, disconnect and kill-switch changes will fail")
	}

	fmt.Println("\nState:")
	dir, err := common.GetConfigDir()
	if err != nil {
		fmt.Printf("  ✗ config dir: %v\n", err)
		return nil
	}
	fmt.Printf("  ✓ config dir %s\n", dir)
	if logDir := common.GetLogDir(); logDir != "" {
		fmt.Printf("  ✓ log dir %s\n", logDir)
	}

	if pm, err := vpn.NewProfileManager(); err != nil {
		fmt.Printf("  ✗ profiles: %v\n", err)
	} else {
		fmt.Printf("  ✓ %d profile(s)\n", len(pm.List()))
	}

	if store, err := killswitch.NewFileStore(dir); err != nil {
		fmt.Printf("  ✗ kill-switch store: %v\n", err)
	} else if record, err := store.Load(); err != nil {
		fmt.Printf("  ✗ kill-switch record unreadable: %v\n", err)
	} else if record == nil {
		fmt.Println("  ✓ kill-switch record: none yet (Off)")
	} else {
		fmt.Printf("  ✓ kill-switch record: %s (%s), revision %d\n", record.Mode, record.State, record.Revision)
	}

	if keyring.UsingSystemKeyring() {
		fmt.Println("  ✓ credentials: system keyring")
	} else {
		fmt.Println("  ✓ credentials: encrypted file store")
	}

	if dataDir, err := common.GetDataDir(); err == nil {
		histPath := filepath.Join(dataDir, common.HistoryFileName)
		if common.FileExists(histPath) {
			fmt.Printf("  ✓ history db %s\n", histPath)
		} else {
			fmt.Println("  ✓ history db: none yet")
		}
	}
	return nil
}

// buildFirewall assembles the persisted store and the platform
// firewall backend. Endpoints and the tunnel interface are sampled
// from the live system at apply time.
func (c *CLI) buildFirewall(pm *vpn.ProfileManager) (killswitch.Store, killswitch.Backend, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return nil, nil, err
	}
	store, err := killswitch.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	backend, err := killswitch.NewBackend(c.cfg.KillSwitch.Backend, killswitch.Options{
		AllowLAN:  c.cfg.KillSwitch.AllowLAN,
		Endpoints: pm.AllEndpoints,
		TunnelInterface: func() string {
			if p, snap := vpn.ActiveProfile(pm); p != nil && snap.Details != nil {
				return snap.Details.Interface
			}
			return ""
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return store, backend, nil
}

func (c *CLI) buildEngine(pm *vpn.ProfileManager) (*killswitch.Engine, error) {
	store, backend, err := c.buildFirewall(pm)
	if err != nil {
		return nil, err
	}
	eng, err := killswitch.New(store, backend, killswitch.EngineOptions{
		ApplyRetries: c.cfg.KillSwitch.ApplyRetries,
	})
	if err != nil {
		// The engine stays usable; report the enforcement trouble
		// and carry on.
		common.LogWarn("Kill switch startup: %v", err)
	}
	return eng, nil
}

func (c *CLI) buildManager(pm *vpn.ProfileManager) (*vpn.Manager, error) {
	eng, err := c.buildEngine(pm)
	if err != nil {
		return nil, err
	}
	return vpn.NewManager(c.cfg, pm, eng), nil
}

// waitForState polls until the slot reaches want or the attempt
// resolves back to Disconnected with an error.
func (c *CLI) waitForState(ctx context.Context, m *vpn.Manager, want common.ConnState) (vpn.Status, error) {
	budget := c.cfg.ConnectBudget()
	if want == common.StateDisconnected {
		budget = c.cfg.DisconnectBudget()
	}

	deadline := time.NewTimer(budget + 5*time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.Status(), common.WrapError(common.ErrCancelled, "interrupted")
		case <-deadline.C:
			return m.Status(), fmt.Errorf("timed out waiting for %s", want)
		case <-tick.C:
			st := m.Status()
			if st.State == want {
				return st, nil
			}
			if st.State == common.StateDisconnected {
				if st.LastError != nil {
					return st, st.LastError
				}
				return st, errors.New("connection attempt ended without a tunnel")
			}
		}
	}
}

// credentialsFor resolves credentials for an OpenVPN profile, from the
// keyring when saved and from an interactive prompt otherwise.
func (c *CLI) credentialsFor(profile *vpn.Profile) (vpn.Credentials, error) {
	if profile.Protocol != vpn.ProtocolOpenVPN {
		return vpn.Credentials{}, nil
	}

	if profile.SavePassword && profile.Username != "" {
		password, err := keyring.Get(profile.ID)
		if err == nil {
			return vpn.Credentials{Username: profile.Username, Password: password}, nil
		}
		common.LogWarn("Saved credentials unavailable for %s: %v", profile.Name, err)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return vpn.Credentials{}, fmt.Errorf("no saved credentials and no terminal to prompt on; run --update %q first", profile.Name)
	}
	return promptCredentials(profile.Username)
}

func promptCredentials(defaultUser string) (vpn.Credentials, error) {
	reader := bufio.NewReader(os.Stdin)
	if defaultUser != "" {
		fmt.Printf("Username [%s]: ", defaultUser)
	} else {
		fmt.Print("Username: ")
	}
	user, err := reader.ReadString('\n')
	if err != nil {
		return vpn.Credentials{}, err
	}
	user = strings.TrimSpace(user)
	if user == "" {
		user = defaultUser
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return vpn.Credentials{}, err
	}
	return vpn.Credentials{Username: user, Password: string(password)}, nil
}

// findProfile finds a profile by name or ID (case-insensitive, ID
// prefixes accepted).
func findProfile(pm *vpn.ProfileManager, nameOrID string) *vpn.Profile {
	nameOrID = strings.ToLower(strings.TrimSpace(nameOrID))

	for _, profile := range pm.List() {
		if strings.ToLower(profile.Name) == nameOrID ||
			strings.ToLower(profile.ID) == nameOrID ||
			strings.HasPrefix(strings.ToLower(profile.ID), nameOrID) {
			return profile
		}
	}
	return nil
}

// requireRoot refuses actions that reshape interfaces or firewall
// rules when the process cannot actually perform them.
func requireRoot(action string) error {
	if os.Geteuid() == 0 {
		return nil
	}
	return fmt.Errorf("%s requires root; rerun with sudo: %w", action, common.ErrRootRequired)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func doctorTools() []string {
	tools := []string{"wg-quick", "wg", "openvpn"}
	if runtime.GOOS == "darwin" {
		return append(tools, "pfctl")
	}
	return append(tools, "iptables", "nft")
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`VPN Guard - WireGuard and OpenVPN connection manager

Usage:
  vpn-guard [OPTIONS]

Options:
  --version             Show version and exit
  --verbose             Enable verbose logging
  --list                List all VPN profiles
  --status              Show tunnel and kill-switch status
  --connect NAME        Connect to a profile (name or ID)
  --disconnect          Disconnect the active tunnel
  --import PATH|URL     Import a WireGuard or OpenVPN config
  --remove NAME         Remove a profile and its saved credentials
  --update NAME         Store credentials for an OpenVPN profile
  --history N           Show the last N history entries
  --killswitch MODE     Set kill-switch mode (off|auto|always-on|cycle)
  --release-kill-switch Force the kill switch off and unblock traffic
  --doctor              Print an environment report
  --help                Show this help message

Examples:
  vpn-guard --import ~/Downloads/us-west.conf
  sudo vpn-guard --connect us-west
  sudo vpn-guard --killswitch auto
  vpn-guard --history 20

Notes:
  - Connect, disconnect and kill-switch changes require root
  - Run without options to open the interactive terminal interface`)
}
