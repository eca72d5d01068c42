package vpn

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/yllada/vpn-guard/common"
)

// Command execution is indirected so tests can record invocations
// without touching the system.
var (
	runTunnelCommand = func(name string, arg ...string) ([]byte, error) {
		return exec.Command(name, arg...).CombinedOutput()
	}
	tunnelLookPath = exec.LookPath
)

// Credentials are the secrets handed to the tunnel process at start.
// WireGuard profiles carry their keys in the config file and leave
// both fields empty.
type Credentials struct {
	Username string
	Password string
}

// TunnelDetails is a read-only description of an established tunnel,
// replaced wholesale on every scanner refresh.
type TunnelDetails struct {
	Interface     string
	InternalIP    string
	Endpoint      string
	PublicKey     string
	ListenPort    int
	MTU           int
	RxBytes       uint64
	TxBytes       uint64
	LastHandshake time.Time // zero when the protocol exposes none
	PID           int       // supervised process, 0 for wg-quick
}

// Snapshot is one scanner observation of ground truth.
type Snapshot struct {
	At           time.Time
	TunnelUp     bool
	Details      *TunnelDetails // nil unless TunnelUp
	Supervised   bool           // a tunnel process is being supervised
	ProcessAlive bool           // that process is still running
}

// Handle identifies one launched tunnel instance.
type Handle struct {
	Profile   *Profile
	Interface string
	PID       int

	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

// processAlive reports whether the supervised process is still running.
// Always false for tunnels without a long-lived process (wg-quick).
func (h *Handle) processAlive() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// exitError returns the supervised process's exit error once it has
// ended, nil before that or on a clean exit.
func (h *Handle) exitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Tunnel starts and stops the underlying VPN software and answers
// scanner queries. Implementations must be safe for concurrent use by
// the manager loop and the scanner goroutine.
type Tunnel interface {
	Start(profile *Profile, creds Credentials) (*Handle, error)
	Stop(h *Handle) error
	Query(h *Handle) Snapshot
}

// systemTunnel drives the real wg-quick and openvpn binaries.
type systemTunnel struct{}

// NewSystemTunnel returns the production Tunnel implementation.
func NewSystemTunnel() Tunnel {
	return &systemTunnel{}
}

func (t *systemTunnel) Start(profile *Profile, creds Credentials) (*Handle, error) {
	switch profile.Protocol {
	case ProtocolWireGuard:
		return t.startWireGuard(profile)
	case ProtocolOpenVPN:
		return t.startOpenVPN(profile, creds)
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %q", common.ErrInvalidProfile, profile.Protocol)
	}
}

func (t *systemTunnel) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	switch h.Profile.Protocol {
	case ProtocolWireGuard:
		output, err := runTunnelCommand("wg-quick", "down", h.Profile.ConfigPath)
		if err != nil {
			text := strings.TrimSpace(string(output))
			if strings.Contains(text, "is not a WireGuard interface") {
				// Already down.
				return nil
			}
			return fmt.Errorf("wg-quick down failed: %w: %s", err, text)
		}
		return nil
	case ProtocolOpenVPN:
		if h.cmd == nil || h.cmd.Process == nil {
			return nil
		}
		if !h.processAlive() {
			return nil
		}
		// SIGTERM lets OpenVPN tear its routes down; the scanner
		// confirms the result and the disconnect budget bounds the wait.
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return h.cmd.Process.Kill()
		}
		return nil
	default:
		return nil
	}
}

func (t *systemTunnel) Query(h *Handle) Snapshot {
	snap := Snapshot{At: time.Now()}
	if h == nil {
		return snap
	}
	snap.Supervised = h.cmd != nil
	snap.ProcessAlive = h.processAlive()

	switch h.Profile.Protocol {
	case ProtocolWireGuard:
		details, err := t.queryWireGuard(h.Interface)
		if err != nil {
			// Any failure reads as "no tunnel". Guessing the other way
			// would hide a leak.
			return snap
		}
		snap.TunnelUp = true
		snap.Details = details
	case ProtocolOpenVPN:
		details, ok := t.queryOpenVPN(h)
		if !ok {
			return snap
		}
		snap.TunnelUp = true
		snap.Details = details
	}
	return snap
}

func (t *systemTunnel) startWireGuard(profile *Profile) (*Handle, error) {
	if _, err := tunnelLookPath("wg-quick"); err != nil {
		return nil, common.WrapError(common.ErrTunnelStart, "wg-quick not found in PATH")
	}

	output, err := runTunnelCommand("wg-quick", "up", profile.ConfigPath)
	if err != nil {
		text := strings.TrimSpace(string(output))
		common.LogError("wg-quick up failed for %s: %v: %s", profile.Name, err, text)
		return nil, fmt.Errorf("%w: %s", common.ErrTunnelStart, text)
	}

	iface := wgInterfaceName(profile.ConfigPath)
	common.LogInfo("WireGuard tunnel %s up for profile %s", iface, profile.Name)
	return &Handle{Profile: profile, Interface: iface}, nil
}

func (t *systemTunnel) startOpenVPN(profile *Profile, creds Credentials) (*Handle, error) {
	if _, err := tunnelLookPath("openvpn"); err != nil {
		return nil, common.WrapError(common.ErrTunnelStart, "openvpn not found in PATH")
	}

	credFile, err := writeCredentialsFile(creds)
	if err != nil {
		return nil, common.WrapError(err, "failed to write credentials file")
	}

	args := []string{"--config", profile.ConfigPath, "--verb", "3"}
	if credFile != "" {
		args = append(args, "--auth-user-pass", credFile)
	}

	cmd := exec.Command("openvpn", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeCredentials(credFile)
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		removeCredentials(credFile)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		removeCredentials(credFile)
		return nil, fmt.Errorf("%w: %v", common.ErrTunnelStart, err)
	}

	h := &Handle{
		Profile:   profile,
		Interface: "", // discovered by the scanner once the tun device exists
		PID:       cmd.Process.Pid,
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	common.LogInfo("OpenVPN started for profile %s (pid %d)", profile.Name, h.PID)

	go logTunnelOutput(profile.Name, stdout)
	go logTunnelOutput(profile.Name, stderr)
	go func() {
		err := cmd.Wait()
		removeCredentials(credFile)
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.done)
		if err != nil {
			common.LogWarn("OpenVPN process for %s ended: %v", profile.Name, err)
		} else {
			common.LogInfo("OpenVPN process for %s ended", profile.Name)
		}
	}()

	return h, nil
}

func (t *systemTunnel) queryWireGuard(iface string) (*TunnelDetails, error) {
	output, err := runTunnelCommand("wg", "show", iface, "dump")
	if err != nil {
		return nil, fmt.Errorf("wg show failed: %w", err)
	}

	details, err := parseWGDump(string(output))
	if err != nil {
		return nil, err
	}
	details.Interface = iface
	details.InternalIP, details.MTU = interfaceAddress(iface)
	return details, nil
}

func (t *systemTunnel) queryOpenVPN(h *Handle) (*TunnelDetails, bool) {
	if !h.processAlive() {
		return nil, false
	}
	iface := detectTunInterface()
	if iface == "" {
		return nil, false
	}
	ip, mtu := interfaceAddress(iface)
	return &TunnelDetails{
		Interface:  iface,
		InternalIP: ip,
		MTU:        mtu,
		PID:        h.PID,
	}, true
}

// parseWGDump parses `wg show <iface> dump` output. The first line
// describes the interface (private key, public key, listen port,
// fwmark); each following line is one peer (public key, preshared
// key, endpoint, allowed ips, last handshake, rx, tx, keepalive).
func parseWGDump(output string) (*TunnelDetails, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, fmt.Errorf("empty wg dump")
	}

	ifaceFields := strings.Split(lines[0], "\t")
	if len(ifaceFields) < 4 {
		return nil, fmt.Errorf("malformed wg dump interface line: %q", lines[0])
	}

	details := &TunnelDetails{
		PublicKey: ifaceFields[1],
	}
	if port, err := strconv.Atoi(ifaceFields[2]); err == nil {
		details.ListenPort = port
	}

	for _, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		if details.Endpoint == "" && fields[2] != "(none)" {
			details.Endpoint = fields[2]
		}
		if ts, err := strconv.ParseInt(fields[4], 10, 64); err == nil && ts > 0 {
			hs := time.Unix(ts, 0)
			if hs.After(details.LastHandshake) {
				details.LastHandshake = hs
			}
		}
		if rx, err := strconv.ParseUint(fields[5], 10, 64); err == nil {
			details.RxBytes += rx
		}
		if tx, err := strconv.ParseUint(fields[6], 10, 64); err == nil {
			details.TxBytes += tx
		}
	}

	return details, nil
}

// wgInterfaceName derives the interface name wg-quick will use from
// the config path: the base name without the .conf extension.
func wgInterfaceName(configPath string) string {
	base := filepath.Base(configPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// detectTunInterface finds an up tun/utun interface, or "".
func detectTunInterface() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if strings.HasPrefix(iface.Name, "tun") || strings.HasPrefix(iface.Name, "utun") {
			return iface.Name
		}
	}
	return ""
}

// interfaceAddress returns the first address and the MTU of the named
// interface, empty/zero when unavailable.
func interfaceAddress(name string) (string, int) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", 0
	}
	addrs, err := iface.Addrs()
	if err != nil || len(addrs) == 0 {
		return "", iface.MTU
	}
	addr := addrs[0].String()
	if ip, _, err := net.ParseCIDR(addr); err == nil {
		addr = ip.String()
	}
	return addr, iface.MTU
}

// writeCredentialsFile creates a temporary auth-user-pass file. An
// empty Credentials value yields no file and an empty path.
func writeCredentialsFile(creds Credentials) (string, error) {
	if creds.Username == "" && creds.Password == "" {
		return "", nil
	}

	tmpDir := filepath.Join(os.TempDir(), common.ConfigDirName)
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", err
	}

	credFile := filepath.Join(tmpDir, fmt.Sprintf("cred-%d", time.Now().UnixNano()))
	content := fmt.Sprintf("%s\n%s\n", creds.Username, creds.Password)
	if err := os.WriteFile(credFile, []byte(content), 0600); err != nil {
		return "", err
	}
	return credFile, nil
}

func removeCredentials(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// logTunnelOutput forwards tunnel process output to the log.
func logTunnelOutput(profileName string, pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		common.LogDebug("OpenVPN[%s]: %s", profileName, line)

		if strings.Contains(line, "AUTH_FAILED") {
			common.LogError("OpenVPN[%s]: authentication failed", profileName)
		}
		if strings.Contains(line, "Initialization Sequence Completed") {
			common.LogInfo("OpenVPN[%s]: initialization complete", profileName)
		}
	}
}
