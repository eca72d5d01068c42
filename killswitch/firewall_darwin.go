//go:build darwin

package killswitch

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yllada/vpn-guard/common"
)

func newPlatformBackend(name string, opts Options) (Backend, error) {
	switch name {
	case "auto", "pfctl":
		if _, err := lookPath("pfctl"); err != nil {
			return nil, common.WrapError(common.ErrFirewallUnavailable, "pfctl not found")
		}
		return newPFBackend(opts), nil
	default:
		return nil, unavailable(name)
	}
}

// pfBackend loads a generated pf ruleset that blocks all egress except
// loopback, DHCP, DNS, tunnel interfaces, and the configured tunnel
// endpoints. Release restores the system ruleset from /etc/pf.conf.
type pfBackend struct {
	rulesPath string
	opts      Options
}

func newPFBackend(opts Options) *pfBackend {
	return &pfBackend{
		rulesPath: "/tmp/vpnguard_pf.conf",
		opts:      opts,
	}
}

func (b *pfBackend) Name() string { return "pfctl" }

func (b *pfBackend) ApplyBlock() error {
	var rules strings.Builder
	rules.WriteString("# VPN Guard kill switch\n")

	// Loopback and DHCP.
	rules.WriteString("pass quick on lo0 all\n")
	rules.WriteString("pass out quick proto udp from any port 68 to any port 67\n")

	// Tunnel egress: the utun interface group covers macOS tunnels,
	// plus the active interface for tunnels with other names.
	rules.WriteString("pass quick on utun all\n")
	if iface := b.opts.tunnelInterface(); iface != "" && iface != "lo0" {
		rules.WriteString(fmt.Sprintf("pass quick on %s all\n", iface))
	}

	// DNS must resolve tunnel endpoints through the block.
	rules.WriteString("pass out quick proto udp to any port 53\n")
	rules.WriteString("pass out quick proto tcp to any port 53\n")

	for _, ep := range b.opts.endpoints() {
		if net.ParseIP(ep) == nil {
			continue
		}
		rules.WriteString(fmt.Sprintf("pass out quick to %s\n", ep))
	}

	if b.opts.AllowLAN {
		for _, cidr := range lanRanges {
			rules.WriteString(fmt.Sprintf("pass out quick to %s\n", cidr))
		}
	}

	rules.WriteString("block out all\n")

	if err := os.WriteFile(b.rulesPath, []byte(rules.String()), 0600); err != nil {
		return common.WrapError(err, "failed to write pf rules")
	}

	if output, err := runFirewallCommand("pfctl", "-f", b.rulesPath, "-e"); err != nil {
		// pfctl -e fails when pf is already enabled; loading the
		// ruleset alone is then sufficient.
		if !strings.Contains(string(output), "pf already enabled") {
			return fmt.Errorf("pfctl load failed: %w: %s", err, strings.TrimSpace(string(output)))
		}
	}
	return nil
}

func (b *pfBackend) ReleaseBlock() error {
	output, err := runFirewallCommand("pfctl", "-f", "/etc/pf.conf")
	if err != nil {
		return fmt.Errorf("pfctl restore failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	os.Remove(b.rulesPath)
	return nil
}
