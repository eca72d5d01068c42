//go:build linux

package killswitch

import (
	"fmt"
	"net"
	"strings"

	"github.com/yllada/vpn-guard/common"
)

func newPlatformBackend(name string, opts Options) (Backend, error) {
	switch name {
	case "auto":
		if _, err := lookPath("nft"); err == nil {
			return newNFTBackend(opts), nil
		}
		if _, err := lookPath("iptables"); err == nil {
			return newIPTablesBackend(opts), nil
		}
		return nil, common.WrapError(common.ErrFirewallUnavailable, "neither nft nor iptables found")
	case "nft":
		if _, err := lookPath("nft"); err != nil {
			return nil, common.WrapError(common.ErrFirewallUnavailable, "nft not found")
		}
		return newNFTBackend(opts), nil
	case "iptables":
		if _, err := lookPath("iptables"); err != nil {
			return nil, common.WrapError(common.ErrFirewallUnavailable, "iptables not found")
		}
		return newIPTablesBackend(opts), nil
	default:
		return nil, unavailable(name)
	}
}

// iptablesBackend maintains a dedicated chain jumped to from OUTPUT.
// The chain is rebuilt on every apply so rules always reflect the
// current tunnel endpoints.
type iptablesBackend struct {
	chain string
	opts  Options
}

func newIPTablesBackend(opts Options) *iptablesBackend {
	return &iptablesBackend{
		chain: "VPNGUARD_KILLSWITCH",
		opts:  opts,
	}
}

func (b *iptablesBackend) Name() string { return "iptables" }

func (b *iptablesBackend) ApplyBlock() error {
	if err := b.ensureChain(); err != nil {
		return err
	}

	// Loopback and DHCP stay open so local services and lease
	// renewal keep working while blocked.
	if err := b.addRule("-o", "lo", "-j", "ACCEPT"); err != nil {
		return err
	}
	if err := b.addRule("-p", "udp", "--dport", "67:68", "-j", "ACCEPT"); err != nil {
		return err
	}

	// Tunnel egress. Prefix matches cover the common wg-quick and
	// OpenVPN interface names; the active interface is added
	// explicitly for profiles with custom names.
	if err := b.addRule("-o", "wg+", "-j", "ACCEPT"); err != nil {
		return err
	}
	if err := b.addRule("-o", "tun+", "-j", "ACCEPT"); err != nil {
		return err
	}
	if iface := b.opts.tunnelInterface(); iface != "" && iface != "lo" {
		if err := b.addRule("-o", iface, "-j", "ACCEPT"); err != nil {
			return err
		}
	}

	// DNS must resolve tunnel endpoints so a connect can succeed
	// through the block.
	if err := b.addRule("-p", "udp", "--dport", "53", "-j", "ACCEPT"); err != nil {
		return err
	}
	if err := b.addRule("-p", "tcp", "--dport", "53", "-j", "ACCEPT"); err != nil {
		return err
	}

	for _, ep := range b.opts.endpoints() {
		if net.ParseIP(ep) == nil {
			continue
		}
		if err := b.addRule("-d", ep, "-j", "ACCEPT"); err != nil {
			return err
		}
	}

	if b.opts.AllowLAN {
		for _, cidr := range lanRanges {
			if err := b.addRule("-d", cidr, "-j", "ACCEPT"); err != nil {
				return err
			}
		}
	}

	if err := b.addRule("-j", "DROP"); err != nil {
		return err
	}

	// The jump goes in last so a half-built chain never filters traffic.
	return b.ensureOutputJump()
}

func (b *iptablesBackend) ReleaseBlock() error {
	if err := b.deleteOutputJump(); err != nil {
		return err
	}
	if err := b.run("-F", b.chain); err != nil && !isExitCode(err, 1) {
		return err
	}
	if err := b.run("-X", b.chain); err != nil && !isExitCode(err, 1) {
		return err
	}
	return nil
}

func (b *iptablesBackend) ensureChain() error {
	if err := b.run("-N", b.chain); err != nil && !strings.Contains(err.Error(), "Chain already exists") && !isExitCode(err, 1) {
		return err
	}
	return b.run("-F", b.chain)
}

func (b *iptablesBackend) ensureOutputJump() error {
	exists, err := b.ruleExists("OUTPUT", "-j", b.chain)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.run("-I", "OUTPUT", "1", "-j", b.chain)
}

func (b *iptablesBackend) deleteOutputJump() error {
	exists, err := b.ruleExists("OUTPUT", "-j", b.chain)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return b.run("-D", "OUTPUT", "-j", b.chain)
}

func (b *iptablesBackend) addRule(rule ...string) error {
	args := append([]string{"-A", b.chain}, rule...)
	return b.run(args...)
}

func (b *iptablesBackend) ruleExists(chain string, rule ...string) (bool, error) {
	args := append([]string{"-w", "-C", chain}, rule...)
	output, err := runFirewallCommand("iptables", args...)
	if err == nil {
		return true, nil
	}
	if isExitCode(err, 1) {
		return false, nil
	}
	return false, fmt.Errorf("iptables %v failed: %w: %s", args, err, strings.TrimSpace(string(output)))
}

func (b *iptablesBackend) run(args ...string) error {
	fullArgs := append([]string{"-w"}, args...)
	output, err := runFirewallCommand("iptables", fullArgs...)
	if err != nil {
		return fmt.Errorf("iptables %v failed: %w: %s", fullArgs, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// nftBackend keeps its rules in a dedicated inet table that is
// rebuilt wholesale on apply and dropped on release.
type nftBackend struct {
	table string
	chain string
	opts  Options
}

func newNFTBackend(opts Options) *nftBackend {
	return &nftBackend{
		table: "vpnguard",
		chain: "killswitch",
		opts:  opts,
	}
}

func (b *nftBackend) Name() string { return "nft" }

func (b *nftBackend) ApplyBlock() error {
	// Reset the table so rule order stays deterministic on re-apply.
	if err := b.run("delete", "table", "inet", b.table); err != nil && !isExitCode(err, 1) {
		return err
	}
	if err := b.run("add", "table", "inet", b.table); err != nil {
		return err
	}
	if err := b.run("add", "chain", "inet", b.table, b.chain,
		"{", "type", "filter", "hook", "output", "priority", "0", ";", "policy", "accept", ";", "}"); err != nil {
		return err
	}

	if err := b.addRule("oifname", `"lo"`, "accept"); err != nil {
		return err
	}
	if err := b.addRule("udp", "dport", "67-68", "accept"); err != nil {
		return err
	}
	if err := b.addRule("oifname", `"wg*"`, "accept"); err != nil {
		return err
	}
	if err := b.addRule("oifname", `"tun*"`, "accept"); err != nil {
		return err
	}
	if iface := b.opts.tunnelInterface(); iface != "" && iface != "lo" {
		if err := b.addRule("oifname", fmt.Sprintf("%q", iface), "accept"); err != nil {
			return err
		}
	}
	if err := b.addRule("udp", "dport", "53", "accept"); err != nil {
		return err
	}
	if err := b.addRule("tcp", "dport", "53", "accept"); err != nil {
		return err
	}

	for _, ep := range b.opts.endpoints() {
		if net.ParseIP(ep) == nil {
			continue
		}
		if err := b.addRule("ip", "daddr", ep, "accept"); err != nil {
			return err
		}
	}

	if b.opts.AllowLAN {
		for _, cidr := range lanRanges {
			if err := b.addRule("ip", "daddr", cidr, "accept"); err != nil {
				return err
			}
		}
	}

	return b.addRule("counter", "drop")
}

func (b *nftBackend) ReleaseBlock() error {
	if err := b.run("delete", "table", "inet", b.table); err != nil && !isExitCode(err, 1) {
		return err
	}
	return nil
}

func (b *nftBackend) addRule(rule ...string) error {
	args := append([]string{"add", "rule", "inet", b.table, b.chain}, rule...)
	return b.run(args...)
}

func (b *nftBackend) run(args ...string) error {
	output, err := runFirewallCommand("nft", args...)
	if err != nil {
		return fmt.Errorf("nft %v failed: %w: %s", args, err, strings.TrimSpace(string(output)))
	}
	return nil
}
