package killswitch

import (
	"errors"
	"os/exec"

	"github.com/yllada/vpn-guard/common"
)

// Backend is the platform firewall strategy. Both operations are
// idempotent: applying an already-active block or releasing an
// already-released one succeeds as a no-op.
type Backend interface {
	// Name identifies the backend ("iptables", "nft", "pfctl").
	Name() string
	// ApplyBlock drops all non-tunnel traffic.
	ApplyBlock() error
	// ReleaseBlock removes the block.
	ReleaseBlock() error
}

// Options configures rule construction for the firewall backends.
// The function fields are sampled at apply time so rules reflect the
// connection that is currently active; nil fields are treated as empty.
type Options struct {
	// AllowLAN keeps RFC1918 and link-local destinations reachable
	// while blocking.
	AllowLAN bool
	// Endpoints returns remote tunnel endpoints (IP addresses) that
	// must stay reachable so the tunnel itself can (re)connect
	// through the block.
	Endpoints func() []string
	// TunnelInterface returns the active tunnel interface name, if any.
	TunnelInterface func() string
}

func (o Options) endpoints() []string {
	if o.Endpoints == nil {
		return nil
	}
	return o.Endpoints()
}

func (o Options) tunnelInterface() string {
	if o.TunnelInterface == nil {
		return ""
	}
	return o.TunnelInterface()
}

// lanRanges are kept reachable when AllowLAN is set.
var lanRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
}

// Command execution is indirected for tests.
var (
	runFirewallCommand = func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).CombinedOutput()
	}
	lookPath = exec.LookPath
)

// NewBackend selects a firewall backend. name is "auto" or a concrete
// backend name from the configuration; auto probes what the host
// provides. Returns ErrFirewallUnavailable when nothing usable exists.
func NewBackend(name string, opts Options) (Backend, error) {
	return newPlatformBackend(name, opts)
}

func isExitCode(err error, code int) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	return ee.ExitCode() == code
}

func unavailable(name string) error {
	return common.WrapError(common.ErrFirewallUnavailable, "backend "+name+" not supported on this platform")
}
