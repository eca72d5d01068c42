// Package common provides shared constants, types, and utilities
// used across the VPN Guard application.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "VPN Guard"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-guard"
	// ProfilesDirName is the subdirectory holding imported tunnel configs.
	ProfilesDirName = "profiles"
)

// File names used by the application.
const (
	ProfilesFileName    = "profiles.yaml"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpn-guard.log"
	KillSwitchFileName  = "killswitch.json"
	KillSwitchLockName  = "killswitch.lock"
	HistoryFileName     = "history.db"
)

// Default timeouts and intervals.
const (
	// ConnectTimeout is the maximum time a connection attempt may stay
	// in the Connecting state before it is force-resolved.
	ConnectTimeout = 30 * time.Second
	// DisconnectTimeout is the maximum time a disconnect may stay in the
	// Disconnecting state before it is force-resolved.
	DisconnectTimeout = 10 * time.Second
	// ScanInterval is how often the scanner polls observed tunnel state.
	ScanInterval = 1 * time.Second
	// HandshakeStaleAfter is the handshake age past which an established
	// WireGuard tunnel is no longer considered healthy.
	HandshakeStaleAfter = 3 * time.Minute
	// TelemetryInterval is how often network telemetry is refreshed.
	TelemetryInterval = 30 * time.Second
)

// Firewall enforcement parameters.
const (
	// FirewallApplyRetries bounds how many times a failed firewall
	// apply/release is retried before the failure is surfaced.
	FirewallApplyRetries = 3
	// FirewallRetryDelay is the pause between firewall retries.
	FirewallRetryDelay = 500 * time.Millisecond
)

// Network probe parameters.
const (
	// APITimeout is the per-request timeout for metadata APIs.
	APITimeout = 5 * time.Second
	// HTTPTimeout is the timeout for profile downloads.
	HTTPTimeout = 10 * time.Second
	// PingTimeout is the per-target ping budget.
	PingTimeout = 2 * time.Second
	// ProbeRetries is how many times a failed probe is retried.
	ProbeRetries = 2
	// ProbeRetryDelay is the pause between probe retries.
	ProbeRetryDelay = 500 * time.Millisecond
	// MaxProfileDownloadSize caps how much of a remote profile is read.
	MaxProfileDownloadSize = 1 << 20
)

// PingTargets are the anycast resolvers used for latency sampling.
var PingTargets = []string{"1.1.1.1", "8.8.8.8", "9.9.9.9", "208.67.222.222"}

// IPInfoURL is the primary endpoint for public IP and ISP metadata.
const IPInfoURL = "https://ipinfo.io/json"

// IPFallbackURLs return the public IP only, used when IPInfoURL fails.
var IPFallbackURLs = []string{
	"https://api.ipify.org",
	"https://icanhazip.com",
	"https://ifconfig.me/ip",
}

// IPv6CheckURLs answer only over IPv6; a response means IPv6 egress
// exists outside the tunnel.
var IPv6CheckURLs = []string{
	"https://ipv6.icanhazip.com",
	"https://v6.ident.me",
	"https://api6.ipify.org",
}
