// Package vpn manages the lifecycle of a single VPN connection.
//
// This package implements the core connection functionality including:
//
//   - Profile management: importing, validating, and persisting
//     WireGuard and OpenVPN profiles
//   - Connection management: establishing, observing, and terminating
//     the one tunnel the application drives at a time
//   - Reconciliation: comparing what the user asked for against what
//     the operating system actually reports
//
// # Architecture
//
// The package is organized around four main types:
//
//   - Manager: processes every input (user requests, scanner
//     observations) on a single goroutine, so transitions are strictly
//     ordered and the state machine is effectively single-threaded
//   - Scanner: polls the real system state on a fixed interval and
//     reports what it sees; it never mutates anything
//   - Tunnel: abstracts the wg-quick and OpenVPN invocations that
//     bring interfaces up and down
//   - ProfileManager: handles persistence and management of profiles
//
// # Connection Flow
//
// A typical connection flow:
//
//  1. User selects a profile through the UI or CLI
//  2. Manager validates the request and launches the tunnel
//  3. Scanner observes the interface coming up and handshaking
//  4. Manager confirms Connected and notifies subscribers
//  5. Scanner keeps refreshing connection details every tick
//
// The scanner's observations are authoritative: a tunnel that
// disappears drives the state machine to Disconnected no matter what
// it believed before, and a Connecting or Disconnecting phase that
// outlives its budget is force-resolved. Uncertainty is always read
// as "no tunnel", which is the safe direction for a tool whose job is
// leak prevention.
//
// # Thread Safety
//
// Manager and Scanner are safe for concurrent use. Status snapshots
// handed to callers are copies and never shared with the event loop.
package vpn
