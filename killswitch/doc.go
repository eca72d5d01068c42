// Package killswitch implements the kill-switch engine for VPN Guard.
//
// The engine owns two pieces of state: the user-configured Mode
// (Off, Auto, Always-On) and the derived State (Disabled, Armed,
// Blocking). It reacts to connection transitions, instructs a
// platform firewall backend to block or release non-tunnel traffic,
// and persists every change so enforcement survives crashes and
// reboots.
//
// The package is built from three collaborating parts:
//
//   - Engine: the mode/state policy. Decides when to block and release,
//     retries failed firewall calls, and keeps the persisted record in
//     sync with the in-memory state.
//   - Store: the durable (mode, state, revision) record with atomic
//     writes and a cross-process file lock, plus an in-memory variant
//     for tests.
//   - Backend: the platform firewall strategy (pfctl on macOS,
//     iptables or nftables on Linux), selected at startup. Apply and
//     release are idempotent.
//
// A blocked host must never be unrecoverable: EmergencyRelease works
// as a standalone operation against the store and firewall without a
// running engine, so a separate process invocation can always lift
// the block and reset the record to Off/Disabled.
package killswitch
