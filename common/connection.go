// Package common provides shared constants, types, and utilities
// used across the VPN Guard application.
package common

// ConnState represents the state of the managed VPN connection.
// Exactly one state holds at any instant; the richer payloads
// (timestamps, profile, tunnel details) live with the state machine
// that owns them.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String returns a human-readable state string.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// ConnectionEvent describes one connection state transition. Events are
// emitted by the state machine for every transition and consumed by the
// kill-switch engine, the history log, and the UI.
type ConnectionEvent struct {
	From    ConnState
	To      ConnState
	Profile string
	// UserInitiated is true when the transition traces back to a
	// deliberate disconnect request rather than an observed failure.
	UserInitiated bool
	// Err carries the condition that forced the transition, if any
	// (for example ErrConnectTimeout). Nil for normal transitions.
	Err error
}

// EnteredConnected reports whether this event establishes the tunnel.
func (e ConnectionEvent) EnteredConnected() bool {
	return e.To == StateConnected && e.From != StateConnected
}

// LeftConnected reports whether this event abandons an established tunnel.
func (e ConnectionEvent) LeftConnected() bool {
	return e.From == StateConnected && e.To != StateConnected
}
