package killswitch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is the user-configured kill-switch policy.
type Mode int

const (
	// ModeOff never blocks traffic.
	ModeOff Mode = iota
	// ModeAuto blocks only on an unexpected tunnel drop and releases
	// on a deliberate user disconnect.
	ModeAuto
	// ModeAlwaysOn blocks whenever the tunnel is not connected,
	// including the normal connecting and disconnecting windows.
	ModeAlwaysOn
)

// Next returns the mode after m in the cycle Off -> Auto -> Always-On -> Off.
func (m Mode) Next() Mode {
	switch m {
	case ModeOff:
		return ModeAuto
	case ModeAuto:
		return ModeAlwaysOn
	default:
		return ModeOff
	}
}

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "Off"
	case ModeAuto:
		return "Auto"
	case ModeAlwaysOn:
		return "Always-On"
	default:
		return "Unknown"
	}
}

func (m Mode) token() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeAlwaysOn:
		return "always_on"
	default:
		return "off"
	}
}

// MarshalJSON encodes the mode as a stable lowercase token.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.token())
}

// UnmarshalJSON decodes a mode token.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode parses a mode token as used in JSON records and CLI flags.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "auto":
		return ModeAuto, nil
	case "always_on", "always-on", "alwayson":
		return ModeAlwaysOn, nil
	default:
		return ModeOff, fmt.Errorf("unknown kill-switch mode %q", s)
	}
}

// State is the derived enforcement state.
type State int

const (
	// StateDisabled means the kill switch is off entirely.
	StateDisabled State = iota
	// StateArmed means the kill switch is ready to block but the
	// firewall is not currently applying a block.
	StateArmed
	// StateBlocking means the firewall has been told to drop all
	// non-tunnel traffic.
	StateBlocking
)

// IsBlocking reports whether the firewall is meant to be dropping traffic.
func (s State) IsBlocking() bool {
	return s == StateBlocking
}

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "Disabled"
	case StateArmed:
		return "Armed"
	case StateBlocking:
		return "Blocking"
	default:
		return "Unknown"
	}
}

func (s State) token() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateBlocking:
		return "blocking"
	default:
		return "disabled"
	}
}

// MarshalJSON encodes the state as a stable lowercase token.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.token())
}

// UnmarshalJSON decodes a state token.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	state, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// ParseState parses a state token.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return StateDisabled, nil
	case "armed":
		return StateArmed, nil
	case "blocking":
		return StateBlocking, nil
	default:
		return StateDisabled, fmt.Errorf("unknown kill-switch state %q", s)
	}
}
