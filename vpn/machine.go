package vpn

import (
	"fmt"
	"time"

	"github.com/yllada/vpn-guard/common"
)

// Budgets are the wall-clock limits enforced on scanner ticks. There
// is no separate timer task: every time-based decision happens inside
// the reconciliation step.
type Budgets struct {
	// Connect bounds how long Connecting may wait for a live tunnel.
	Connect time.Duration
	// Disconnect bounds how long Disconnecting may wait for teardown.
	Disconnect time.Duration
	// HandshakeStale is the handshake age past which a WireGuard
	// tunnel counts as gone even though the interface still exists.
	HandshakeStale time.Duration
}

// DefaultBudgets returns the built-in limits.
func DefaultBudgets() Budgets {
	return Budgets{
		Connect:        common.ConnectTimeout,
		Disconnect:     common.DisconnectTimeout,
		HandshakeStale: common.HandshakeStaleAfter,
	}
}

// Status is an immutable snapshot of the connection slot handed to
// UI and CLI consumers.
type Status struct {
	State     common.ConnState
	Profile   string
	ProfileID string
	// Since is when the current phase began: connect confirmation for
	// Connected, phase start for the transitional states.
	Since     time.Time
	Details   *TunnelDetails
	LastError error
}

// machine is the connection state machine. It owns the single
// connection slot and is only touched from the manager's event loop
// goroutine, so it needs no locking of its own.
type machine struct {
	state         common.ConnState
	profile       *Profile
	phaseStart    time.Time
	connectedAt   time.Time
	details       *TunnelDetails
	userInitiated bool
	lastErr       error
}

func newMachine() *machine {
	return &machine{state: common.StateDisconnected}
}

// requestConnect begins a connection attempt. Valid only from
// Disconnected.
func (sm *machine) requestConnect(p *Profile, now time.Time) (common.ConnectionEvent, error) {
	if sm.state != common.StateDisconnected {
		return common.ConnectionEvent{}, fmt.Errorf("%w: cannot connect while %s", common.ErrInvalidTransition, sm.state)
	}
	sm.profile = p
	sm.phaseStart = now
	sm.lastErr = nil
	return sm.transition(common.StateConnecting, nil), nil
}

// requestDisconnect begins a deliberate teardown. Valid from
// Connecting or Connected. The user-initiated flag rides every event
// until Disconnected is reached, where it is cleared.
func (sm *machine) requestDisconnect(now time.Time) (common.ConnectionEvent, error) {
	if sm.state != common.StateConnecting && sm.state != common.StateConnected {
		return common.ConnectionEvent{}, fmt.Errorf("%w: cannot disconnect while %s", common.ErrInvalidTransition, sm.state)
	}
	sm.userInitiated = true
	sm.phaseStart = now
	return sm.transition(common.StateDisconnecting, nil), nil
}

// observe reconciles one scanner snapshot against the believed state.
// The snapshot is authoritative: contradictions resolve in its favor,
// and a phase that outlives its budget is force-resolved to
// Disconnected. Returns the resulting transition, if any.
func (sm *machine) observe(snap Snapshot, now time.Time, budgets Budgets) (common.ConnectionEvent, bool) {
	switch sm.state {
	case common.StateConnecting:
		if sm.tunnelLive(snap, now, budgets.HandshakeStale) {
			sm.details = snap.Details
			sm.connectedAt = now
			return sm.transition(common.StateConnected, nil), true
		}
		if snap.Supervised && !snap.ProcessAlive {
			// The launch process died before the tunnel came up.
			err := common.WrapError(common.ErrConnectTimeout, "tunnel process exited during connect")
			return sm.transition(common.StateDisconnected, err), true
		}
		if now.Sub(sm.phaseStart) > budgets.Connect {
			return sm.transition(common.StateDisconnected, common.ErrConnectTimeout), true
		}

	case common.StateConnected:
		if sm.tunnelLive(snap, now, budgets.HandshakeStale) {
			sm.details = snap.Details
			return common.ConnectionEvent{}, false
		}
		// Unexpected drop: no preceding disconnect request, or the
		// handshake went stale under us.
		return sm.transition(common.StateDisconnected, nil), true

	case common.StateDisconnecting:
		if !snap.TunnelUp {
			return sm.transition(common.StateDisconnected, nil), true
		}
		if now.Sub(sm.phaseStart) > budgets.Disconnect {
			return sm.transition(common.StateDisconnected, common.ErrDisconnectTimeout), true
		}
	}

	return common.ConnectionEvent{}, false
}

// abort resolves an optimistic phase straight to Disconnected. Used
// when a collaborator fails synchronously instead of timing out.
func (sm *machine) abort(err error) common.ConnectionEvent {
	return sm.transition(common.StateDisconnected, err)
}

// tunnelLive reports whether the snapshot shows a live tunnel for the
// active profile. WireGuard additionally requires a recent handshake;
// an interface that exists but never handshakes is not a connection.
func (sm *machine) tunnelLive(snap Snapshot, now time.Time, staleAfter time.Duration) bool {
	if !snap.TunnelUp || snap.Details == nil {
		return false
	}
	if snap.Supervised && !snap.ProcessAlive {
		return false
	}
	if sm.profile != nil && sm.profile.Protocol == ProtocolWireGuard {
		hs := snap.Details.LastHandshake
		return !hs.IsZero() && now.Sub(hs) <= staleAfter
	}
	return true
}

// transition moves to the new state and builds the event describing
// the move. Reaching Disconnected resets the slot.
func (sm *machine) transition(to common.ConnState, err error) common.ConnectionEvent {
	ev := common.ConnectionEvent{
		From:          sm.state,
		To:            to,
		UserInitiated: sm.userInitiated,
		Err:           err,
	}
	if sm.profile != nil {
		ev.Profile = sm.profile.Name
	}

	sm.state = to
	if err != nil {
		sm.lastErr = err
	}
	if to != common.StateConnected {
		sm.details = nil
	}
	if to == common.StateDisconnected {
		sm.userInitiated = false
		sm.profile = nil
		sm.connectedAt = time.Time{}
	}
	return ev
}

// status returns a copy of the slot for outside consumers.
func (sm *machine) status() Status {
	st := Status{State: sm.state, LastError: sm.lastErr}
	if sm.profile != nil {
		st.Profile = sm.profile.Name
		st.ProfileID = sm.profile.ID
	}
	switch sm.state {
	case common.StateConnected:
		st.Since = sm.connectedAt
	case common.StateConnecting, common.StateDisconnecting:
		st.Since = sm.phaseStart
	}
	if sm.details != nil {
		details := *sm.details
		st.Details = &details
	}
	return st
}
