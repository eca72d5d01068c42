package killswitch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-guard/common"
)

// Change describes one engine transition, for history and UI consumers.
type Change struct {
	OldMode  Mode
	NewMode  Mode
	OldState State
	NewState State
}

// EngineOptions tunes enforcement behavior. Zero values select the
// built-in defaults.
type EngineOptions struct {
	// ApplyRetries bounds attempts for a failed firewall call.
	ApplyRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// Engine owns the kill-switch mode and state. All mutation happens
// through SetMode, HandleTransition, and EmergencyRelease; the caller
// funnels those through a single goroutine, the mutex guards the
// read accessors used elsewhere.
type Engine struct {
	mu         sync.Mutex
	mode       Mode
	state      State
	store      Store
	firewall   Backend
	retries    int
	retryDelay time.Duration
	onChange   func(Change)
}

// New creates the engine and performs startup reconciliation: the
// persisted record is loaded and, if it says Blocking, the firewall
// block is re-applied before New returns, so a reboot can never leave
// a gap between "should be blocking" and "is blocking".
//
// The engine remains usable when err is non-nil; the error reports
// enforcement or persistence trouble the caller must surface.
func New(store Store, firewall Backend, opts EngineOptions) (*Engine, error) {
	if store == nil {
		return nil, errors.New("killswitch: nil store")
	}
	if firewall == nil {
		return nil, errors.New("killswitch: nil firewall backend")
	}

	e := &Engine{
		store:      store,
		firewall:   firewall,
		retries:    opts.ApplyRetries,
		retryDelay: opts.RetryDelay,
	}
	if e.retries <= 0 {
		e.retries = common.FirewallApplyRetries
	}
	if e.retryDelay <= 0 {
		e.retryDelay = common.FirewallRetryDelay
	}

	rec, err := store.Load()
	if err != nil {
		common.LogWarn("Unreadable kill-switch record, starting from defaults: %v", err)
		rec = nil
	}

	if rec == nil {
		e.mode, e.state = ModeOff, StateDisabled
		if err := store.Save(e.mode, e.state); err != nil {
			return e, common.WrapError(common.ErrPersistenceWriteFailed, err.Error())
		}
		return e, nil
	}

	e.mode, e.state = rec.Mode, rec.State
	if e.mode == ModeOff && e.state != StateDisabled {
		// Repair a record that violates mode == Off <=> state == Disabled.
		e.state = StateDisabled
		if err := store.Save(e.mode, e.state); err != nil {
			return e, common.WrapError(common.ErrPersistenceWriteFailed, err.Error())
		}
	}

	if e.state == StateBlocking {
		common.LogInfo("Resuming kill switch: re-applying firewall block (mode %s)", e.mode)
		if err := e.applyBlock(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// SetOnChange registers a callback fired after every transition.
func (e *Engine) SetOnChange(fn func(Change)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetMode switches to the given mode. Always legal: the state is
// recomputed from the mode and the current connection state, the
// firewall is applied or released to match, and the result is
// persisted before returning. Switching to Off releases any block
// unconditionally so disabling the feature can never leave the user
// locked out.
func (e *Engine) SetMode(mode Mode, conn common.ConnState) error {
	e.mu.Lock()
	return e.finish(mode, stateFor(mode, conn), mode == ModeOff)
}

// CycleMode advances the mode along Off -> Auto -> Always-On -> Off
// and returns the new mode.
func (e *Engine) CycleMode(conn common.ConnState) (Mode, error) {
	e.mu.Lock()
	next := e.mode.Next()
	err := e.finish(next, stateFor(next, conn), next == ModeOff)
	return next, err
}

// HandleTransition consumes one connection transition and applies the
// kill-switch policy table.
func (e *Engine) HandleTransition(ev common.ConnectionEvent) error {
	e.mu.Lock()

	if e.mode == ModeOff {
		e.mu.Unlock()
		return nil
	}

	target := e.state
	switch {
	case ev.EnteredConnected():
		// The tunnel is up. Stand down to Armed and lift any block
		// that covered the connecting window.
		target = StateArmed
	case e.mode == ModeAlwaysOn && ev.To != common.StateConnected:
		target = StateBlocking
	case e.mode == ModeAuto && ev.LeftConnected():
		if ev.UserInitiated {
			// Deliberate disconnect is not a leak risk.
			target = StateArmed
		} else {
			target = StateBlocking
		}
	case e.mode == ModeAuto && ev.To == common.StateDisconnected && errors.Is(ev.Err, common.ErrConnectTimeout):
		// A connect attempt that died unexpectedly is treated like a drop.
		target = StateBlocking
	}

	return e.finish(e.mode, target, false)
}

// EmergencyRelease unconditionally lifts any firewall block and resets
// the record to Off/Disabled. Idempotent and safe in any state.
func (e *Engine) EmergencyRelease() error {
	e.mu.Lock()

	relErr := e.releaseBlock()
	saveErr := e.store.Save(ModeOff, StateDisabled)
	if saveErr != nil {
		saveErr = common.WrapError(common.ErrPersistenceWriteFailed, saveErr.Error())
	}

	change := Change{OldMode: e.mode, NewMode: ModeOff, OldState: e.state, NewState: StateDisabled}
	e.mode, e.state = ModeOff, StateDisabled
	fn := e.onChange
	e.mu.Unlock()

	if fn != nil && (change.OldMode != ModeOff || change.OldState != StateDisabled) {
		fn(change)
	}
	return errors.Join(relErr, saveErr)
}

// EmergencyRelease lifts any block and resets the persisted record
// without a running engine. It is the implementation behind the
// standalone release command: the store's file lock arbitrates with a
// concurrently running main process.
func EmergencyRelease(store Store, firewall Backend) error {
	e := &Engine{
		store:      store,
		firewall:   firewall,
		retries:    common.FirewallApplyRetries,
		retryDelay: common.FirewallRetryDelay,
	}
	relErr := e.releaseBlock()
	saveErr := store.Save(ModeOff, StateDisabled)
	if saveErr != nil {
		saveErr = common.WrapError(common.ErrPersistenceWriteFailed, saveErr.Error())
	}
	return errors.Join(relErr, saveErr)
}

// stateFor derives the state a fresh mode implies for the current
// connection state. Auto arms rather than blocks: away from Connected,
// an explicit mode change is a deliberate act, not a drop.
func stateFor(mode Mode, conn common.ConnState) State {
	switch {
	case mode == ModeOff:
		return StateDisabled
	case conn == common.StateConnected:
		return StateArmed
	case mode == ModeAlwaysOn:
		return StateBlocking
	default:
		return StateArmed
	}
}

// finish completes a transition: enforce, persist, notify.
// Called with e.mu held; releases it.
func (e *Engine) finish(newMode Mode, newState State, forceRelease bool) error {
	oldMode, oldState := e.mode, e.state
	if newMode == oldMode && newState == oldState && !forceRelease {
		e.mu.Unlock()
		return nil
	}

	var errs []error

	switch {
	case newState == StateBlocking && oldState != StateBlocking:
		if err := e.applyBlock(); err != nil {
			// The intended state stays Blocking so a restart or a
			// later transition re-attempts enforcement. Never
			// downgrade silently to Armed.
			errs = append(errs, err)
		}
	case newState != StateBlocking && (oldState == StateBlocking || forceRelease):
		if err := e.releaseBlock(); err != nil {
			errs = append(errs, err)
		}
	}

	if newMode != oldMode || newState != oldState {
		if err := e.store.Save(newMode, newState); err != nil {
			errs = append(errs, common.WrapError(common.ErrPersistenceWriteFailed, err.Error()))
		}
	}

	e.mode, e.state = newMode, newState
	change := Change{OldMode: oldMode, NewMode: newMode, OldState: oldState, NewState: newState}
	fn := e.onChange
	e.mu.Unlock()

	if fn != nil && (newMode != oldMode || newState != oldState) {
		common.LogInfo("Kill switch: %s/%s -> %s/%s", oldMode, oldState, newMode, newState)
		fn(change)
	}
	return errors.Join(errs...)
}

// applyBlock invokes the backend with bounded retries. Apply is
// at-least-once and idempotent, so retrying a partial apply is safe.
func (e *Engine) applyBlock() error {
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if lastErr = e.firewall.ApplyBlock(); lastErr == nil {
			return nil
		}
		common.LogWarn("Firewall apply attempt %d/%d failed: %v", attempt, e.retries, lastErr)
		if attempt < e.retries {
			time.Sleep(e.retryDelay)
		}
	}
	return fmt.Errorf("%w (%s, %d attempts): %v", common.ErrFirewallApplyFailed, e.firewall.Name(), e.retries, lastErr)
}

func (e *Engine) releaseBlock() error {
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if lastErr = e.firewall.ReleaseBlock(); lastErr == nil {
			return nil
		}
		common.LogWarn("Firewall release attempt %d/%d failed: %v", attempt, e.retries, lastErr)
		if attempt < e.retries {
			time.Sleep(e.retryDelay)
		}
	}
	return fmt.Errorf("firewall release failed (%s, %d attempts): %v", e.firewall.Name(), e.retries, lastErr)
}
