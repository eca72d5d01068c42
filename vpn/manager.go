package vpn

import (
	"errors"
	"sync"
	"time"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/config"
	"github.com/yllada/vpn-guard/killswitch"
)

var errNotRunning = errors.New("connection manager is not running")

// Queue items. User intents carry a reply channel for the synchronous
// validation result; resolution of the connection itself is always
// observed asynchronously through scanner snapshots.
type connectRequest struct {
	profileID string
	creds     Credentials
	reply     chan error
}

type disconnectRequest struct {
	reply chan error
}

type adoptRequest struct {
	profileID string
	reply     chan error
}

type setModeRequest struct {
	mode  killswitch.Mode
	reply chan error
}

type cycleModeRequest struct {
	reply chan modeReply
}

type modeReply struct {
	mode killswitch.Mode
	err  error
}

// Manager owns the connection state machine and drives the
// kill-switch engine from its transitions. Every input (user intent,
// scanner snapshot) funnels through one ordered queue consumed by a
// single goroutine, so the state machines never see interleaved
// partial updates.
type Manager struct {
	cfg      *config.Config
	profiles *ProfileManager
	tunnel   Tunnel
	ks       *killswitch.Engine
	bus      *EventBus
	budgets  Budgets
	scanner  *Scanner

	machine *machine // loop goroutine only

	queue chan any

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	done       chan struct{}
	handle     *Handle
	statusSnap Status
}

// NewManager creates a manager wired to the real system tunnel. The
// profile manager is shared with the caller because firewall rule
// construction samples its endpoints. The kill-switch engine must be
// non-nil; a caller that wants enforcement off still passes an engine
// in mode Off.
func NewManager(cfg *config.Config, pm *ProfileManager, ks *killswitch.Engine) *Manager {
	return newManagerWith(cfg, ks, pm, NewSystemTunnel())
}

// newManagerWith is the injection seam used by tests.
func newManagerWith(cfg *config.Config, ks *killswitch.Engine, pm *ProfileManager, tunnel Tunnel) *Manager {
	m := &Manager{
		cfg:      cfg,
		profiles: pm,
		tunnel:   tunnel,
		ks:       ks,
		bus:      NewEventBus(),
		budgets: Budgets{
			Connect:        cfg.ConnectBudget(),
			Disconnect:     cfg.DisconnectBudget(),
			HandshakeStale: cfg.HandshakeStale(),
		},
		machine:    newMachine(),
		queue:      make(chan any, 16),
		statusSnap: Status{State: common.StateDisconnected},
	}
	m.scanner = NewScanner(cfg.ScanEvery(), m.probe, m.postSnapshot)

	ks.SetOnChange(func(c killswitch.Change) {
		m.bus.Publish(Event{Type: EventKillSwitchChanged, Payload: KillSwitchPayload{Change: c}})
	})
	return m
}

// Events returns the bus carrying state, kill-switch, and warning
// events.
func (m *Manager) Events() *EventBus {
	return m.bus
}

// Profiles returns the associated profile manager.
func (m *Manager) Profiles() *ProfileManager {
	return m.profiles
}

// KillSwitch returns the kill-switch engine for read access. Mode
// changes go through SetKillSwitchMode/CycleKillSwitch so they are
// ordered with connection events.
func (m *Manager) KillSwitch() *killswitch.Engine {
	return m.ks
}

// Start launches the event loop and the scanner.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.run(stop, done)
	m.scanner.Start()
	common.LogInfo("Connection manager started")
}

// Stop shuts down the scanner and the event loop. A connected tunnel
// is left running; callers that want teardown call Disconnect first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.scanner.Stop()
	close(stop)
	<-done
	common.LogInfo("Connection manager stopped")
}

// Status returns the latest published connection snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusSnap
}

// Connect validates and launches a connection attempt for the given
// profile. The returned error covers validation and launch only; the
// outcome of the attempt arrives later as a state change event.
func (m *Manager) Connect(profileID string, creds Credentials) error {
	req := connectRequest{profileID: profileID, creds: creds, reply: make(chan error, 1)}
	return m.roundTrip(req, req.reply)
}

// Disconnect begins a deliberate teardown of the active connection.
func (m *Manager) Disconnect() error {
	req := disconnectRequest{reply: make(chan error, 1)}
	return m.roundTrip(req, req.reply)
}

// Adopt seeds the connection slot with a tunnel this process did not
// start, so a fresh process can take over a connection left running by
// an earlier one. The slot enters Connecting and the scanner settles
// it from there. Only WireGuard tunnels can be adopted; an OpenVPN
// tunnel belongs to the process supervising it.
func (m *Manager) Adopt(profileID string) error {
	req := adoptRequest{profileID: profileID, reply: make(chan error, 1)}
	return m.roundTrip(req, req.reply)
}

// SetKillSwitchMode switches the kill-switch mode, ordered with the
// connection events already queued.
func (m *Manager) SetKillSwitchMode(mode killswitch.Mode) error {
	req := setModeRequest{mode: mode, reply: make(chan error, 1)}
	return m.roundTrip(req, req.reply)
}

// CycleKillSwitch advances the kill-switch mode along
// Off -> Auto -> Always-On -> Off and returns the new mode.
func (m *Manager) CycleKillSwitch() (killswitch.Mode, error) {
	m.mu.Lock()
	running, stop := m.running, m.stop
	m.mu.Unlock()
	if !running {
		return m.ks.Mode(), errNotRunning
	}

	req := cycleModeRequest{reply: make(chan modeReply, 1)}
	select {
	case m.queue <- req:
	case <-stop:
		return m.ks.Mode(), errNotRunning
	}
	select {
	case rep := <-req.reply:
		return rep.mode, rep.err
	case <-stop:
		return m.ks.Mode(), errNotRunning
	}
}

// roundTrip posts one request and waits for the loop's reply.
func (m *Manager) roundTrip(item any, reply <-chan error) error {
	m.mu.Lock()
	running, stop := m.running, m.stop
	m.mu.Unlock()
	if !running {
		return errNotRunning
	}

	select {
	case m.queue <- item:
	case <-stop:
		return errNotRunning
	}
	select {
	case err := <-reply:
		return err
	case <-stop:
		return errNotRunning
	}
}

// postSnapshot feeds a scanner observation into the queue. Snapshots
// are droppable: if the loop is mid-way through a slow firewall call,
// the next tick supersedes this one.
func (m *Manager) postSnapshot(snap Snapshot) {
	select {
	case m.queue <- snap:
	default:
	}
}

// probe is the scanner's read-only query against the current tunnel.
func (m *Manager) probe() Snapshot {
	return m.tunnel.Query(m.currentHandle())
}

func (m *Manager) currentHandle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

func (m *Manager) setHandle(h *Handle) {
	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()
}

// clearHandle drops the current handle and reaps a tunnel process
// that outlived its connection.
func (m *Manager) clearHandle() {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h != nil && h.processAlive() {
		if err := m.tunnel.Stop(h); err != nil {
			common.LogWarn("Tunnel cleanup: %v", err)
		}
	}
}

// run is the single consumer of the event queue.
func (m *Manager) run(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			m.drain()
			return
		case item := <-m.queue:
			m.dispatch(item)
		}
	}
}

// drain refuses queued requests after shutdown so no caller hangs on
// a reply that will never come.
func (m *Manager) drain() {
	for {
		select {
		case item := <-m.queue:
			switch it := item.(type) {
			case connectRequest:
				it.reply <- errNotRunning
			case disconnectRequest:
				it.reply <- errNotRunning
			case adoptRequest:
				it.reply <- errNotRunning
			case setModeRequest:
				it.reply <- errNotRunning
			case cycleModeRequest:
				it.reply <- modeReply{mode: m.ks.Mode(), err: errNotRunning}
			}
		default:
			return
		}
	}
}

func (m *Manager) dispatch(item any) {
	switch it := item.(type) {
	case connectRequest:
		it.reply <- m.handleConnect(it)
	case disconnectRequest:
		it.reply <- m.handleDisconnect()
	case adoptRequest:
		it.reply <- m.handleAdopt(it)
	case setModeRequest:
		it.reply <- m.ks.SetMode(it.mode, m.machine.state)
	case cycleModeRequest:
		mode, err := m.ks.CycleMode(m.machine.state)
		it.reply <- modeReply{mode: mode, err: err}
	case Snapshot:
		m.handleSnapshot(it)
	}
}

func (m *Manager) handleConnect(req connectRequest) error {
	profile, err := m.profiles.Get(req.profileID)
	if err != nil {
		return err
	}

	ev, err := m.machine.requestConnect(profile, time.Now())
	if err != nil {
		return err
	}
	m.publishTransition(ev)

	_ = m.profiles.MarkUsed(profile.ID)

	handle, startErr := m.tunnel.Start(profile, req.creds)
	if startErr != nil {
		// A launch that fails outright resolves the attempt through
		// the same path a timed-out connect takes.
		fail := m.machine.abort(common.WrapError(common.ErrConnectTimeout, startErr.Error()))
		m.publishTransition(fail)
		return startErr
	}

	m.setHandle(handle)
	return nil
}

func (m *Manager) handleAdopt(req adoptRequest) error {
	profile, err := m.profiles.Get(req.profileID)
	if err != nil {
		return err
	}
	if profile.Protocol != ProtocolWireGuard {
		return common.WrapError(common.ErrInvalidProfile, "only wireguard tunnels can be adopted")
	}

	ev, err := m.machine.requestConnect(profile, time.Now())
	if err != nil {
		return err
	}
	m.publishTransition(ev)

	m.setHandle(&Handle{Profile: profile, Interface: wgInterfaceName(profile.ConfigPath)})
	common.LogInfo("Adopted running tunnel for profile %s", profile.Name)
	return nil
}

func (m *Manager) handleDisconnect() error {
	ev, err := m.machine.requestDisconnect(time.Now())
	if err != nil {
		return err
	}
	m.publishTransition(ev)

	if h := m.currentHandle(); h != nil {
		if err := m.tunnel.Stop(h); err != nil {
			// The scanner confirms the teardown either way and the
			// disconnect budget bounds the wait.
			common.LogWarn("Tunnel stop: %v", err)
		}
	}
	return nil
}

func (m *Manager) handleSnapshot(snap Snapshot) {
	ev, changed := m.machine.observe(snap, time.Now(), m.budgets)
	if !changed {
		if m.machine.state == common.StateConnected {
			// Details refreshed in place.
			m.refreshStatus()
		}
		return
	}

	if ev.To == common.StateDisconnected {
		m.clearHandle()
	}
	m.publishTransition(ev)
}

// publishTransition updates the published snapshot, lets the
// kill-switch engine enforce, and then notifies subscribers.
// Enforcement runs before notification so a Blocking decision is in
// place by the time consumers observe the transition.
func (m *Manager) publishTransition(ev common.ConnectionEvent) {
	m.refreshStatus()

	if ev.Err != nil {
		common.LogWarn("Connection: %s -> %s (%v)", ev.From, ev.To, ev.Err)
	} else {
		common.LogInfo("Connection: %s -> %s", ev.From, ev.To)
	}

	if err := m.ks.HandleTransition(ev); err != nil {
		common.LogError("Kill switch: %v", err)
		m.bus.Publish(Event{Type: EventWarning, Payload: WarningPayload{
			Message: "kill switch enforcement failed",
			Err:     err,
		}})
	}

	m.bus.Publish(Event{Type: EventStateChanged, Payload: StatePayload{
		Transition: ev,
		Status:     m.Status(),
	}})
}

func (m *Manager) refreshStatus() {
	snap := m.machine.status()
	m.mu.Lock()
	m.statusSnap = snap
	m.mu.Unlock()
}
