package ui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/config"
	"github.com/yllada/vpn-guard/history"
	"github.com/yllada/vpn-guard/keyring"
	"github.com/yllada/vpn-guard/killswitch"
	"github.com/yllada/vpn-guard/telemetry"
	"github.com/yllada/vpn-guard/vpn"
)

// App owns the long-lived pieces behind the terminal interface: the
// connection manager, the kill-switch engine it drives, and the
// optional history and telemetry collaborators.
type App struct {
	cfg       *config.Config
	manager   *vpn.Manager
	profiles  *vpn.ProfileManager
	collector *telemetry.Collector
	hist      *history.Store

	// uiEvents decouples bus publishers from the program's inbox.
	uiEvents chan tea.Msg
}

// NewApp wires the application from the loaded configuration.
func NewApp(cfg *config.Config) (*App, error) {
	pm, err := vpn.NewProfileManager()
	if err != nil {
		return nil, err
	}

	dir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	store, err := killswitch.NewFileStore(dir)
	if err != nil {
		return nil, err
	}

	// The backend samples its rule inputs at apply time; the manager
	// pointer is bound after construction, before anything applies.
	var mgr *vpn.Manager
	backend, err := killswitch.NewBackend(cfg.KillSwitch.Backend, killswitch.Options{
		AllowLAN:  cfg.KillSwitch.AllowLAN,
		Endpoints: pm.AllEndpoints,
		TunnelInterface: func() string {
			if mgr == nil {
				return ""
			}
			if d := mgr.Status().Details; d != nil {
				return d.Interface
			}
			return ""
		},
	})
	if err != nil {
		return nil, err
	}

	eng, err := killswitch.New(store, backend, killswitch.EngineOptions{
		ApplyRetries: cfg.KillSwitch.ApplyRetries,
	})
	if err != nil {
		// The engine is usable regardless; surface the enforcement
		// trouble and keep going.
		common.LogWarn("Kill switch startup: %v", err)
	}

	mgr = vpn.NewManager(cfg, pm, eng)

	app := &App{
		cfg:      cfg,
		manager:  mgr,
		profiles: pm,
		uiEvents: make(chan tea.Msg, 64),
	}

	if cfg.History.Enabled {
		hist, err := history.OpenDefault()
		if err != nil {
			common.LogWarn("History disabled: %v", err)
		} else {
			history.Attach(mgr.Events(), hist)
			app.hist = hist
		}
	}
	if cfg.Telemetry.Enabled {
		app.collector = telemetry.New(cfg.TelemetryEvery())
	}
	if cfg.ShowNotifications {
		bindNotifications(mgr.Events())
	}
	return app, nil
}

// Run starts the collaborators, takes over an already-running tunnel
// if one exists, and blocks in the terminal interface until the user
// quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.manager.Start()
	defer a.manager.Stop()
	if a.collector != nil {
		a.collector.Start()
		defer a.collector.Stop()
	}
	if a.hist != nil {
		defer a.hist.Close()
	}

	if active, _ := vpn.ActiveProfile(a.profiles); active != nil && active.Protocol == vpn.ProtocolWireGuard {
		if err := a.manager.Adopt(active.ID); err != nil {
			common.LogWarn("Could not adopt running tunnel for %s: %v", active.Name, err)
		}
	}

	// Console log lines would tear the alternate screen.
	common.GetLogger().DisableConsole()

	p := tea.NewProgram(newModel(a), tea.WithAltScreen(), tea.WithContext(ctx))
	stopPumps := a.startPumps(ctx, p)
	defer stopPumps()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// startPumps bridges manager events and telemetry reports into the
// program. Bus handlers must not block the publisher, so they feed a
// buffered channel and a forwarder goroutine does the sending.
func (a *App) startPumps(ctx context.Context, p *tea.Program) func() {
	stop := make(chan struct{})

	push := func(msg tea.Msg) {
		select {
		case a.uiEvents <- msg:
		default:
			// Drop rather than stall the publisher.
		}
	}

	bus := a.manager.Events()
	bus.Subscribe(vpn.EventStateChanged, func(e vpn.Event) {
		if pay, ok := e.Payload.(vpn.StatePayload); ok {
			push(stateMsg(pay))
		}
	})
	bus.Subscribe(vpn.EventKillSwitchChanged, func(e vpn.Event) {
		if pay, ok := e.Payload.(vpn.KillSwitchPayload); ok {
			push(killSwitchMsg(pay.Change))
		}
	})
	bus.Subscribe(vpn.EventWarning, func(e vpn.Event) {
		if pay, ok := e.Payload.(vpn.WarningPayload); ok {
			push(warningMsg(pay.Message))
		}
	})

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case msg := <-a.uiEvents:
				p.Send(msg)
			}
		}
	}()

	if a.collector != nil {
		go func() {
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case report := <-a.collector.Updates():
					p.Send(telemetryMsg(report))
				}
			}
		}()
	}

	return func() { close(stop) }
}

// refreshTelemetry kicks an immediate collection cycle.
func (a *App) refreshTelemetry() {
	if a.collector != nil {
		a.collector.Refresh()
	}
}

// credentialsFor resolves saved credentials for a profile. The
// terminal interface never prompts mid-session; unsaved credentials
// are entered through the CLI.
func (a *App) credentialsFor(p *vpn.Profile) (vpn.Credentials, error) {
	if p.Protocol != vpn.ProtocolOpenVPN {
		return vpn.Credentials{}, nil
	}
	if p.SavePassword && p.Username != "" {
		password, err := keyring.Get(p.ID)
		if err != nil {
			return vpn.Credentials{}, fmt.Errorf("saved credentials unavailable for %s: %v", p.Name, err)
		}
		return vpn.Credentials{Username: p.Username, Password: password}, nil
	}
	return vpn.Credentials{}, fmt.Errorf("no saved credentials for %s; run vpn-guard --update %q first", p.Name, p.Name)
}

// bindNotifications forwards drops, connects, and kill-switch changes
// to the desktop.
func bindNotifications(bus *vpn.EventBus) {
	bus.Subscribe(vpn.EventStateChanged, func(e vpn.Event) {
		pay, ok := e.Payload.(vpn.StatePayload)
		if !ok {
			return
		}
		ev := pay.Transition
		switch {
		case ev.To == common.StateConnected:
			NotifyConnected(ev.Profile)
		case ev.From == common.StateConnected && !ev.UserInitiated:
			NotifyDropped(ev.Profile)
		}
	})
	bus.Subscribe(vpn.EventKillSwitchChanged, func(e vpn.Event) {
		if pay, ok := e.Payload.(vpn.KillSwitchPayload); ok {
			NotifyKillSwitch(pay.Change)
		}
	})
}
