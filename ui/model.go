package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/killswitch"
	"github.com/yllada/vpn-guard/telemetry"
	"github.com/yllada/vpn-guard/vpn"
)

// Messages bridged into the program from outside goroutines.
type (
	stateMsg      vpn.StatePayload
	killSwitchMsg killswitch.Change
	warningMsg    string
	telemetryMsg  telemetry.Report
	actionMsg     struct{ err error }
)

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	KillSwitch key.Binding
	Refresh    key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Disconnect, k.KillSwitch, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Connect, k.Disconnect},
		{k.KillSwitch, k.Refresh, k.Quit},
	}
}

var defaultKeys = keyMap{
	Up:         key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "up")),
	Down:       key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "down")),
	Connect:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "connect")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
	KillSwitch: key.NewBinding(key.WithKeys("k"), key.WithHelp("k", "kill switch")),
	Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh net info")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// eventLine is one entry in the recent-events pane.
type eventLine struct {
	at   time.Time
	text string
	bad  bool
}

// model renders the dashboard. All state it shows arrives as messages;
// the handlers never call back into the manager synchronously.
type model struct {
	app *App

	status    vpn.Status
	ksMode    killswitch.Mode
	ksState   killswitch.State
	report    telemetry.Report
	hasReport bool
	events    []eventLine
	notice    string

	profiles []*vpn.Profile
	table    table.Model
	spin     spinner.Model
	help     help.Model
	keys     keyMap
	st       styles

	width  int
	height int
}

func newModel(app *App) model {
	st := newStyles(app.cfg.Theme)

	profiles := app.profiles.List()
	columns := []table.Column{
		{Title: "NAME", Width: 18},
		{Title: "PROTO", Width: 10},
		{Title: "LOCATION", Width: 14},
		{Title: "LAST USED", Width: 16},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(profileRows(profiles)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true).Foreground(lipgloss.Color(colorAccent))
	ts.Selected = ts.Selected.Bold(true).Background(lipgloss.Color(colorAccent)).Foreground(lipgloss.Color("231"))
	tbl.SetStyles(ts)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(st.warn))

	return model{
		app:      app,
		status:   app.manager.Status(),
		ksMode:   app.manager.KillSwitch().Mode(),
		ksState:  app.manager.KillSwitch().State(),
		profiles: profiles,
		table:    tbl,
		spin:     sp,
		help:     help.New(),
		keys:     defaultKeys,
		st:       st,
	}
}

func profileRows(profiles []*vpn.Profile) []table.Row {
	rows := make([]table.Row, 0, len(profiles))
	for _, p := range profiles {
		lastUsed := "never"
		if !p.LastUsed.IsZero() {
			lastUsed = p.LastUsed.Format("2006-01-02 15:04")
		}
		rows = append(rows, table.Row{p.Name, string(p.Protocol), p.Location, lastUsed})
	}
	return rows
}

func (m model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Connect):
			return m, m.connectSelected()
		case key.Matches(msg, m.keys.Disconnect):
			return m, m.disconnect()
		case key.Matches(msg, m.keys.KillSwitch):
			return m, m.cycleKillSwitch()
		case key.Matches(msg, m.keys.Refresh):
			m.app.refreshTelemetry()
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case stateMsg:
		m.status = msg.Status
		text, bad := transitionText(msg.Transition)
		m.pushEvent(text, bad)
		if msg.Transition.EnteredConnected() {
			m.notice = ""
		}
		return m, nil

	case killSwitchMsg:
		change := killswitch.Change(msg)
		m.ksMode, m.ksState = change.NewMode, change.NewState
		m.pushEvent(
			fmt.Sprintf("Kill switch %s (%s)", change.NewMode, change.NewState),
			change.NewState == killswitch.StateBlocking,
		)
		return m, nil

	case warningMsg:
		m.notice = string(msg)
		m.pushEvent(string(msg), true)
		return m, nil

	case telemetryMsg:
		m.report = telemetry.Report(msg)
		m.hasReport = true
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		} else {
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// connectSelected launches a connection attempt for the highlighted
// profile. Credential lookup and the connect call run off the render
// loop.
func (m model) connectSelected() tea.Cmd {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.profiles) {
		return nil
	}
	p := m.profiles[idx]
	app := m.app
	return func() tea.Msg {
		creds, err := app.credentialsFor(p)
		if err != nil {
			return actionMsg{err}
		}
		return actionMsg{app.manager.Connect(p.ID, creds)}
	}
}

func (m model) disconnect() tea.Cmd {
	app := m.app
	return func() tea.Msg {
		return actionMsg{app.manager.Disconnect()}
	}
}

func (m model) cycleKillSwitch() tea.Cmd {
	app := m.app
	return func() tea.Msg {
		_, err := app.manager.CycleKillSwitch()
		return actionMsg{err}
	}
}

func (m *model) pushEvent(text string, bad bool) {
	line := eventLine{at: time.Now(), text: text, bad: bad}
	m.events = append([]eventLine{line}, m.events...)
	if len(m.events) > 32 {
		m.events = m.events[:32]
	}
}

// transitionText renders one state change for the events pane.
func transitionText(ev common.ConnectionEvent) (string, bool) {
	to := strings.TrimSuffix(ev.To.String(), "...")
	switch {
	case ev.Err != nil:
		return fmt.Sprintf("%s (%v)", to, ev.Err), true
	case ev.LeftConnected() && !ev.UserInitiated:
		return fmt.Sprintf("Connection dropped (%s)", ev.Profile), true
	case ev.Profile != "":
		return fmt.Sprintf("%s (%s)", to, ev.Profile), false
	default:
		return to, false
	}
}

func (m model) View() string {
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.statusPanel(),
		m.killSwitchPanel(),
		m.telemetryPanel(),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.profilesPanel(),
		m.eventsPanel(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	parts := []string{m.st.title.Render(common.AppName), body}
	if m.notice != "" {
		parts = append(parts, m.st.notice.Render(m.notice))
	}
	parts = append(parts, m.st.help.Render(m.help.View(m.keys)))
	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

func (m model) statusPanel() string {
	state := m.status.State.String()
	var styled string
	switch m.status.State {
	case common.StateConnected:
		styled = m.st.good.Render(state)
	case common.StateConnecting, common.StateDisconnecting:
		styled = m.st.warn.Render(m.spin.View() + " " + state)
	default:
		styled = m.st.muted.Render(state)
	}

	rows := []string{m.kv("State", styled)}
	profile := m.status.Profile
	if profile == "" {
		profile = "-"
	}
	rows = append(rows, m.kv("Profile", m.st.value.Render(profile)))

	if m.status.State == common.StateConnected && !m.status.Since.IsZero() {
		rows = append(rows, m.kv("Uptime", m.st.value.Render(formatAge(time.Since(m.status.Since)))))
	}
	if d := m.status.Details; d != nil {
		if d.Interface != "" {
			rows = append(rows, m.kv("Interface", m.st.value.Render(d.Interface)))
		}
		if d.InternalIP != "" {
			rows = append(rows, m.kv("Internal IP", m.st.value.Render(d.InternalIP)))
		}
		if !d.LastHandshake.IsZero() {
			rows = append(rows, m.kv("Handshake", m.st.value.Render(formatAge(time.Since(d.LastHandshake))+" ago")))
		}
		if d.RxBytes > 0 || d.TxBytes > 0 {
			transfer := fmt.Sprintf("%s ↓ / %s ↑", common.FormatBytes(d.RxBytes), common.FormatBytes(d.TxBytes))
			rows = append(rows, m.kv("Transfer", m.st.value.Render(transfer)))
		}
	}
	if m.status.LastError != nil {
		rows = append(rows, m.kv("Last error", m.st.bad.Render(m.status.LastError.Error())))
	}
	return m.panel("Connection", rows)
}

func (m model) killSwitchPanel() string {
	var state string
	switch m.ksState {
	case killswitch.StateBlocking:
		state = m.st.bad.Render(m.ksState.String())
	case killswitch.StateArmed:
		state = m.st.good.Render(m.ksState.String())
	default:
		state = m.st.muted.Render(m.ksState.String())
	}
	rows := []string{
		m.kv("Mode", m.st.value.Render(m.ksMode.String())),
		m.kv("State", state),
	}
	return m.panel("Kill Switch", rows)
}

func (m model) telemetryPanel() string {
	if m.app.collector == nil {
		return m.panel("Network", []string{m.st.muted.Render("disabled in config")})
	}
	if !m.hasReport {
		return m.panel("Network", []string{m.st.muted.Render("collecting...")})
	}

	r := m.report
	orDash := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}

	rows := []string{
		m.kv("Public IP", m.st.value.Render(orDash(r.PublicIP))),
		m.kv("Provider", m.st.value.Render(orDash(r.ISP))),
		m.kv("Location", m.st.value.Render(orDash(r.Location))),
	}
	if len(r.DNS) > 0 {
		dns := strings.Join(r.DNS, ", ")
		rows = append(rows, m.kv("DNS", m.st.value.Render(dns)))
	}
	if r.LatencyMs > 0 || r.PacketLoss > 0 {
		latency := fmt.Sprintf("%d ms (%.1f%% loss)", r.LatencyMs, r.PacketLoss)
		rows = append(rows, m.kv("Latency", m.st.value.Render(latency)))
		rows = append(rows, m.kv("Jitter", m.st.value.Render(fmt.Sprintf("%d ms", r.JitterMs))))
	}
	if r.IPv6Checked {
		if r.IPv6Leak {
			rows = append(rows, m.kv("IPv6", m.st.bad.Render("LEAK DETECTED")))
		} else {
			rows = append(rows, m.kv("IPv6", m.st.good.Render("no leak")))
		}
	}
	if r.LastError != "" {
		rows = append(rows, m.kv("Problem", m.st.warn.Render(r.LastError)))
	}
	if !r.CollectedAt.IsZero() {
		rows = append(rows, m.st.muted.Render("as of "+r.CollectedAt.Format("15:04:05")))
	}
	return m.panel("Network", rows)
}

func (m model) profilesPanel() string {
	if len(m.profiles) == 0 {
		msg := m.st.muted.Render("No profiles. Import one with vpn-guard --import.")
		return m.panel("Profiles", []string{msg})
	}
	content := m.st.panelTitle.Render("Profiles") + "\n" + m.table.View()
	return m.st.panel.Render(content)
}

func (m model) eventsPanel() string {
	if len(m.events) == 0 {
		return m.panel("Recent Events", []string{m.st.muted.Render("none yet")})
	}
	limit := 6
	if len(m.events) < limit {
		limit = len(m.events)
	}
	rows := make([]string, 0, limit)
	for _, e := range m.events[:limit] {
		text := m.st.value.Render(e.text)
		if e.bad {
			text = m.st.bad.Render(e.text)
		}
		rows = append(rows, m.st.muted.Render(e.at.Format("15:04:05"))+" "+text)
	}
	return m.panel("Recent Events", rows)
}

func (m model) kv(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.st.label.Render(label), value)
}

func (m model) panel(title string, rows []string) string {
	content := m.st.panelTitle.Render(title) + "\n" + strings.Join(rows, "\n")
	return m.st.panel.Width(42).Render(content)
}

// formatAge formats a duration in a compact human-readable form.
func formatAge(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
