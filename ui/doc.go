// Package ui implements the interactive terminal interface.
//
// The interface is a bubbletea program showing a live dashboard:
//
//   - Connection panel: state, profile, uptime, tunnel details
//   - Kill-switch panel: mode and enforcement state
//   - Profile table with connect/disconnect controls
//   - Network panel: public IP, latency, DNS, IPv6 leak check
//   - Recent-events pane fed from the manager's event bus
//
// # Architecture
//
// App owns the long-lived collaborators (connection manager,
// kill-switch engine, history store, telemetry collector) and bridges
// their events into the program as messages. The model is pure
// state-in, view-out: manager calls happen inside tea.Cmd functions,
// never during Update or View.
//
// Bus handlers run on the manager's event loop and must not block, so
// they feed a buffered channel that a forwarder goroutine drains into
// Program.Send. When the buffer is full the update is dropped; the
// next event carries a complete status snapshot.
//
// # File Organization
//
//   - app.go: wiring, lifecycle, and event bridging
//   - model.go: the bubbletea model, key bindings, and views
//   - styles.go: lipgloss styles and theming
//   - notifications.go: desktop notification integration
package ui
