// Package common provides the shared foundation for VPN Guard:
// constants, the error taxonomy, connection state types, logging, and
// small filesystem helpers.
//
// The package has no dependencies on the other vpn-guard packages, so
// anything may import it:
//
//   - Constants: directory and file names, timeout and interval
//     defaults, telemetry probe endpoints
//   - Errors: sentinel values matched with errors.Is, plus WrapError
//   - Connection types: ConnState and ConnectionEvent, shared between
//     the connection machine, the kill switch, and every consumer of
//     transition events
//   - Logger: the process-wide leveled logger with file rotation
//   - Utils: user directory resolution, path expansion, formatting
//
// Typical use:
//
//	common.LogInfo("Connecting to %s", profile.Name)
//
//	if errors.Is(err, common.ErrProfileNotFound) {
//		// surface the lookup failure
//	}
package common
