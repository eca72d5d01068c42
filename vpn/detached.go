package vpn

import "time"

// Detached inspection for one-shot commands. A short-lived process
// has no manager and no handle for a tunnel some earlier invocation
// started; the system itself is the only witness, so these helpers
// read it directly.

// ProbeProfile reads the live tunnel state for one profile without a
// running manager.
func ProbeProfile(p *Profile) Snapshot {
	snap := Snapshot{At: time.Now()}
	if p == nil {
		return snap
	}

	t := &systemTunnel{}
	switch p.Protocol {
	case ProtocolWireGuard:
		details, err := t.queryWireGuard(wgInterfaceName(p.ConfigPath))
		if err != nil {
			return snap
		}
		snap.TunnelUp = true
		snap.Details = details
	case ProtocolOpenVPN:
		// Without the supervising process all that can be checked is
		// whether a tun device is up.
		iface := detectTunInterface()
		if iface == "" {
			return snap
		}
		ip, mtu := interfaceAddress(iface)
		snap.TunnelUp = true
		snap.Details = &TunnelDetails{Interface: iface, InternalIP: ip, MTU: mtu}
	}
	return snap
}

// ActiveProfile scans the known profiles and returns the first one
// with a live tunnel, or nil when nothing is up.
func ActiveProfile(pm *ProfileManager) (*Profile, Snapshot) {
	for _, p := range pm.List() {
		if snap := ProbeProfile(p); snap.TunnelUp {
			return p, snap
		}
	}
	return nil, Snapshot{At: time.Now()}
}
