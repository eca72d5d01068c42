package history

import (
	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/vpn"
)

// Attach subscribes the store to a manager's event bus. Write failures
// are logged, never propagated into the connection path.
func Attach(bus *vpn.EventBus, store *Store) {
	bus.Subscribe(vpn.EventStateChanged, func(e vpn.Event) {
		payload, ok := e.Payload.(vpn.StatePayload)
		if !ok {
			return
		}
		if err := store.RecordConnection(payload.Transition); err != nil {
			common.LogWarn("History: %v", err)
		}
	})
	bus.Subscribe(vpn.EventKillSwitchChanged, func(e vpn.Event) {
		payload, ok := e.Payload.(vpn.KillSwitchPayload)
		if !ok {
			return
		}
		if err := store.RecordKillSwitch(payload.Change); err != nil {
			common.LogWarn("History: %v", err)
		}
	})
}
