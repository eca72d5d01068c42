package vpn

import (
	"testing"

	"github.com/yllada/vpn-guard/common"
)

func TestEventBusSubscribePublish(t *testing.T) {
	bus := NewEventBus()

	var order []string
	bus.Subscribe(EventStateChanged, func(e Event) {
		order = append(order, "first")
	})
	bus.Subscribe(EventStateChanged, func(e Event) {
		order = append(order, "second")
	})
	bus.Subscribe(EventWarning, func(e Event) {
		order = append(order, "warning")
	})

	bus.Publish(Event{Type: EventStateChanged, Payload: StatePayload{}})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handlers ran as %v, want [first second]", order)
	}
}

func TestEventBusPayloadPassthrough(t *testing.T) {
	bus := NewEventBus()

	var got Event
	bus.Subscribe(EventStateChanged, func(e Event) { got = e })

	sent := Event{Type: EventStateChanged, Payload: StatePayload{
		Transition: common.ConnectionEvent{
			From:    common.StateConnecting,
			To:      common.StateConnected,
			Profile: "office",
		},
	}}
	bus.Publish(sent)

	payload, ok := got.Payload.(StatePayload)
	if !ok {
		t.Fatalf("payload type = %T, want StatePayload", got.Payload)
	}
	if payload.Transition.Profile != "office" || payload.Transition.To != common.StateConnected {
		t.Errorf("payload = %+v, want the published transition", payload.Transition)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Publishing with no subscribers must not panic.
	bus.Publish(Event{Type: EventWarning, Payload: WarningPayload{Message: "x"}})
}
