package vpn

import (
	"sync"

	"github.com/yllada/vpn-guard/common"
	"github.com/yllada/vpn-guard/killswitch"
)

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	// EventStateChanged fires on every connection state transition.
	EventStateChanged EventType = iota
	// EventKillSwitchChanged fires on every kill-switch transition.
	EventKillSwitchChanged
	// EventWarning carries a user-visible problem that did not stop
	// the engine, such as a failed firewall apply.
	EventWarning
)

// Event carries data about something that happened in the system.
type Event struct {
	Type    EventType
	Payload any
}

// StatePayload is the payload for EventStateChanged.
type StatePayload struct {
	Transition common.ConnectionEvent
	Status     Status
}

// KillSwitchPayload is the payload for EventKillSwitchChanged.
type KillSwitchPayload struct {
	Change killswitch.Change
}

// WarningPayload is the payload for EventWarning.
type WarningPayload struct {
	Message string
	Err     error
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between the manager and its consumers
// (UI, notifications, history).
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (eb *EventBus) Subscribe(t EventType, h Handler) {
	eb.mu.Lock()
	eb.handlers[t] = append(eb.handlers[t], h)
	eb.mu.Unlock()
}

// Publish fires an event to all subscribed handlers synchronously, in
// subscription order.
func (eb *EventBus) Publish(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
