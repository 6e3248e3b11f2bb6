package bridge

// Event types delivered to listeners.
const (
	EventStateChanged = "outlet.state_changed"
	EventTelemetry    = "outlet.telemetry"
	EventRemoved      = "outlet.removed"
	EventDiscovery    = "bridge.discovery"
)

// Event is a change observed by the bridge. Payload is the same message
// published on MQTT for the event.
type Event struct {
	Type     string
	DeviceID string
	Payload  any
}

// Listener receives bridge events. It is called synchronously from the
// goroutine that produced the event and must not block.
type Listener func(Event)

// AddListener registers l for every subsequent event.
func (b *Bridge) AddListener(l Listener) {
	if l == nil {
		return
	}
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, l)
	b.listenersMu.Unlock()
}

func (b *Bridge) emit(ev Event) {
	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}
