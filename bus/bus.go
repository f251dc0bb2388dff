// Package bus implements the in-process broadcast event bus that the
// application shell and the event bridge communicate over. Events are
// named channels carrying an opaque JSON payload; any number of
// listeners may be registered per name.
package bus

import (
	"encoding/json"
	"sync"
)

// Handler receives the payload of an emitted event.
type Handler func(payload json.RawMessage)

// ListenerID identifies a registered listener for later removal.
type ListenerID uint64

// Bus is a concurrency-safe named-event broadcaster. The zero value is
// not usable; construct with New.
type Bus struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners map[string]map[ListenerID]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{listeners: make(map[string]map[ListenerID]Handler)}
}

// Listen registers a handler for the named event and returns its id.
// The handler runs on its own goroutine per emission.
func (b *Bus) Listen(event string, h Handler) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	m, ok := b.listeners[event]
	if !ok {
		m = make(map[ListenerID]Handler)
		b.listeners[event] = m
	}
	m[id] = h
	return id
}

// Unlisten removes a listener. Removing an unknown id is a no-op, so
// teardown paths can call it unconditionally.
func (b *Bus) Unlisten(event string, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.listeners[event]
	if !ok {
		return
	}
	delete(m, id)
	if len(m) == 0 {
		delete(b.listeners, event)
	}
}

// Emit delivers payload to every listener registered for event at the
// moment of the call. Delivery is asynchronous; Emit never blocks on a
// slow handler.
func (b *Bus) Emit(event string, payload json.RawMessage) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.listeners[event]))
	for _, h := range b.listeners[event] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		go h(payload)
	}
}

// EmitJSON marshals v and emits it. Marshal failures are reported to
// the caller instead of being delivered as a broken payload.
func (b *Bus) EmitJSON(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Emit(event, data)
	return nil
}

// ListenerCount reports how many listeners are registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}
