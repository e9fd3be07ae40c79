// Package bus fans out framegrab events (status changes, new frames) to
// in-process subscribers such as /events WebSocket clients.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is a named payload. Raw holds the JSON encoding of Payload.
type Event struct {
	Name    string
	Payload any
	Raw     json.RawMessage
}

// EventHandler must not block or publish; slow consumers should drop.
type EventHandler func(Event)

// StatusBus broadcasts events to subscribers and remembers the last event of
// each name so late subscribers can be primed.
type StatusBus struct {
	// pubMu serializes publishers so subscribers see events in the order
	// they were recorded as last.
	pubMu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[string]EventHandler

	lastMu sync.Mutex
	last   map[string]Event
}

func New() *StatusBus {
	return &StatusBus{
		subscribers: make(map[string]EventHandler),
		last:        make(map[string]Event),
	}
}

// Subscribe registers handler under id, replacing any previous one.
func (b *StatusBus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes a subscriber.
func (b *StatusBus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subscribers, id)
}

// Publish encodes payload and broadcasts it unconditionally.
func (b *StatusBus) Publish(name string, payload any) {
	ev, ok := encode(name, payload)
	if !ok {
		return
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.lastMu.Lock()
	b.last[name] = ev
	b.lastMu.Unlock()
	b.broadcast(ev)
}

// PublishChanged broadcasts only when the encoded payload differs from the
// last event of the same name. Returns whether it was broadcast.
func (b *StatusBus) PublishChanged(name string, payload any) bool {
	ev, ok := encode(name, payload)
	if !ok {
		return false
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.lastMu.Lock()
	prev, seen := b.last[name]
	if seen && string(prev.Raw) == string(ev.Raw) {
		b.lastMu.Unlock()
		return false
	}
	b.last[name] = ev
	b.lastMu.Unlock()

	b.broadcast(ev)
	return true
}

// Last returns the most recent event published under name.
func (b *StatusBus) Last(name string) (Event, bool) {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()
	ev, ok := b.last[name]
	return ev, ok
}

// Subscribers returns the current subscriber count.
func (b *StatusBus) Subscribers() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers)
}

func (b *StatusBus) broadcast(ev Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, handler := range b.subscribers {
		handler(ev)
	}
}

func encode(name string, payload any) (Event, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event failed", "event", name, "error", err)
		return Event{}, false
	}
	return Event{Name: name, Payload: payload, Raw: raw}, true
}
