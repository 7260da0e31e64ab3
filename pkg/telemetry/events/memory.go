package events

import (
	"context"
	"sync"
)

// MemoryEmitter records events in memory. Tests use it to assert emission;
// it bounds itself to the configured cap so a leaky loop cannot exhaust
// memory.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

// NewMemoryEmitter builds a recorder holding at most cap events
// (0 means 1000).
func NewMemoryEmitter(cap int) *MemoryEmitter {
	if cap <= 0 {
		cap = 1000
	}
	return &MemoryEmitter{cap: cap}
}

// Emit appends the event, evicting the oldest past the cap.
func (m *MemoryEmitter) Emit(_ context.Context, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if len(m.events) > m.cap {
		m.events = append(m.events[:0:0], m.events[len(m.events)-m.cap:]...)
	}
}

// Events returns a copy of everything recorded, oldest first.
func (m *MemoryEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Named returns the recorded events with the given name, oldest first.
func (m *MemoryEmitter) Named(name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events with the given name were recorded.
func (m *MemoryEmitter) Count(name string) int {
	return len(m.Named(name))
}

// Reset drops everything recorded.
func (m *MemoryEmitter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
