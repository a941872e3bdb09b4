package metrics

import "sync"

// MemoryObserver accumulates events in memory, mainly for tests and
// the /health style introspection.
type MemoryObserver struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (m *MemoryObserver) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Total sums the recorded values for a counter name.
func (m *MemoryObserver) Total(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, ev := range m.events {
		if ev.Name == name {
			total += ev.Value
		}
	}
	return total
}
