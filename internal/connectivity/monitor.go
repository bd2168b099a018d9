// Package connectivity tracks whether the delivery endpoint is reachable.
package connectivity

import "sync"

// Listener is called with the new state after every transition
type Listener func(online bool)

// Monitor holds the current reachability state and fans out transitions.
// It never polls; something else (a Prober, a test) calls SetOnline.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewMonitor creates a monitor seeded with the platform's current state
func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		online:    initial,
		listeners: make(map[int]Listener),
	}
}

// IsOnline reports the last recorded connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a transition and notifies listeners. Repeating the current
// state is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	// Listeners run outside the lock so they may call back into the monitor.
	for _, l := range listeners {
		l(online)
	}
}

// OnChange registers a listener and returns a function that removes it
func (m *Monitor) OnChange(listener Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
