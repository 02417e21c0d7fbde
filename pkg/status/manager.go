// Package status implements the connection-status state machine and
// observer list shared by every backend that has a connection lifecycle
// (C4): disconnected → connecting → connected → reconnecting →
// connecting → connected, with destroyed terminal and absorbing from any
// state.
package status

import (
	"sync"
	"time"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
)

// Manager holds a single connection status value and an ordered list of
// observers, invoked synchronously in registration order on each
// transition.
type Manager struct {
	mu        sync.Mutex
	status    agentbe.ConnectionStatus
	nextID    int
	observers []observer
}

type observer struct {
	id int
	cb agentbe.StatusChangeCallback
}

// New creates a Manager starting at the given status.
func New(initial agentbe.ConnectionStatus) *Manager {
	return &Manager{status: initial}
}

// Status returns the current status.
func (m *Manager) Status() agentbe.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers cb and returns an Unsubscribe handle.
func (m *Manager) Subscribe(cb agentbe.StatusChangeCallback) agentbe.Unsubscribe {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers = append(m.observers, observer{id: id, cb: cb})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Set transitions to "to", unless the current status is destroyed (the
// absorbing terminal state — no transition out of it is accepted).
// Observers registered before the call are invoked synchronously, in
// registration order, on a snapshot of the observer list taken before
// dispatch (so an observer that subscribes or unsubscribes during
// dispatch cannot perturb the current dispatch, per §5). A panicking
// observer does not abort the transition or the remaining dispatch.
func (m *Manager) Set(to agentbe.ConnectionStatus, err error) {
	m.mu.Lock()
	from := m.status
	if from == agentbe.StatusDestroyed {
		m.mu.Unlock()
		return
	}
	m.status = to
	snapshot := make([]observer, len(m.observers))
	copy(snapshot, m.observers)
	m.mu.Unlock()

	event := agentbe.StatusChangeEvent{From: from, To: to, Err: err, Timestamp: time.Now()}
	for _, o := range snapshot {
		dispatch(o.cb, event)
	}
}

func dispatch(cb agentbe.StatusChangeCallback, event agentbe.StatusChangeEvent) {
	defer func() {
		_ = recover()
	}()
	cb(event)
}

// ClearListeners drops every registered observer. Called only as part of
// destroy.
func (m *Manager) ClearListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = nil
}

// ObserverCount reports how many observers are currently registered.
func (m *Manager) ObserverCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}
