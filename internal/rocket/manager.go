package rocket

import (
	"sync"
	"time"
)

// ManagedConnection is the subset of ConnectionCore a Manager drives (§4.8):
// the shutdown/timeout signals a connection manager delivers into the core.
type ManagedConnection interface {
	// ID is the connection's correlation identifier (a UUID string),
	// used as the manager's map key.
	ID() string
	// NotifyPendingShutdown is a no-op marker for drain start.
	NotifyPendingShutdown()
	// DropConnection forces an immediate close regardless of in-flight work.
	DropConnection()
	// CloseWhenIdle closes gracefully, preconditioned on !isBusy(); a no-op
	// if the connection is currently busy (the manager is expected to retry
	// via TimeoutExpired on its own schedule).
	CloseWhenIdle()
	// TimeoutExpired is called by the manager's idle-timeout sweep; it
	// triggers CloseWhenIdle if the connection is not busy.
	TimeoutExpired()
}

// Manager is the contract ManagerInterface (§4.8) exposes to ConnectionCore:
// registration at the start and end of a connection's life.
type Manager interface {
	AddConnection(c ManagedConnection)
	RemoveConnection(c ManagedConnection)
}

// ConnManager is a concrete, in-process Manager implementation tracking
// every live connection by its UUID correlation ID and exposing fleet-wide
// shutdown. It plays the role the teacher's internal/server.Server plays for
// HTTP/2 connections (an activeConns set plus shutdown orchestration), here
// generalized to the ManagerInterface contract and instrumented with the
// connection-count metrics (§ DOMAIN STACK).
type ConnManager struct {
	mu       sync.Mutex
	conns    map[string]ManagedConnection
	metrics  ConnMetrics
	draining bool
	stopIdle chan struct{}
}

// ConnMetrics is the subset of internal/metrics this package depends on,
// kept as an interface here so internal/rocket never imports
// internal/metrics directly, avoiding an import-cycle-prone dependency in
// the core protocol package.
type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed(reason string)
}

// NewConnManager creates an empty manager. metrics may be nil, in which case
// connection-count metrics are not recorded.
func NewConnManager(metrics ConnMetrics) *ConnManager {
	return &ConnManager{conns: make(map[string]ManagedConnection), metrics: metrics}
}

func (m *ConnManager) AddConnection(c ManagedConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID()] = c
	if m.metrics != nil {
		m.metrics.ConnectionOpened()
	}
	if m.draining {
		c.NotifyPendingShutdown()
	}
}

func (m *ConnManager) RemoveConnection(c ManagedConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[c.ID()]; !ok {
		return
	}
	delete(m.conns, c.ID())
	if m.metrics != nil {
		m.metrics.ConnectionClosed("closed")
	}
}

// Len reports the number of connections currently tracked.
func (m *ConnManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// BeginDrain marks the fleet as draining and notifies every live connection;
// new connections added afterward are notified immediately in AddConnection.
func (m *ConnManager) BeginDrain() {
	m.mu.Lock()
	m.draining = true
	conns := make([]ManagedConnection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.NotifyPendingShutdown()
	}
}

// CloseIdle asks every currently idle connection to close gracefully.
func (m *ConnManager) CloseIdle() {
	m.mu.Lock()
	conns := make([]ManagedConnection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.CloseWhenIdle()
	}
}

// DropAll forces every connection closed immediately, used when a graceful
// drain deadline expires.
func (m *ConnManager) DropAll() {
	m.mu.Lock()
	conns := make([]ManagedConnection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.DropConnection()
	}
}

// StartIdleSweep begins a ticker, firing every interval, that calls
// TimeoutExpired on every connection currently tracked (ServerConfig's
// IdleTimeout is expected to be passed as interval: a connection found idle
// on one sweep is closed on the spot, so the interval is itself the idle
// timeout granularity). TimeoutExpired is a no-op on a connection that is
// currently busy, so long-lived in-progress streams are left alone. A
// no-op if a sweep is already running; stop it first with StopIdleSweep.
func (m *ConnManager) StartIdleSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.stopIdle != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stopIdle = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepIdle()
			case <-stop:
				return
			}
		}
	}()
}

// StopIdleSweep stops a sweep started by StartIdleSweep. A no-op if none is
// running.
func (m *ConnManager) StopIdleSweep() {
	m.mu.Lock()
	stop := m.stopIdle
	m.stopIdle = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (m *ConnManager) sweepIdle() {
	m.mu.Lock()
	conns := make([]ManagedConnection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.TimeoutExpired()
	}
}
