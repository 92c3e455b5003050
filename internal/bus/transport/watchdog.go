package transport

import (
	"fmt"
	"time"
)

// watchdog reopens the port while the manager is connected but the port
// was marked closed by an I/O failure.
func (m *Manager) watchdog(done *closeOnce) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done.Done():
			return
		case <-ticker.C:
			m.checkPort()
		}
	}
}

// checkPort makes one reopen attempt. It only runs when the gate is free.
func (m *Manager) checkPort() {
	defer func() {
		if r := recover(); r != nil {
			m.getLogger().Error("watchdog panic recovered", "panic", r)
		}
	}()

	m.mu.RLock()
	needed := m.connected && m.port == nil
	name := m.portName
	m.mu.RUnlock()

	if !needed || !m.tryAcquire() {
		return
	}
	defer m.release()

	port, err := m.cfg.Open(name)

	m.mu.Lock()
	if err != nil {
		m.lastErr = fmt.Errorf("reopen %s: %w", name, err)
		m.mu.Unlock()
		m.getLogger().Warn("watchdog reopen failed", "port", name, "error", err)
		return
	}
	if !m.connected {
		m.mu.Unlock()
		_ = port.Close() //nolint:errcheck // disconnected meanwhile
		return
	}
	m.port = port
	m.lastErr = nil
	m.mu.Unlock()

	m.reopens.Add(1)
	m.getLogger().Info("watchdog reopened port", "port", name)
}
