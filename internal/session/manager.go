package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shellback/shellback/internal/logutil"
)

// cleanupInterval is how often the manager scans for idle detached
// sessions.
const cleanupInterval = time.Minute

// Manager tracks all live sessions keyed by session ID. Sessions survive
// consumer detach (the connection and scrollback stay alive) and are
// reaped by a background loop once they have been detached and idle for
// longer than the configured timeout.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Orchestrator

	idleTimeout time.Duration

	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup

	// OnClosed, when set, is called after a session is closed and removed
	// (used to write the session's history record). Set before Add.
	OnClosed func(o *Orchestrator)
}

// NewManager creates a session manager. idleTimeout <= 0 disables idle
// cleanup entirely.
func NewManager(idleTimeout time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:      make(map[string]*Orchestrator),
		idleTimeout:   idleTimeout,
		cleanupCancel: cancel,
	}
	if idleTimeout > 0 {
		m.cleanupWg.Add(1)
		go m.cleanupLoop(ctx)
	}
	return m
}

// Add registers a session with the manager.
func (m *Manager) Add(o *Orchestrator) {
	m.mu.Lock()
	m.sessions[o.ID()] = o
	count := len(m.sessions)
	m.mu.Unlock()
	log.Printf("[session] added %s (%s), %d session(s) live", o.ID(), logutil.SanitizeForLog(o.Profile()), count)
}

// Get returns the session with the given ID, or an error if none exists.
func (m *Manager) Get(id string) (*Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no session %q", id)
	}
	return o, nil
}

// List returns all live sessions.
func (m *Manager) List() []*Orchestrator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Orchestrator, 0, len(m.sessions))
	for _, o := range m.sessions {
		out = append(out, o)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends the session with the given ID and removes it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	o, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no session %q", id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	o.Close()
	if m.OnClosed != nil {
		m.OnClosed(o)
	}
	log.Printf("[session] closed %s", id)
	return nil
}

// CloseAll stops the cleanup loop and ends every session. Called at
// shutdown.
func (m *Manager) CloseAll() {
	m.cleanupCancel()
	m.cleanupWg.Wait()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Orchestrator)
	m.mu.Unlock()

	for _, o := range sessions {
		o.Close()
		if m.OnClosed != nil {
			m.OnClosed(o)
		}
	}
	if len(sessions) > 0 {
		log.Printf("[session] closed all %d session(s)", len(sessions))
	}
}

// cleanupLoop reaps sessions that are detached and idle past the timeout.
func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.cleanupWg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.RLock()
	var stale []string
	for id, o := range m.sessions {
		if !o.Attached() && o.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		log.Printf("[session] reaping idle detached session %s", id)
		if err := m.Close(id); err != nil {
			log.Printf("[session] reap %s: %v", id, err)
		}
	}
}
