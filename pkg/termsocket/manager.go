package termsocket

import (
	"fmt"
	"log"
	"sync"

	"github.com/bagnose/doodle/pkg/session"
	"github.com/bagnose/doodle/pkg/terminal"
)

// SessionBuffer pairs a running session with the live controller that owns
// its grid, so subscribers can pull a consistent Snapshot whenever damage
// fires.
type SessionBuffer struct {
	Session *session.Session
}

// Manager tracks which sessions have active subscribers and fans out
// damage notifications as terminal.Snapshot values, rather than polling
// the asciinema recording from disk.
type Manager struct {
	sessionManager *session.Manager
	buffers        map[string]*SessionBuffer
	mu             sync.RWMutex
	subscribers    map[string][]chan *terminal.Snapshot
	subMu          sync.RWMutex
	shutdownCh     chan struct{}
	wg             sync.WaitGroup
}

// NewManager creates a new terminal socket manager
func NewManager(sessionManager *session.Manager) *Manager {
	return &Manager{
		sessionManager: sessionManager,
		buffers:        make(map[string]*SessionBuffer),
		subscribers:    make(map[string][]chan *terminal.Snapshot),
		shutdownCh:     make(chan struct{}),
	}
}

// GetOrCreateBuffer gets or creates the tracking record for a session.
func (m *Manager) GetOrCreateBuffer(sessionID string) (*SessionBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sb, exists := m.buffers[sessionID]; exists {
		return sb, nil
	}

	sess, err := m.sessionManager.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	sb := &SessionBuffer{Session: sess}
	m.buffers[sessionID] = sb
	return sb, nil
}

// GetBufferSnapshot gets the current grid/cursor snapshot for a session.
// It returns an error if the session has no live controller in this
// process (e.g. it was loaded from disk rather than started here).
func (m *Manager) GetBufferSnapshot(sessionID string) (*terminal.Snapshot, error) {
	sb, err := m.GetOrCreateBuffer(sessionID)
	if err != nil {
		return nil, err
	}

	ctrl := sb.Session.Controller()
	if ctrl == nil {
		return nil, fmt.Errorf("session %s has no live terminal in this process", sessionID)
	}

	snap := ctrl.Snapshot()
	return &snap, nil
}

// SubscribeToBufferChanges subscribes to damage notifications for a
// session, invoking callback with a fresh Snapshot each time the grid
// changes.
func (m *Manager) SubscribeToBufferChanges(sessionID string, callback func(string, *terminal.Snapshot)) (func(), error) {
	sb, err := m.GetOrCreateBuffer(sessionID)
	if err != nil {
		return nil, err
	}
	if sb.Session.Controller() == nil {
		return nil, fmt.Errorf("session %s has no live terminal in this process", sessionID)
	}

	ch := make(chan *terminal.Snapshot, 10)
	m.subMu.Lock()
	m.subscribers[sessionID] = append(m.subscribers[sessionID], ch)
	m.subMu.Unlock()

	done := make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watchDamage(sessionID, sb, done)
	}()

	go func() {
		for {
			select {
			case snapshot := <-ch:
				callback(sessionID, snapshot)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		m.subMu.Lock()
		defer m.subMu.Unlock()

		subs := m.subscribers[sessionID]
		for i, sub := range subs {
			if sub == ch {
				m.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(m.subscribers[sessionID]) == 0 {
			delete(m.subscribers, sessionID)
		}
	}, nil
}

// watchDamage relays the session's damage notifications into snapshots for
// its subscribers until done closes or the session exits.
func (m *Manager) watchDamage(sessionID string, sb *SessionBuffer, done <-chan struct{}) {
	dmg := sb.Session.Subscribe()
	defer sb.Session.Unsubscribe(dmg)

	for {
		select {
		case _, ok := <-dmg:
			if !ok {
				m.cleanupSession(sessionID)
				return
			}
			ctrl := sb.Session.Controller()
			if ctrl == nil {
				continue
			}
			snap := ctrl.Snapshot()
			m.notifySubscribers(sessionID, &snap)
		case <-done:
			return
		case <-m.shutdownCh:
			return
		}
	}
}

func (m *Manager) cleanupSession(sessionID string) {
	m.mu.Lock()
	delete(m.buffers, sessionID)
	m.mu.Unlock()
}

// notifySubscribers sends buffer updates to all subscribers
func (m *Manager) notifySubscribers(sessionID string, snapshot *terminal.Snapshot) {
	m.subMu.RLock()
	subs := m.subscribers[sessionID]
	m.subMu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Channel full, skip
		}
	}
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() {
	log.Println("Shutting down terminal buffer manager...")

	close(m.shutdownCh)
	m.wg.Wait()

	m.subMu.Lock()
	for _, subs := range m.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	m.subscribers = make(map[string][]chan *terminal.Snapshot)
	m.subMu.Unlock()

	m.mu.Lock()
	m.buffers = make(map[string]*SessionBuffer)
	m.mu.Unlock()

	log.Println("Terminal buffer manager shutdown complete")
}
