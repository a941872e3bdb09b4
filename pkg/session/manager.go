package session

import (
	"context"
	"log/slog"
	"sync"
)

// Manager tracks the live sessions by the transport connection carrying
// their inbound stream.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	build    func(id string) *Session
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(build func(id string) *Session, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*Session),
		build:    build,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetOrCreate returns the session for a connection, creating and starting
// its processing loop when absent. The boolean reports creation.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess, false
	}
	sess := m.build(id)
	m.sessions[id] = sess
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sess.Run(m.ctx)
		m.Remove(id)
	}()
	m.logger.Debug("session created", slog.String("session_id", id))
	return sess, true
}

// Get returns the session for a connection, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Remove forgets a session. The session itself stops via its own loop.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.logger.Debug("session removed", slog.String("session_id", id))
	}
	m.mu.Unlock()
}

// Len reports the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every session loop and waits for them to drain.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
}
