package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stn81/ocean/metrics"
)

const (
	DefaultTimeout       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

type Config struct {
	// Timeout is the longest a session may stay silent before the sweep
	// evicts it.
	Timeout       time.Duration
	SweepInterval time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Manager tracks the sessions of one server. All methods are safe for
// concurrent use; connections are closed only after the session has been taken
// out of the maps, so a session is closed by exactly one path.
type Manager struct {
	conf    Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	byConn   map[Connection]string
	closed   bool

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewManager starts the idle sweep, which runs until ctx ends or Shutdown is
// called.
func NewManager(ctx context.Context, conf Config, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	newctx, cancel := context.WithCancel(ctx)

	mgr := &Manager{
		conf:     conf.withDefaults(),
		logger:   logger.Named("session"),
		metrics:  m,
		sessions: make(map[string]*Session),
		byConn:   make(map[Connection]string),
		ctx:      newctx,
		cancel:   cancel,
	}

	mgr.wg.Add(1)
	go mgr.sweepLoop()

	mgr.logger.Info("session manager started",
		zap.Duration("timeout", mgr.conf.Timeout),
		zap.Duration("sweep_interval", mgr.conf.SweepInterval))
	return mgr
}

func (m *Manager) Timeout() time.Duration {
	return m.conf.Timeout
}

// CreateSession registers a new session for conn. After Shutdown the session
// is still returned but not tracked, and conn is closed.
func (m *Manager) CreateSession(conn Connection) *Session {
	s := newSession(conn, m.conf.Now())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.markClosed()
		conn.Close()
		return s
	}
	if old, ok := m.byConn[conn]; ok {
		if prev := m.sessions[old]; prev != nil {
			prev.markClosed()
		}
		delete(m.sessions, old)
		m.metrics.SessionClosed(false)
	}
	m.sessions[s.id] = s
	m.byConn[conn] = s.id
	m.mu.Unlock()

	m.metrics.SessionOpened()
	return s
}

func (m *Manager) GetSession(conn Connection) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byConn[conn]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

func (m *Manager) GetSessionByID(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Touch records activity on the session of conn and returns it, or nil when
// conn has no session.
func (m *Manager) Touch(conn Connection) *Session {
	s := m.GetSession(conn)
	if s != nil {
		s.Touch(m.conf.Now())
	}
	return s
}

// RemoveSession takes the session of conn out of the manager. It is the path
// for connections that are already disconnecting and does not close conn.
func (m *Manager) RemoveSession(conn Connection) *Session {
	m.mu.Lock()
	id, ok := m.byConn[conn]
	var s *Session
	if ok {
		s = m.takeLocked(id)
	}
	m.mu.Unlock()

	if s != nil {
		m.metrics.SessionClosed(false)
	}
	return s
}

func (m *Manager) RemoveSessionByID(id string) *Session {
	m.mu.Lock()
	s := m.takeLocked(id)
	m.mu.Unlock()

	if s != nil {
		m.metrics.SessionClosed(false)
	}
	return s
}

// Sessions returns a snapshot of the live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts every session that has been idle longer than the timeout,
// closes their connections and returns them.
func (m *Manager) Sweep() []*Session {
	now := m.conf.Now()

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IdleFor(now) > m.conf.Timeout {
			expired = append(expired, m.takeLocked(id))
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if !s.conn.IsClosed() {
			s.conn.Close()
		}
		m.metrics.SessionClosed(true)
		m.logger.Info("session timed out",
			zap.String("session_id", s.id),
			zap.Duration("idle", s.IdleFor(now)),
			zap.Duration("age", now.Sub(s.createdAt)))
	}
	return expired
}

// Shutdown stops the sweep, closes every remaining connection and forgets all
// sessions. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		m.closed = true
		remaining := make([]*Session, 0, len(m.sessions))
		for id := range m.sessions {
			remaining = append(remaining, m.takeLocked(id))
		}
		m.mu.Unlock()

		for _, s := range remaining {
			if !s.conn.IsClosed() {
				s.conn.Close()
			}
			m.metrics.SessionClosed(false)
		}

		m.logger.Info("session manager shut down", zap.Int("closed_sessions", len(remaining)))
	})
}

func (m *Manager) takeLocked(id string) *Session {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	if m.byConn[s.conn] == id {
		delete(m.byConn, s.conn)
	}
	s.markClosed()
	return s
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.conf.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
