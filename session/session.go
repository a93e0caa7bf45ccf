// Package session keeps one bookkeeping record per live server connection and
// evicts the connections that stay silent longer than the configured timeout.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection is the part of a transport connection a session needs. The
// session only references it; closing is done by whoever takes the session out
// of the Manager.
type Connection interface {
	Close()
	IsClosed() bool
}

type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Session struct {
	id        string
	conn      Connection
	createdAt time.Time

	lastActivity atomic.Int64
	state        atomic.Int32

	attrsLock sync.RWMutex
	attrs     map[string]interface{}
}

func newSession(conn Connection, now time.Time) *Session {
	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		createdAt: now,
		attrs:     make(map[string]interface{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Conn() Connection {
	return s.conn
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Touch records inbound activity at now. A closed session stays closed.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
	s.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
}

// IdleFor reports how long the session has been silent at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

func (s *Session) markClosed() {
	s.state.Store(int32(StateClosed))
}

func (s *Session) GetAttr(key string) interface{} {
	s.attrsLock.RLock()
	defer s.attrsLock.RUnlock()
	return s.attrs[key]
}

func (s *Session) HasAttr(key string) bool {
	s.attrsLock.RLock()
	_, ok := s.attrs[key]
	s.attrsLock.RUnlock()
	return ok
}

func (s *Session) SetAttr(key string, value interface{}) {
	s.attrsLock.Lock()
	s.attrs[key] = value
	s.attrsLock.Unlock()
}

// RemoveAttr deletes key and returns its previous value.
func (s *Session) RemoveAttr(key string) interface{} {
	s.attrsLock.Lock()
	v := s.attrs[key]
	delete(s.attrs, key)
	s.attrsLock.Unlock()
	return v
}

func (s *Session) ClearAttrs() {
	s.attrsLock.Lock()
	s.attrs = make(map[string]interface{})
	s.attrsLock.Unlock()
}
