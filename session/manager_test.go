package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	closes atomic.Int32
}

func (c *fakeConn) Close()         { c.closes.Add(1) }
func (c *fakeConn) IsClosed() bool { return c.closes.Load() > 0 }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewManager(context.Background(), Config{
		Timeout:       timeout,
		SweepInterval: time.Hour,
		Now:           clock.Now,
	}, nil, nil)
	t.Cleanup(m.Shutdown)
	return m, clock
}

func TestManager_CreateGetRemove(t *testing.T) {
	m, clock := newTestManager(t, time.Minute)
	conn := &fakeConn{}

	s := m.CreateSession(conn)
	require.NotNil(t, s)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, clock.Now(), s.CreatedAt())
	assert.Equal(t, StateCreated, s.State())
	assert.Same(t, conn, s.Conn().(*fakeConn))

	assert.Same(t, s, m.GetSession(conn))
	assert.Same(t, s, m.GetSessionByID(s.ID()))
	assert.Equal(t, 1, m.Count())

	clock.Advance(time.Second)
	assert.Same(t, s, m.Touch(conn))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, clock.Now(), s.LastActivity())

	removed := m.RemoveSession(conn)
	assert.Same(t, s, removed)
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, m.GetSession(conn))
	assert.Nil(t, m.RemoveSession(conn))
	assert.Nil(t, m.Touch(conn))
	assert.Equal(t, 0, m.Count())
	assert.False(t, conn.IsClosed())
}

func TestManager_UniqueIDs(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)

	ids := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		ids[m.CreateSession(&fakeConn{}).ID()] = struct{}{}
	}
	assert.Len(t, ids, 50)
	assert.Len(t, m.Sessions(), 50)
}

func TestManager_SweepEvictsIdle(t *testing.T) {
	m, clock := newTestManager(t, time.Minute)
	idle, busy := &fakeConn{}, &fakeConn{}

	idleSession := m.CreateSession(idle)
	busySession := m.CreateSession(busy)

	clock.Advance(50 * time.Second)
	m.Touch(busy)
	clock.Advance(20 * time.Second)

	evicted := m.Sweep()
	require.Len(t, evicted, 1)
	assert.Same(t, idleSession, evicted[0])

	assert.True(t, idle.IsClosed())
	assert.False(t, busy.IsClosed())
	assert.Nil(t, m.GetSession(idle))
	assert.Same(t, busySession, m.GetSession(busy))

	assert.Empty(t, m.Sweep())
	assert.Equal(t, int32(1), idle.closes.Load())
}

func TestManager_SweepAndRemoveRace(t *testing.T) {
	m, clock := newTestManager(t, time.Second)

	conns := make([]*fakeConn, 200)
	for i := range conns {
		conns[i] = &fakeConn{}
		m.CreateSession(conns[i])
	}
	clock.Advance(time.Minute)

	var (
		wg      sync.WaitGroup
		removed atomic.Int32
		swept   atomic.Int32
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, c := range conns {
			if m.RemoveSession(c) != nil {
				removed.Add(1)
			}
		}
	}()
	go func() {
		defer wg.Done()
		swept.Add(int32(len(m.Sweep())))
	}()
	wg.Wait()

	assert.Equal(t, int32(len(conns)), removed.Load()+swept.Load())
	assert.Equal(t, 0, m.Count())
	for _, c := range conns {
		assert.LessOrEqual(t, c.closes.Load(), int32(1))
	}
}

func TestManager_SweepLoop(t *testing.T) {
	m := NewManager(context.Background(), Config{
		Timeout:       10 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	}, nil, nil)
	defer m.Shutdown()

	conn := &fakeConn{}
	m.CreateSession(conn)

	assert.Eventually(t, conn.IsClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Count())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	a, b := &fakeConn{}, &fakeConn{}
	m.CreateSession(a)
	m.CreateSession(b)

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, int32(1), a.closes.Load())
	assert.Equal(t, int32(1), b.closes.Load())
	assert.Equal(t, 0, m.Count())

	late := &fakeConn{}
	s := m.CreateSession(late)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, late.IsClosed())
	assert.Equal(t, 0, m.Count())
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m, clock := newTestManager(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c := &fakeConn{}
				m.CreateSession(c)
				m.Touch(c)
				clock.Advance(time.Millisecond)
				m.Sweep()
				m.RemoveSession(c)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Count())
}

func TestSession_Attrs(t *testing.T) {
	s := newSession(&fakeConn{}, time.Now())

	assert.False(t, s.HasAttr("user"))
	s.SetAttr("user", "alice")
	assert.True(t, s.HasAttr("user"))
	assert.Equal(t, "alice", s.GetAttr("user"))

	assert.Equal(t, "alice", s.RemoveAttr("user"))
	assert.Nil(t, s.GetAttr("user"))

	s.SetAttr("a", 1)
	s.SetAttr("b", 2)
	s.ClearAttrs()
	assert.False(t, s.HasAttr("a"))
	assert.False(t, s.HasAttr("b"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(9).String())
}
