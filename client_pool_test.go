package ocean

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stn81/ocean/packet"
	"github.com/stn81/ocean/session"
)

func tcpFactory(srv *PacketServer) ClientFactory {
	return ClientFactoryFunc(func() (Client, error) {
		client := NewTCPClient(context.Background(), NewTCPClientConfig())
		if err := client.Dial(srv.Addr().String()); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	})
}

func TestClientPoolReuse(t *testing.T) {
	srv := startServer(t, session.Config{})

	pool := NewClientPool(context.Background(), tcpFactory(srv), ClientPoolConfig{IdleMin: 1, IdleMax: 2, Max: 2})
	require.NoError(t, pool.Open())
	t.Cleanup(pool.Close)
	assert.Equal(t, 1, pool.Len())

	c := pool.Get()
	out, err := c.CallWithTimeout(context.Background(), packet.NewSimpleInPacket(c.NextID(), "pooled"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Server received: pooled", out.Response())
	c.Close()

	// a returned client is not usable through the old handle
	_, err = c.Call(context.Background(), packet.NewSimpleInPacket("1", "x"))
	assert.ErrorIs(t, err, ErrClientClosed)

	c = pool.Get()
	defer c.Close()
	assert.True(t, c.IsConnected())
	assert.Equal(t, 1, pool.Len())
}

func TestClientPoolMax(t *testing.T) {
	srv := startServer(t, session.Config{})

	pool := NewClientPool(context.Background(), tcpFactory(srv), ClientPoolConfig{Max: 1})
	t.Cleanup(pool.Close)

	first := pool.Get()
	require.True(t, first.IsConnected())

	got := make(chan Client, 1)
	go func() { got <- pool.Get() }()

	select {
	case <-got:
		t.Fatal("second Get must wait for the first client")
	case <-time.After(50 * time.Millisecond):
	}

	first.Close()
	select {
	case c := <-got:
		assert.True(t, c.IsConnected())
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("second Get did not return")
	}
	assert.Equal(t, 1, pool.Len())
}

func TestClientPoolFactoryError(t *testing.T) {
	boom := errors.New("dial failed")
	pool := NewClientPool(context.Background(), ClientFactoryFunc(func() (Client, error) { return nil, boom }), ClientPoolConfig{Max: 1})
	t.Cleanup(pool.Close)

	c := pool.Get()
	_, err := c.Call(context.Background(), packet.NewSimpleInPacket("1", "x"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.Len())
}

func TestClientPoolClosed(t *testing.T) {
	srv := startServer(t, session.Config{})

	pool := NewClientPool(context.Background(), tcpFactory(srv), ClientPoolConfig{IdleMin: 1, Max: 1})
	require.NoError(t, pool.Open())

	pool.Close()
	pool.Close()
	assert.Equal(t, 0, pool.Len())

	_, err := pool.Get().Call(context.Background(), packet.NewSimpleInPacket("1", "x"))
	assert.ErrorIs(t, err, ErrClientPoolClosed)
}

func TestClientPoolFailedDialWakesWaiter(t *testing.T) {
	srv := startServer(t, session.Config{})

	release := make(chan struct{})
	var calls atomic.Int32
	factory := ClientFactoryFunc(func() (Client, error) {
		if calls.Add(1) == 1 {
			<-release
			return nil, errors.New("dial failed")
		}
		return tcpFactory(srv).NewClient()
	})
	pool := NewClientPool(context.Background(), factory, ClientPoolConfig{Max: 1})
	t.Cleanup(pool.Close)

	first := make(chan Client, 1)
	go func() { first <- pool.Get() }()
	require.Eventually(t, func() bool { return pool.Len() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan Client, 1)
	go func() { second <- pool.Get() }()

	close(release)

	c := <-first
	assert.False(t, c.IsConnected())

	select {
	case c = <-second:
		assert.True(t, c.IsConnected())
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("waiting Get was not woken by the failed dial")
	}
}
