package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stn81/ocean"
	"github.com/stn81/ocean/config"
)

func TestInteract(t *testing.T) {
	srv := ocean.NewPacketServer(context.Background(), ocean.NewTCPServerConfig(), ocean.PacketServerOptions{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(srv.Close)

	conf := config.DefaultClientConfig()
	conf.Addr = ln.Addr().String()
	conf.CallTimeout = 2 * time.Second
	conf.BreakerFailures = 3

	client, err := newClient(context.Background(), conf, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	var out bytes.Buffer
	in := strings.NewReader("hello\n\nworld\nexit\nnever sent\n")
	require.NoError(t, interact(context.Background(), client, conf, in, &out))

	assert.Contains(t, out.String(), "Server received: hello\n")
	assert.Contains(t, out.String(), "Server received: world\n")
	assert.NotContains(t, out.String(), "never sent")
}

func TestNewClientDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conf := config.DefaultClientConfig()
	conf.Addr = addr
	conf.DialTimeout = time.Second

	_, err = newClient(context.Background(), conf, zap.NewNop())
	assert.Error(t, err)
}

func TestSendConcurrent(t *testing.T) {
	srv := ocean.NewPacketServer(context.Background(), ocean.NewTCPServerConfig(), ocean.PacketServerOptions{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(srv.Close)

	conf := config.DefaultClientConfig()
	conf.Addr = ln.Addr().String()
	conf.CallTimeout = 2 * time.Second

	const n = 4
	pool := ocean.NewClientPool(context.Background(), ocean.ClientFactoryFunc(func() (ocean.Client, error) {
		return newClient(context.Background(), conf, zap.NewNop())
	}), ocean.ClientPoolConfig{Max: n})
	defer pool.Close()

	var out bytes.Buffer
	require.NoError(t, sendConcurrent(context.Background(), pool, conf, &out, "fan out", n))

	assert.Equal(t, n, strings.Count(out.String(), "Server received: fan out\n"))
	assert.LessOrEqual(t, pool.Len(), n)
}

func TestSendConcurrentDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conf := config.DefaultClientConfig()
	conf.Addr = addr
	conf.DialTimeout = time.Second

	pool := ocean.NewClientPool(context.Background(), ocean.ClientFactoryFunc(func() (ocean.Client, error) {
		return newClient(context.Background(), conf, zap.NewNop())
	}), ocean.ClientPoolConfig{Max: 2})
	defer pool.Close()

	var out bytes.Buffer
	assert.Error(t, sendConcurrent(context.Background(), pool, conf, &out, "x", 3))
	assert.Empty(t, out.String())
	assert.Equal(t, 0, pool.Len())
}
