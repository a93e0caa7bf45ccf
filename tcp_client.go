package ocean

import (
	"context"
	"net"
	"time"
)

type TCPClientConfig struct {
	ClientConfig
	DialTimeout time.Duration
}

func NewTCPClientConfig() *TCPClientConfig {
	conf := &TCPClientConfig{ClientConfig: *NewClientConfig()}
	conf.DialTimeout = 30 * time.Second
	return conf
}

type TCPClient struct {
	*ClientBase
}

var _ Client = (*TCPClient)(nil)

func TCPDialFunc(timeout time.Duration) DialFunc {
	return func(addr string) (conn net.Conn, err error) {
		if timeout > 0 {
			return net.DialTimeout("tcp", addr, timeout)
		}
		return net.Dial("tcp", addr)
	}
}

func NewTCPClient(ctx context.Context, conf *TCPClientConfig) *TCPClient {
	clientConf := conf.ClientConfig

	c := &TCPClient{
		ClientBase: NewClientBase(ctx, TCPDialFunc(conf.DialTimeout), &clientConf),
	}
	return c
}
