package ocean

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

type TCPServerConfig ServerConfig

func TCPListen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: 3 * time.Minute}
	return lc.Listen(context.Background(), "tcp", addr)
}

func NewTCPServerConfig() *TCPServerConfig {
	return (*TCPServerConfig)(NewServerConfig())
}

type TCPServer struct {
	*ServerBase
}

func NewTCPServer(ctx context.Context, conf *TCPServerConfig, logger *zap.Logger) *TCPServer {
	srv := &TCPServer{
		ServerBase: NewServerBase(ctx, TCPListen, (*ServerConfig)(conf), logger),
	}
	return srv
}
