package ocean

import (
	"context"
	"time"

	"github.com/stn81/ocean/packet"
)

type Client interface {
	Dial(addr string) error
	Close()
	Disconnect()
	SetHandler(h Handler)
	// NextID returns a fresh transaction id from the client's generator.
	NextID() string
	Call(ctx context.Context, req packet.Packet) (*packet.OutPacket, error)
	CallWithTimeout(ctx context.Context, req packet.Packet, timeout time.Duration) (*packet.OutPacket, error)
	Send(ctx context.Context, req packet.Packet) (*Pending, error)
	GetConnection() *Connection
	IsClosed() bool
	IsConnected() bool
}
