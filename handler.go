package ocean

import "github.com/stn81/ocean/packet"

// Handler receives the events of a Connection. Returning an error from
// OnConnected, OnIdle, OnMessage or OnDecodeError closes the connection.
type Handler interface {
	OnConnected(*Connection) error
	OnDisconnected(*Connection)
	OnIdle(*Connection) error
	OnError(*Connection, error)
	OnMessage(*Connection, packet.Packet) error
	// OnDecodeError is called for a complete frame that could not be decoded.
	OnDecodeError(*Connection, error) error
}

// HandlerAdapter implements Handler with no-ops; a frame that fails to decode
// closes the connection.
type HandlerAdapter struct{}

func (h *HandlerAdapter) OnConnected(*Connection) error {
	return nil
}

func (h *HandlerAdapter) OnDisconnected(*Connection) {
}

func (h *HandlerAdapter) OnIdle(*Connection) error {
	return nil
}

func (h *HandlerAdapter) OnError(*Connection, error) {
}

func (h *HandlerAdapter) OnMessage(*Connection, packet.Packet) error {
	return nil
}

func (h *HandlerAdapter) OnDecodeError(_ *Connection, err error) error {
	return err
}
