package ocean

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stn81/ocean/packet"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrTimeout          = errors.New("timeout")
)

// Connection runs the read, handle and write loops of one transport
// connection. Packets read from it are handled one at a time in arrival order.
type Connection struct {
	id        uint64
	svc       Service
	conf      *ConnConfig
	handler   Handler
	protocol  Protocol
	conn      *meteredConn
	attrs     map[string]interface{}
	attrsLock sync.RWMutex
	sendQ     chan packet.Packet
	recvQ     chan packet.Packet

	idleCount     atomic.Uint32
	readMsgCount  atomic.Uint64
	writeMsgCount atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected atomic.Bool
	closed    atomic.Bool
}

func NewConnection(ctx context.Context, svc Service, conn net.Conn) *Connection {
	var (
		conf           = svc.ConnConfig()
		newctx, cancel = context.WithCancel(ctx)
	)

	return &Connection{
		id:       svc.NextConnID(),
		svc:      svc,
		handler:  svc.Handler(),
		conf:     conf,
		protocol: svc.Protocol(),
		conn:     newMeteredConn(conn, conf.ReadTimeout, conf.WriteTimeout),
		attrs:    make(map[string]interface{}),
		ctx:      newctx,
		cancel:   cancel,
		sendQ:    make(chan packet.Packet, conf.SendQueueSize),
		recvQ:    make(chan packet.Packet, conf.RecvQueueSize),
	}
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) Service() Service {
	return c.svc
}

// Context ends when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Connection) GetAttr(key string) (v interface{}) {
	c.attrsLock.RLock()
	v = c.attrs[key]
	c.attrsLock.RUnlock()
	return
}

func (c *Connection) SetAttr(key string, value interface{}) {
	c.attrsLock.Lock()
	c.attrs[key] = value
	c.attrsLock.Unlock()
}

func (c *Connection) RemoveAttr(key string) {
	c.attrsLock.Lock()
	delete(c.attrs, key)
	c.attrsLock.Unlock()
}

func (c *Connection) Open() {
	c.svc.AddRef()
	c.wg.Add(3)
	c.connected.Store(true)

	// the handler sees OnConnected before any message
	if err := c.handler.OnConnected(c); err != nil {
		c.handler.OnError(c, err)
		c.wg.Add(-3)
		c.Close()
		return
	}

	go c.handleLoop()
	go c.readLoop()
	go c.writeLoop()
}

// Close shuts the connection down. OnDisconnected runs once all loops have
// stopped. Calling Close more than once is a no-op.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.connected.Store(false)
	c.cancel()
	c.conn.Close()

	go func() {
		c.wg.Wait()
		c.handler.OnDisconnected(c)
		c.svc.DecRef()
	}()
}

func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send validates p and queues it for writing. An invalid packet is rejected
// with its *packet.ValidationError and the connection stays open.
func (c *Connection) Send(ctx context.Context, p packet.Packet) error {
	return c.SendWithTimeout(ctx, p, 0)
}

func (c *Connection) SendWithTimeout(ctx context.Context, p packet.Packet, timeout time.Duration) error {
	if p == nil {
		return packet.NewValidationError("", "packet cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrTimeout
	case c.sendQ <- p:
	}
	return nil
}

func (c *Connection) IdleCount() uint32 {
	return c.idleCount.Load()
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection %d, Read Byte Count: %d, Write Byte Count: %d, Read Msg Count: %d, Write Msg Count: %d",
		c.id,
		c.conn.ReadBytes(),
		c.conn.WriteBytes(),
		c.readMsgCount.Load(),
		c.writeMsgCount.Load(),
	)
}

func (c *Connection) handleLoop() {
	var (
		m   packet.Packet
		err error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got panic in handle loop: error=%v, stack=%v", r, getPanicStack())
		}

		if err != nil {
			c.handler.OnError(c, err)
		}

		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case m = <-c.recvQ:
			if err = c.handler.OnMessage(c, m); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	var (
		m   packet.Packet
		err error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got panic in read loop: error=%v, stack=%v", r, getPanicStack())
		}

		if !c.IsClosed() && err != nil && err != io.EOF {
			c.handler.OnError(c, err)
		}

		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		default:
		}

		if m, err = c.protocol.Decode(c, c.conn); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.idleCount.Add(1)

				if err = c.handler.OnIdle(c); err != nil {
					return
				}
				continue
			}

			var fe *FrameError
			if errors.As(err, &fe) {
				if err = c.handler.OnDecodeError(c, err); err != nil {
					return
				}
				continue
			}
			return
		}

		if m == nil {
			continue
		}

		c.idleCount.Store(0)
		c.readMsgCount.Add(1)

		select {
		case <-c.ctx.Done():
			return
		case c.recvQ <- m:
		}
	}
}

func (c *Connection) writeLoop() {
	var (
		m    packet.Packet
		data []byte
		err  error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got panic in write loop: error=%v, stack=%v", r, getPanicStack())
		}

		if !c.IsClosed() && err != nil {
			c.handler.OnError(c, err)
		}

		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case m = <-c.sendQ:
			if data, err = c.protocol.Encode(c, m); err != nil {
				return
			}

			if _, err = c.conn.Write(data); err != nil {
				return
			}
			c.writeMsgCount.Add(1)
		}
	}
}
