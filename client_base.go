package ocean

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stn81/ocean/metrics"
	"github.com/stn81/ocean/packet"
)

var ErrClientDisconnected = errors.New("client disconnected")

const keyConnError = "ocean.conn_error"

type DialFunc func(addr string) (net.Conn, error)

type ClientConfig struct {
	Conn          ConnConfig
	AutoReconnect bool
	Types         *packet.TypeRegistry
	IDs           packet.IDGenerator
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

func NewClientConfig() *ClientConfig {
	conf := &ClientConfig{}
	conf.Conn.SendQueueSize = DefaultQueueSize
	conf.Conn.RecvQueueSize = DefaultQueueSize
	conf.Conn.MaxFrameSize = DefaultMaxFrameSize
	return conf
}

// ClientBase sends requests over one connection and hands each response to
// the request with the same transaction id.
type ClientBase struct {
	*serviceBase
	sync.Mutex
	remoteAddr string
	conf       *ClientConfig
	handler    Handler
	dial       DialFunc
	conn       *Connection
	dialMu     sync.Mutex
	closed     bool
	correlator *Correlator
	ids        packet.IDGenerator
	logger     *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClientBase(ctx context.Context, dial DialFunc, conf *ClientConfig) *ClientBase {
	var (
		newctx, cancel = context.WithCancel(ctx)
		connConf       = &ConnConfig{}
		logger         = loggerOr(conf.Logger).Named("client")
	)

	*connConf = conf.Conn

	ids := conf.IDs
	if ids == nil {
		ids = &packet.CounterIDs{}
	}

	c := &ClientBase{
		serviceBase: newServiceBase(connConf),
		conf:        conf,
		dial:        dial,
		correlator:  NewCorrelator(logger, conf.Metrics),
		ids:         ids,
		logger:      logger,
		ctx:         newctx,
		cancel:      cancel,
	}
	c.serviceBase.SetHandler(c)
	c.serviceBase.SetProtocol(NewLineProtocol(packet.NewCodec(conf.Types), connConf.MaxFrameSize))

	return c
}

// SetHandler installs h to observe connection events and receive packets that
// are not responses.
func (c *ClientBase) SetHandler(h Handler) {
	c.handler = h
}

func (c *ClientBase) Correlator() *Correlator {
	return c.correlator
}

func (c *ClientBase) NextID() string {
	return c.ids.NextID()
}

func (c *ClientBase) Dial(addr string) (err error) {
	if c.dial == nil {
		panic("no dial func defined")
	}

	c.remoteAddr = addr
	return c.ensureConnected(true)
}

// Close fails all pending requests and closes the connection. It is safe to
// call more than once.
func (c *ClientBase) Close() {
	c.closeOnce.Do(func() {
		c.Lock()
		c.closed = true
		c.Unlock()

		c.correlator.Shutdown()

		if conn := c.GetConnection(); conn != nil {
			conn.Close()
		}

		c.cancel()
		c.logger.Info("client shut down")
	})
}

// Send registers req as pending and writes it. The returned handle settles
// when the response arrives or the connection is lost.
func (c *ClientBase) Send(ctx context.Context, req packet.Packet) (*Pending, error) {
	return c.send(ctx, req, 0)
}

func (c *ClientBase) send(ctx context.Context, req packet.Packet, timeout time.Duration) (*Pending, error) {
	if c.IsClosed() {
		return nil, ErrClientClosed
	}
	if req == nil {
		return nil, packet.NewValidationError("", "packet cannot be nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := c.ensureConnected(false); err != nil {
		return nil, err
	}

	conn := c.GetConnection()
	if conn == nil || conn.IsClosed() {
		return nil, ErrClientDisconnected
	}

	id := req.TransactionID()
	pending, err := c.correlator.RegisterFor(id, conn)
	if err != nil {
		return nil, err
	}

	if err = conn.SendWithTimeout(ctx, req, timeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		c.correlator.Cancel(id, err)
		return nil, err
	}

	// the connection may have gone down after its requests were failed
	if conn.IsClosed() {
		c.correlator.Cancel(id, ErrConnectionLost)
	}
	return pending, nil
}

func (c *ClientBase) Call(ctx context.Context, req packet.Packet) (*packet.OutPacket, error) {
	return c.CallWithTimeout(ctx, req, 0)
}

// CallWithTimeout sends req and waits for its response. A positive timeout
// bounds the whole call.
func (c *ClientBase) CallWithTimeout(ctx context.Context, req packet.Packet, timeout time.Duration) (*packet.OutPacket, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pending, err := c.send(ctx, req, 0)
	if err != nil {
		return nil, err
	}

	select {
	case <-pending.Done():
		return pending.Result()
	case <-c.ctx.Done():
		return c.abandon(pending, ErrClientClosed)
	case <-ctx.Done():
		err = ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		return c.abandon(pending, err)
	}
}

// abandon settles pending with err unless it has been settled already, in
// which case that outcome wins.
func (c *ClientBase) abandon(pending *Pending, err error) (*packet.OutPacket, error) {
	c.correlator.Cancel(pending.TransactionID(), err)
	<-pending.Done()
	return pending.Result()
}

func (c *ClientBase) GetConnection() (conn *Connection) {
	c.Lock()
	conn = c.conn
	c.Unlock()
	return
}

func (c *ClientBase) Disconnect() {
	conn := c.GetConnection()
	if conn == nil {
		return
	}
	c.OnError(conn, ErrClientDisconnected)
	conn.Close()
}

func (c *ClientBase) IsConnected() bool {
	conn := c.GetConnection()
	return conn != nil && conn.IsConnected()
}

func (c *ClientBase) IsClosed() (closed bool) {
	c.Lock()
	closed = c.closed
	c.Unlock()
	return
}

func (c *ClientBase) OnConnected(conn *Connection) error {
	c.Lock()
	old := c.conn
	c.conn = conn
	c.Unlock()

	if old != nil && old != conn {
		old.Close()
	}

	c.logger.Info("connected", zap.Stringer("remote_addr", conn.RemoteAddr()))

	if h := c.handler; h != nil {
		return h.OnConnected(conn)
	}
	return nil
}

func (c *ClientBase) OnDisconnected(conn *Connection) {
	c.logger.Info("disconnected", zap.Stringer("remote_addr", conn.RemoteAddr()), zap.String("stats", conn.String()))

	c.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.Unlock()

	if c.IsClosed() {
		return
	}

	// requests written to conn can no longer be answered, whether or not a
	// newer connection has taken its place
	c.settlePendingRequests(conn)

	if h := c.handler; current && h != nil {
		h.OnDisconnected(conn)
	}
}

func (c *ClientBase) OnIdle(conn *Connection) error {
	if h := c.handler; h != nil {
		return h.OnIdle(conn)
	}
	return nil
}

func (c *ClientBase) OnError(conn *Connection, err error) {
	conn.SetAttr(keyConnError, err)

	c.logger.Warn("connection error", zap.Error(err))

	if h := c.handler; h != nil {
		h.OnError(conn, err)
	}
}

func (c *ClientBase) OnMessage(conn *Connection, m packet.Packet) error {
	if out, ok := m.(*packet.OutPacket); ok {
		c.correlator.Resolve(out)
		return nil
	}

	if h := c.handler; h != nil {
		return h.OnMessage(conn, m)
	}
	c.logger.Warn("discarding unexpected packet", zap.String("type", m.Type()))
	return nil
}

// OnDecodeError leaves the connection open for frames of an unknown type and
// closes it for anything else.
func (c *ClientBase) OnDecodeError(conn *Connection, err error) error {
	if h := c.handler; h != nil {
		return h.OnDecodeError(conn, err)
	}
	if errors.Is(err, packet.ErrUnknownType) {
		c.logger.Warn("discarding frame of unknown type", zap.Error(err))
		return nil
	}
	return err
}

// ensureConnected dials when there is no live connection. Dialing is
// serialized so concurrent callers share one new connection.
func (c *ClientBase) ensureConnected(force bool) (err error) {
	var conn net.Conn

	if c.IsConnected() {
		return
	}

	if !force {
		if !c.conf.AutoReconnect {
			return ErrClientDisconnected
		}
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.IsConnected() {
		return
	}
	if c.IsClosed() {
		return ErrClientClosed
	}

	if conn, err = c.dial(c.remoteAddr); err != nil {
		return
	}

	NewConnection(c.ctx, c, conn).Open()
	return
}

func (c *ClientBase) settlePendingRequests(conn *Connection) {
	err, _ := conn.GetAttr(keyConnError).(error)

	if err == nil {
		err = ErrConnectionLost
	} else if !errors.Is(err, ErrConnectionLost) {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	c.correlator.FailFor(conn, err)
}
