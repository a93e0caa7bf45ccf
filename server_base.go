package ocean

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

var ErrServerClosed = errors.New("server closed")

type ListenFunc func(addr string) (net.Listener, error)

type ServerConfig struct {
	Conn          ConnConfig
	MaxConnection int
	// TLS is accepted for configuration compatibility only; connections are
	// always served in plain text.
	TLS TLSConfig
}

type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

func NewServerConfig() *ServerConfig {
	conf := &ServerConfig{}
	conf.Conn.SendQueueSize = DefaultQueueSize
	conf.Conn.RecvQueueSize = DefaultQueueSize
	conf.Conn.MaxFrameSize = DefaultMaxFrameSize
	return conf
}

type ServerBase struct {
	*serviceBase
	listen ListenFunc
	conf   *ServerConfig
	logger *zap.Logger

	lnLock sync.Mutex
	ln     net.Listener

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewServerBase(ctx context.Context, listen ListenFunc, conf *ServerConfig, logger *zap.Logger) *ServerBase {
	var (
		newctx, cancel = context.WithCancel(ctx)
		connConf       = &ConnConfig{}
	)

	*connConf = conf.Conn

	srv := &ServerBase{
		serviceBase: newServiceBase(connConf),
		listen:      listen,
		conf:        conf,
		logger:      loggerOr(logger).Named("server"),
		ctx:         newctx,
		cancel:      cancel,
	}
	return srv
}

func (srv *ServerBase) ListenAndServe(addr string) error {
	if srv.listen == nil {
		panic("no listen func defined")
	}

	ln, err := srv.listen(addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

func (srv *ServerBase) Serve(l net.Listener) error {
	if srv.conf.MaxConnection > 0 {
		l = netutil.LimitListener(l, srv.conf.MaxConnection)
	}
	if srv.conf.TLS.Enabled {
		srv.logger.Warn("transport encryption is not implemented, serving plain text",
			zap.String("cert_file", srv.conf.TLS.CertFile),
			zap.String("key_file", srv.conf.TLS.KeyFile))
	}

	srv.lnLock.Lock()
	select {
	case <-srv.ctx.Done():
		srv.lnLock.Unlock()
		l.Close()
		return ErrServerClosed
	default:
	}
	srv.ln = l
	srv.lnLock.Unlock()

	defer l.Close()

	srv.logger.Info("server started", zap.Stringer("addr", l.Addr()))

	var (
		tempDelay time.Duration
		conn      net.Conn
		err       error
	)

	for {
		if conn, err = l.Accept(); err != nil {

			select {
			case <-srv.ctx.Done():
				return ErrServerClosed
			default:
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				srv.logger.Warn("accept error, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}

			return err
		}

		tempDelay = 0
		c := NewConnection(srv.ctx, srv, conn)
		srv.wg.Add(1)
		go srv.serve(c)
	}
}

// Addr returns the listening address, or nil before Serve.
func (srv *ServerBase) Addr() net.Addr {
	srv.lnLock.Lock()
	defer srv.lnLock.Unlock()

	if srv.ln == nil {
		return nil
	}
	return srv.ln.Addr()
}

// Close stops accepting, closes every connection and waits for their loops to
// finish.
func (srv *ServerBase) Close() {
	srv.closeOnce.Do(func() {
		srv.lnLock.Lock()
		srv.cancel()
		if srv.ln != nil {
			srv.ln.Close()
		}
		srv.lnLock.Unlock()

		srv.wg.Wait()
		srv.logger.Info("server closed")
	})
}

func (srv *ServerBase) AddRef() {
	srv.wg.Add(1)
}

func (srv *ServerBase) DecRef() {
	srv.wg.Done()
}

func (srv *ServerBase) serve(c *Connection) {
	defer func() {
		if r := recover(); r != nil {
			srv.logger.Error("got panic in serve connection", zap.Any("panic", r), zap.String("stack", getPanicStack()))
		}
		srv.wg.Done()
	}()

	c.Open()
}
