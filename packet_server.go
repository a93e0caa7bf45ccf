package ocean

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/stn81/ocean/dispatch"
	"github.com/stn81/ocean/metrics"
	"github.com/stn81/ocean/packet"
	"github.com/stn81/ocean/session"
)

// ServerHandler connects the transport to the session manager and the
// dispatcher: one session per connection, one response per request.
type ServerHandler struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewServerHandler(d *dispatch.Dispatcher, sessions *session.Manager, logger *zap.Logger, m *metrics.Metrics) *ServerHandler {
	return &ServerHandler{
		dispatcher: d,
		sessions:   sessions,
		logger:     loggerOr(logger).Named("handler"),
		metrics:    m,
	}
}

func (h *ServerHandler) OnConnected(c *Connection) error {
	s := h.sessions.CreateSession(c)
	if s.State() == session.StateClosed {
		return ErrServerClosed
	}

	h.logger.Info("client connected",
		zap.Stringer("remote_addr", c.RemoteAddr()),
		zap.String("session_id", s.ID()))
	return nil
}

func (h *ServerHandler) OnDisconnected(c *Connection) {
	if s := h.sessions.RemoveSession(c); s != nil {
		h.logger.Info("client disconnected",
			zap.Stringer("remote_addr", c.RemoteAddr()),
			zap.String("session_id", s.ID()),
			zap.String("stats", c.String()))
	}
}

func (h *ServerHandler) OnIdle(*Connection) error {
	return nil
}

func (h *ServerHandler) OnError(c *Connection, err error) {
	h.logger.Warn("connection error", zap.Stringer("remote_addr", c.RemoteAddr()), zap.Error(err))
}

func (h *ServerHandler) OnMessage(c *Connection, p packet.Packet) error {
	s := h.sessions.Touch(c)
	if s == nil {
		h.logger.Warn("message from connection without session", zap.Stringer("remote_addr", c.RemoteAddr()))
		return nil
	}

	out, err := h.dispatcher.Dispatch(c.Context(), p)
	if err != nil {
		h.logger.Error("dispatch failed", zap.String("session_id", s.ID()), zap.Error(err))
		return nil
	}

	h.logger.Debug("processed packet",
		zap.String("session_id", s.ID()),
		zap.String("transaction_id", p.TransactionID()),
		zap.Bool("success", out.Success()))
	return h.reply(c, out)
}

// OnDecodeError answers frames of an unknown type, or with undecodable data,
// when the request's transaction id could be read; any other bad frame closes
// the connection.
func (h *ServerHandler) OnDecodeError(c *Connection, err error) error {
	var ute *packet.UnknownTypeError
	if errors.As(err, &ute) && ute.TransactionID != "" {
		h.sessions.Touch(c)
		h.metrics.FrameDropped("unknown_type")
		h.logger.Warn("unknown packet type",
			zap.String("type", ute.Type),
			zap.String("transaction_id", ute.TransactionID))
		return h.reply(c, packet.Error(ute.TransactionID, ute.Error()))
	}

	var de *packet.DecodeError
	if errors.As(err, &de) && de.TransactionID != "" {
		h.sessions.Touch(c)
		h.metrics.FrameDropped("bad_data")
		h.logger.Warn("undecodable packet data",
			zap.String("type", de.Type),
			zap.String("transaction_id", de.TransactionID),
			zap.Error(de.Err))
		return h.reply(c, packet.Error(de.TransactionID, "Invalid packet data: "+de.Err.Error()))
	}

	h.metrics.FrameDropped("malformed")
	h.logger.Warn("closing connection after undecodable frame",
		zap.Stringer("remote_addr", c.RemoteAddr()),
		zap.Error(err))
	return err
}

func (h *ServerHandler) reply(c *Connection, out *packet.OutPacket) error {
	err := c.Send(context.Background(), out)

	var ve *packet.ValidationError
	if errors.As(err, &ve) {
		// nothing on the wire can carry a response without a transaction id
		h.metrics.FrameDropped("invalid_response")
		h.logger.Warn("response dropped",
			zap.String("transaction_id", out.TransactionID()),
			zap.String("error_message", out.ErrorMessage()),
			zap.Error(err))
		return nil
	}
	return err
}

// PacketServer is a TCP server answering packets with the handlers registered
// on its dispatcher.
type PacketServer struct {
	*TCPServer
	codec      *packet.Codec
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
}

var _ Server = (*PacketServer)(nil)

type PacketServerOptions struct {
	Types    *packet.TypeRegistry
	Handlers *dispatch.Registry
	Session  session.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func NewPacketServer(ctx context.Context, conf *TCPServerConfig, opts PacketServerOptions) *PacketServer {
	logger := loggerOr(opts.Logger)

	srv := &PacketServer{
		TCPServer:  NewTCPServer(ctx, conf, logger),
		codec:      packet.NewCodec(opts.Types),
		dispatcher: dispatch.NewDispatcher(opts.Handlers, logger, opts.Metrics),
		sessions:   session.NewManager(ctx, opts.Session, logger, opts.Metrics),
	}
	srv.SetProtocol(NewLineProtocol(srv.codec, conf.Conn.MaxFrameSize))
	srv.SetHandler(NewServerHandler(srv.dispatcher, srv.sessions, logger, opts.Metrics))
	return srv
}

func (srv *PacketServer) Codec() *packet.Codec {
	return srv.codec
}

func (srv *PacketServer) Dispatcher() *dispatch.Dispatcher {
	return srv.dispatcher
}

func (srv *PacketServer) Sessions() *session.Manager {
	return srv.sessions
}

// Close stops the server and then the session manager. It is safe to call
// more than once.
func (srv *PacketServer) Close() {
	srv.TCPServer.Close()
	srv.sessions.Shutdown()
}
