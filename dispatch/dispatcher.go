package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/stn81/ocean/metrics"
	"github.com/stn81/ocean/packet"
)

// ErrNoTransaction is returned for a packet whose transaction id cannot be read.
var ErrNoTransaction = errors.New("packet has no readable transaction id")

type Dispatcher struct {
	handlers *Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(handlers *Registry, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if handlers == nil {
		handlers = NewDefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: handlers,
		logger:   logger.Named("dispatch"),
		metrics:  m,
	}
}

func (d *Dispatcher) Handlers() *Registry {
	return d.handlers
}

// Dispatch validates p, runs its handler and returns the response. Every
// failure that belongs to p is reported as an error response carrying p's
// transaction id; an error is returned only when p is nil.
func (d *Dispatcher) Dispatch(ctx context.Context, p packet.Packet) (out *packet.OutPacket, err error) {
	id, typeID, verr, ok := inspect(p)
	if !ok {
		return nil, ErrNoTransaction
	}
	begin := time.Now()

	defer func() {
		if out != nil {
			d.metrics.PacketDispatched(typeID, out.Success(), time.Since(begin))
		}
	}()

	if verr != nil {
		d.logger.Warn("packet failed validation",
			zap.String("type", typeID),
			zap.String("transaction_id", id),
			zap.Error(verr))
		return packet.Error(id, verr.Error()), nil
	}

	h, ok := d.handlers.Lookup(typeID)
	if !ok {
		d.logger.Warn("no handler registered", zap.String("type", typeID), zap.String("transaction_id", id))
		return packet.Error(id, "No handler found for packet type: "+typeID), nil
	}

	out, herr := d.invoke(ctx, h, p)
	if herr != nil {
		d.logger.Warn("handler failed",
			zap.String("type", typeID),
			zap.String("transaction_id", id),
			zap.Error(herr))
		return packet.Error(id, "Error processing packet: "+herr.Error()), nil
	}

	d.logger.Debug("packet dispatched",
		zap.String("type", typeID),
		zap.String("transaction_id", id),
		zap.Bool("success", out.Success()),
		zap.Duration("elapsed", time.Since(begin)))
	return out, nil
}

// inspect reads the identity of p and validates it. ok is false for a nil
// packet, including a typed nil whose methods cannot run.
func inspect(p packet.Packet) (id, typeID string, verr error, ok bool) {
	if p == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			id, typeID, verr, ok = "", "", nil, false
		}
	}()

	id, typeID = p.TransactionID(), p.Type()
	verr = p.Validate()
	return id, typeID, verr, true
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, p packet.Packet) (out *packet.OutPacket, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	if out, err = h.Handle(ctx, p); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("handler returned no response")
	}
	return out, nil
}
