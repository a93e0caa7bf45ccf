package ocean

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/stn81/ocean/metrics"
	"github.com/stn81/ocean/packet"
)

var (
	ErrClientClosed         = errors.New("client closed")
	ErrDuplicateTransaction = errors.New("transaction id already in flight")
)

// Pending is the client side of one in-flight request. It is settled exactly
// once, with a response or an error.
type Pending struct {
	id    string
	owner interface{}
	done  chan struct{}
	reply *packet.OutPacket
	err   error
}

func newPending(id string, owner interface{}) *Pending {
	return &Pending{id: id, owner: owner, done: make(chan struct{})}
}

func (p *Pending) TransactionID() string {
	return p.id
}

// Done is closed once the request is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome; it must only be called after Done is closed.
func (p *Pending) Result() (*packet.OutPacket, error) {
	return p.reply, p.err
}

// Wait blocks until the request is settled or ctx ends. Ending ctx does not
// settle the request; see Correlator.Cancel.
func (p *Pending) Wait(ctx context.Context) (*packet.OutPacket, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending) settle(reply *packet.OutPacket, err error) {
	p.reply, p.err = reply, err
	close(p.done)
}

// Correlator matches responses to in-flight requests by transaction id.
// Every operation takes the slot out of the map under the lock and settles it
// after releasing the lock, so each slot is settled by one caller only.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	closed  bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewCorrelator(logger *zap.Logger, m *metrics.Metrics) *Correlator {
	return &Correlator{
		pending: make(map[string]*Pending),
		logger:  loggerOr(logger).Named("correlator"),
		metrics: m,
	}
}

// Register reserves the slot for id. It must be called before the request is
// written so that a fast response always finds its slot.
func (c *Correlator) Register(id string) (*Pending, error) {
	return c.RegisterFor(id, nil)
}

// RegisterFor is Register with the slot tied to owner, typically the
// connection the request is written to, so FailFor can settle it.
func (c *Correlator) RegisterFor(id string, owner interface{}) (*Pending, error) {
	if id == "" {
		return nil, packet.ErrEmptyTransactionID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if _, ok := c.pending[id]; ok {
		return nil, ErrDuplicateTransaction
	}

	p := newPending(id, owner)
	c.pending[id] = p
	c.metrics.PendingAdded()
	return p, nil
}

// Resolve settles the slot matching out. A response for an unknown id is
// logged and discarded; Resolve then returns false.
func (c *Correlator) Resolve(out *packet.OutPacket) bool {
	p := c.take(out.TransactionID())
	if p == nil {
		c.metrics.ResponseDiscarded()
		c.logger.Warn("received response for unknown transaction id",
			zap.String("transaction_id", out.TransactionID()))
		return false
	}

	p.settle(out, nil)
	c.metrics.PendingSettled("resolved")
	return true
}

// Cancel settles the slot for id with err, e.g. when the request could not be
// written or its caller gave up waiting.
func (c *Correlator) Cancel(id string, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}

	p.settle(nil, err)
	c.metrics.PendingSettled("cancelled")
	return true
}

// FailAll settles every in-flight request with err, e.g. when the connection
// is lost. New requests are still accepted.
func (c *Correlator) FailAll(err error) int {
	return c.failAll(err, false)
}

// FailFor settles the in-flight requests tied to owner with err and leaves the
// others alone.
func (c *Correlator) FailFor(owner interface{}, err error) int {
	var owned []*Pending

	c.mu.Lock()
	for id, p := range c.pending {
		if p.owner == owner {
			owned = append(owned, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	c.settleAll(owned, err)
	return len(owned)
}

// Shutdown fails every in-flight request with ErrClientClosed and rejects new
// ones. It is safe to call more than once.
func (c *Correlator) Shutdown() {
	c.failAll(ErrClientClosed, true)
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) failAll(err error, closing bool) int {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[string]*Pending)
	if closing {
		c.closed = true
	}
	c.mu.Unlock()

	list := make([]*Pending, 0, len(all))
	for _, p := range all {
		list = append(list, p)
	}
	c.settleAll(list, err)
	return len(list)
}

func (c *Correlator) settleAll(list []*Pending, err error) {
	for _, p := range list {
		p.settle(nil, err)
		c.metrics.PendingSettled("failed")
	}
	if len(list) > 0 {
		c.logger.Info("failed pending requests", zap.Int("count", len(list)), zap.Error(err))
	}
}

func (c *Correlator) take(id string) *Pending {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return p
}
