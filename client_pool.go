package ocean

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stn81/ocean/packet"
)

var ErrClientPoolClosed = errors.New("client pool closed")

const DefaultPoolMax = 8

type ClientPoolConfig struct {
	// IdleMin clients are dialed by Open.
	IdleMin int `toml:"idle_min"`
	// IdleMax bounds how many returned clients are kept for reuse.
	IdleMax int `toml:"idle_max"`
	// Max bounds the clients owned by the pool, idle or in use.
	Max int `toml:"max"`
}

func (c *ClientPoolConfig) normalize() {
	if c.Max <= 0 {
		c.Max = DefaultPoolMax
	}
	if c.IdleMax <= 0 || c.IdleMax > c.Max {
		c.IdleMax = c.Max
	}
	if c.IdleMin > c.IdleMax {
		c.IdleMin = c.IdleMax
	}
}

// ClientFactory returns a connected client.
type ClientFactory interface {
	NewClient() (Client, error)
}

type ClientFactoryFunc func() (Client, error)

func (f ClientFactoryFunc) NewClient() (Client, error) {
	return f()
}

// ClientPool hands out connected clients, dialing new ones up to Max and
// blocking callers once Max are in use.
type ClientPool struct {
	mu      sync.Mutex
	conf    ClientPoolConfig
	factory ClientFactory
	owned   int
	idle    chan Client
	freed   chan struct{}
	closed  bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClientPool(ctx context.Context, factory ClientFactory, conf ClientPoolConfig) *ClientPool {
	if factory == nil {
		panic("client factory not defined")
	}
	conf.normalize()

	newctx, cancel := context.WithCancel(ctx)
	return &ClientPool{
		conf:    conf,
		factory: factory,
		idle:    make(chan Client, conf.IdleMax),
		freed:   make(chan struct{}, conf.Max),
		ctx:     newctx,
		cancel:  cancel,
	}
}

// Open dials IdleMin clients ahead of use.
func (p *ClientPool) Open() error {
	for i := 0; i < p.conf.IdleMin; i++ {
		c, err := p.dial()
		if err != nil {
			return err
		}
		p.release(c)
	}
	return nil
}

// Close closes the idle clients; clients in use are closed when returned.
func (p *ClientPool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.idle)
		p.mu.Unlock()

		p.cancel()

		for c := range p.idle {
			p.discard(c)
		}
	})
}

// Get returns a client to be given back with Close. When no client can be
// obtained the returned client fails every call with the reason.
func (p *ClientPool) Get() Client {
	c, err := p.acquire()
	if err != nil {
		return &errClient{err}
	}
	return &pooledClient{p: p, Client: c}
}

// Len reports how many clients the pool owns, idle or in use.
func (p *ClientPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owned
}

func (p *ClientPool) acquire() (Client, error) {
	for {
		if p.isClosed() {
			return nil, ErrClientPoolClosed
		}

		// idle clients whose connection dropped are thrown away
		for drained := false; !drained; {
			select {
			case c, ok := <-p.idle:
				if !ok {
					return nil, ErrClientPoolClosed
				}
				if c.IsConnected() {
					return c, nil
				}
				p.discard(c)
			default:
				drained = true
			}
		}

		if c, err, dialed := p.tryDial(); dialed {
			return c, err
		}

		select {
		case <-p.ctx.Done():
			return nil, ErrClientPoolClosed
		case c, ok := <-p.idle:
			if !ok {
				return nil, ErrClientPoolClosed
			}
			if c.IsConnected() {
				return c, nil
			}
			p.discard(c)
		case <-p.freed:
			// a slot was given up, try to dial again
		}
	}
}

// tryDial dials a new client unless Max are already owned.
func (p *ClientPool) tryDial() (c Client, err error, dialed bool) {
	p.mu.Lock()
	if p.owned >= p.conf.Max {
		p.mu.Unlock()
		return nil, nil, false
	}
	p.owned++
	p.mu.Unlock()

	if c, err = p.factory.NewClient(); err != nil {
		p.giveUp()
		return nil, err, true
	}
	return c, nil, true
}

func (p *ClientPool) dial() (Client, error) {
	c, err, dialed := p.tryDial()
	if !dialed {
		return nil, errors.New("client pool is full")
	}
	return c, err
}

// release keeps c for reuse if there is room, and closes it otherwise.
func (p *ClientPool) release(c Client) {
	p.mu.Lock()
	if !p.closed && !c.IsClosed() {
		select {
		case p.idle <- c:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()

	p.discard(c)
}

func (p *ClientPool) discard(c Client) {
	p.giveUp()
	c.Close()
}

// giveUp releases an owned slot and wakes one caller waiting in Get.
func (p *ClientPool) giveUp() {
	p.mu.Lock()
	p.owned--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *ClientPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type pooledClient struct {
	p *ClientPool
	Client
}

// Close gives the client back to the pool; the handle is unusable afterwards.
func (pc *pooledClient) Close() {
	c := pc.Client
	if _, ok := c.(*errClient); ok {
		return
	}

	pc.Client = &errClient{ErrClientClosed}
	pc.p.release(c)
}

type errClient struct {
	err error
}

func (c *errClient) Dial(string) error          { return c.err }
func (c *errClient) Close()                     {}
func (c *errClient) Disconnect()                {}
func (c *errClient) SetHandler(Handler)         {}
func (c *errClient) NextID() string             { return "" }
func (c *errClient) GetConnection() *Connection { return nil }
func (c *errClient) IsClosed() bool             { return true }
func (c *errClient) IsConnected() bool          { return false }

func (c *errClient) Call(context.Context, packet.Packet) (*packet.OutPacket, error) {
	return nil, c.err
}

func (c *errClient) CallWithTimeout(context.Context, packet.Packet, time.Duration) (*packet.OutPacket, error) {
	return nil, c.err
}

func (c *errClient) Send(context.Context, packet.Packet) (*Pending, error) {
	return nil, c.err
}
