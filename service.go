package ocean

import (
	"sync/atomic"
	"time"
)

// ConnConfig tunes the per-connection loops.
type ConnConfig struct {
	SendQueueSize int
	RecvQueueSize int
	// ReadTimeout bounds a single read; when it fires the handler's OnIdle is
	// called and reading resumes.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
}

const (
	DefaultQueueSize    = 16
	DefaultMaxFrameSize = 1 << 20
)

func (c *ConnConfig) withDefaults() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultQueueSize
	}
	if c.RecvQueueSize <= 0 {
		c.RecvQueueSize = DefaultQueueSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}

// Service is what a Connection needs from the server or client owning it.
type Service interface {
	Protocol() Protocol
	Handler() Handler
	ConnConfig() *ConnConfig
	AddRef()
	DecRef()
	NextConnID() uint64
}

type serviceBase struct {
	nextConnID atomic.Uint64
	conf       *ConnConfig
	protocol   Protocol
	handler    Handler
}

func newServiceBase(conf *ConnConfig) *serviceBase {
	conf.withDefaults()
	return &serviceBase{conf: conf}
}

func (s *serviceBase) SetHandler(h Handler) {
	s.handler = h
}

func (s *serviceBase) Protocol() Protocol {
	return s.protocol
}

func (s *serviceBase) SetProtocol(p Protocol) {
	s.protocol = p
}

func (s *serviceBase) Handler() Handler {
	return s.handler
}

func (s *serviceBase) ConnConfig() *ConnConfig {
	return s.conf
}

func (s *serviceBase) AddRef() {}

func (s *serviceBase) DecRef() {}

func (s *serviceBase) NextConnID() uint64 {
	return s.nextConnID.Add(1)
}
